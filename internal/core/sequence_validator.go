package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition. Gaps are
// tolerated (upstream consumers see filtered subjects), regressions of new
// events are rejected, and regressions of already-processed events pass
// through so the idempotency layer can suppress them quietly.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceValidator struct {
	maxSeen map[string]int64 // partition -> highest accepted sequence
	metrics *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		maxSeen: make(map[string]int64),
		metrics: NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering for a partition
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	max, seen := sv.maxSeen[partition]

	if seen && sourceSequence < max {
		if isDuplicate {
			// Re-delivery of an already-processed event
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, max_seen=%d, got=%d",
			partition, max, sourceSequence)
	}

	if seen && sourceSequence > max+1 {
		// Gap — count it and accept
		sv.metrics.RecordGap(partition)
	}

	if !seen || sourceSequence > max {
		sv.maxSeen[partition] = sourceSequence
	}
	return nil
}

// GetMaxSeen returns the highest accepted sequence for a partition
func (sv *SequenceValidator) GetMaxSeen(partition string) int64 {
	return sv.maxSeen[partition]
}

// RestorePartition reinstates a partition's high-water mark from a snapshot
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.maxSeen[partition] = seq
}

// GetAllPartitions returns every partition's high-water mark for snapshotting
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.maxSeen))
	for k, v := range sv.maxSeen {
		out[k] = v
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
