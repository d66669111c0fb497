package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"FlightCover/internal/event"
	"FlightCover/internal/observability"
)

// ErrBusClosed is returned when a submit races with shutdown.
var ErrBusClosed = errors.New("core bus closed")

type request struct {
	evt   event.Event
	query func(*InsuranceCore)
	reply chan error
}

// Bus serializes all access to the core. Events from NATS and HTTP, and
// read queries, all funnel through one channel into one goroutine, which
// is what makes the core's single-threaded assumption hold.
type Bus struct {
	core     *InsuranceCore
	requests chan request
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewBus(core *InsuranceCore, depth int, metrics *observability.Metrics) *Bus {
	return &Bus{
		core:     core,
		requests: make(chan request, depth),
		metrics:  metrics,
		logger:   observability.NewLogger("core-bus"),
	}
}

// Run drains the request channel until ctx is cancelled. Must be the only
// goroutine touching the core.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Info().Int("depth", cap(b.requests)).Msg("core bus started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("core bus stopping")
			return
		case req := <-b.requests:
			b.serve(req)
		}
	}
}

func (b *Bus) serve(req request) {
	if b.metrics != nil {
		b.metrics.SetChannelMetrics("bus", len(b.requests), cap(b.requests))
	}

	var err error
	if req.evt != nil {
		err = b.core.ProcessEvent(req.evt)
	} else if req.query != nil {
		req.query(b.core)
	}

	if req.reply != nil {
		req.reply <- err
	}
}

// SubmitEvent enqueues an event and blocks until the core has processed it
// (or rejected it). The returned error is the core's verdict.
func (b *Bus) SubmitEvent(ctx context.Context, evt event.Event) error {
	// A select between a ready buffered send and a closed Done channel picks
	// at random; a dead context must lose every time.
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case b.requests <- request{evt: evt, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitEventAsync enqueues an event without waiting for the verdict.
// Used by the NATS ingest path, where rejection is logged, not returned.
func (b *Bus) SubmitEventAsync(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case b.requests <- request{evt: evt, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		if err := <-reply; err != nil {
			b.logger.Warn().Err(err).
				Str("event_type", evt.EventType().String()).
				Str("idempotency_key", evt.IdempotencyKey()).
				Msg("event rejected")
		}
	}()
	return nil
}

// Query runs fn inside the core goroutine and blocks until it returns.
// fn must copy out whatever it needs; core pointers do not escape.
func (b *Bus) Query(ctx context.Context, fn func(*InsuranceCore)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case b.requests <- request{query: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryTimeout is a convenience wrapper bounding a query's wait.
func (b *Bus) QueryTimeout(timeout time.Duration, fn func(*InsuranceCore)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return b.Query(ctx, fn)
}
