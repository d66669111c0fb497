package server

import (
	"FlightCover/internal/core"
	"FlightCover/internal/event"
	"FlightCover/internal/observability"
	"FlightCover/internal/projection"
	"FlightCover/internal/query"
	"FlightCover/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// ServerDeps holds everything the HTTP handlers need.
type ServerDeps struct {
	Bus           *core.Bus
	Config        core.Config
	QueryService  *query.QueryService
	PayoutHistory *projection.PayoutHistoryProjection // Optional; nil disables in-memory payout lookups
	DB            *sql.DB                             // Optional; nil disables the projection rebuild endpoint
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// HTTPServer serves the command and query API. Mutating endpoints submit
// through the command bus and block until the core has accepted or rejected
// the event; reads either hit the core (live) or the projections (paged
// history).
type HTTPServer struct {
	deps   *ServerDeps
	server *http.Server
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	s := &HTTPServer{deps: deps}

	router := httprouter.New()

	router.POST("/v1/subscriptions", s.handleSubscribe)
	router.POST("/v1/flights", s.handleRegisterFlight)
	router.POST("/v1/oracle/status", s.handleStatusReport)
	router.POST("/v1/admin/deposits", s.handleDeposit)
	router.POST("/v1/admin/settlements", s.handleSettlePayout)
	router.PUT("/v1/admin/oracle", s.handleRotateOracle)
	router.POST("/v1/admin/projections/rebuild", s.handleRebuildProjections)

	router.GET("/v1/subscribers/:id/subscription", s.handleGetSubscription)
	router.GET("/v1/subscribers/:id/policies", s.handleGetPolicies)
	router.GET("/v1/subscribers/:id/payouts", s.handleGetPayouts)
	router.GET("/v1/subscribers/:id/payouts/recent", s.handleGetRecentPayouts)
	router.GET("/v1/subscribers/:id/journal", s.handleGetJournal)
	router.GET("/v1/flights/:id/status", s.handleGetFlightStatus)
	router.GET("/v1/flights/:id/payouts", s.handleGetFlightPayouts)
	router.GET("/v1/pool", s.handleGetPool)
	router.GET("/v1/admin/integrity", s.handleVerifyIntegrity)

	router.HandlerFunc(http.MethodGet, "/healthz", deps.HealthChecker.LivenessHandler)
	router.HandlerFunc(http.MethodGet, "/readyz", deps.HealthChecker.ReadinessHandler)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *HTTPServer) Router() http.Handler {
	return s.server.Handler
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Command handlers
// ============================================================================

type subscribeRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Payment      int64  `json:"payment"`
}

type subscribeResponse struct {
	SubscriberID uuid.UUID `json:"subscriber_id"`
	Active       bool      `json:"active"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req subscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	subscriber, ok := s.parseID(w, req.SubscriberID, "subscriber_id")
	if !ok {
		return
	}

	now := time.Now().UTC()
	evt := &event.SubscribeRequested{
		RequestID:  uuid.New(),
		Subscriber: subscriber,
		Payment:    req.Payment,
		Timestamp:  now,
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}

	// Expiry is a pure function of the deployment config; no read-back.
	s.writeJSON(w, http.StatusCreated, subscribeResponse{
		SubscriberID: subscriber,
		Active:       true,
		ExpiresAt:    now.Add(s.deps.Config.SubscriptionDuration),
	})
}

type registerFlightRequest struct {
	SubscriberID      string `json:"subscriber_id"`
	FlightID          string `json:"flight_id"`
	FlightTimestampUs int64  `json:"flight_timestamp_us"`
}

type registerFlightResponse struct {
	PolicyID     uuid.UUID `json:"policy_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	FlightID     string    `json:"flight_id"`
	Departure    time.Time `json:"departure"`
}

func (s *HTTPServer) handleRegisterFlight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerFlightRequest
	if !s.decode(w, r, &req) {
		return
	}
	subscriber, ok := s.parseID(w, req.SubscriberID, "subscriber_id")
	if !ok {
		return
	}
	if req.FlightID == "" {
		s.writeErrorCode(w, http.StatusBadRequest, "invalid_flight_id", "flight_id is required")
		return
	}

	departure := time.UnixMicro(req.FlightTimestampUs).UTC()
	evt := &event.FlightRegistered{
		RequestID:  uuid.New(),
		Subscriber: subscriber,
		Flight:     req.FlightID,
		Departure:  departure,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}

	// Policy ids are derived from the request id, so the committed policy
	// is known without a read back.
	s.writeJSON(w, http.StatusCreated, registerFlightResponse{
		PolicyID:     evt.RequestID,
		SubscriberID: subscriber,
		FlightID:     req.FlightID,
		Departure:    departure,
	})
}

type statusReportRequest struct {
	OracleID       string `json:"oracle_id"`
	FlightID       string `json:"flight_id"`
	Delayed        bool   `json:"delayed"`
	ReportSequence int64  `json:"report_sequence"`
}

type statusReportResponse struct {
	FlightID       string `json:"flight_id"`
	Delayed        bool   `json:"delayed"`
	ReportSequence int64  `json:"report_sequence"`
	PoolBalance    int64  `json:"pool_balance"`
}

func (s *HTTPServer) handleStatusReport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req statusReportRequest
	if !s.decode(w, r, &req) {
		return
	}
	oracle, ok := s.parseID(w, req.OracleID, "oracle_id")
	if !ok {
		return
	}
	if req.FlightID == "" {
		s.writeErrorCode(w, http.StatusBadRequest, "invalid_flight_id", "flight_id is required")
		return
	}

	evt := &event.FlightStatusReported{
		Oracle:         oracle,
		Flight:         req.FlightID,
		Delayed:        req.Delayed,
		ReportSequence: req.ReportSequence,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}

	resp := statusReportResponse{
		FlightID:       req.FlightID,
		Delayed:        req.Delayed,
		ReportSequence: req.ReportSequence,
	}
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		resp.PoolBalance = c.PoolBalance()
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type depositRequest struct {
	CallerID string `json:"caller_id"`
	Amount   int64  `json:"amount"`
}

type depositResponse struct {
	DepositID   uuid.UUID `json:"deposit_id"`
	PoolBalance int64     `json:"pool_balance"`
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.CallerID, "caller_id")
	if !ok {
		return
	}

	evt := &event.FundsDeposited{
		DepositID: uuid.New(),
		Depositor: caller,
		Amount:    req.Amount,
		Timestamp: time.Now().UTC(),
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}

	resp := depositResponse{DepositID: evt.DepositID}
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		resp.PoolBalance = c.PoolBalance()
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

type settleRequest struct {
	CallerID     string `json:"caller_id"`
	SubscriberID string `json:"subscriber_id"`
	Amount       int64  `json:"amount"`
}

type settleResponse struct {
	SettlementID   uuid.UUID `json:"settlement_id"`
	SubscriberID   uuid.UUID `json:"subscriber_id"`
	Amount         int64     `json:"amount"`
	PayableBalance int64     `json:"payable_balance"`
}

func (s *HTTPServer) handleSettlePayout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.CallerID, "caller_id")
	if !ok {
		return
	}
	subscriber, ok := s.parseID(w, req.SubscriberID, "subscriber_id")
	if !ok {
		return
	}

	evt := &event.PayoutSettled{
		SettlementID: uuid.New(),
		Admin:        caller,
		Subscriber:   subscriber,
		Amount:       req.Amount,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}

	resp := settleResponse{
		SettlementID: evt.SettlementID,
		SubscriberID: subscriber,
		Amount:       req.Amount,
	}
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		resp.PayableBalance = c.PayableBalance(subscriber)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleRebuildProjections truncates and rebuilds the balance projection
// from the journal log. Domain tables refill on the next full replay.
func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.DB == nil {
		s.writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "projection store not configured")
		return
	}
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

type rotateOracleRequest struct {
	CallerID string `json:"caller_id"`
	OracleID string `json:"oracle_id"`
}

func (s *HTTPServer) handleRotateOracle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req rotateOracleRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.CallerID, "caller_id")
	if !ok {
		return
	}
	newOracle, ok := s.parseID(w, req.OracleID, "oracle_id")
	if !ok {
		return
	}

	evt := &event.OracleRotated{
		RequestID: uuid.New(),
		Admin:     caller,
		NewOracle: newOracle,
		Timestamp: time.Now().UTC(),
	}
	if err := s.deps.Bus.SubmitEvent(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"oracle_id": newOracle.String()})
}

// ============================================================================
// Query handlers
// ============================================================================

type liveSubscriptionResponse struct {
	SubscriberID   uuid.UUID `json:"subscriber_id"`
	Active         bool      `json:"active"`
	PolicyCount    int       `json:"policy_count"`
	PayableBalance int64     `json:"payable_balance"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// handleGetSubscription answers from live core state by default: the active
// flag reflects wall-clock expiry even before the lazy durable flip has run.
// ?source=projection answers from Postgres instead, with the projection
// watermark as as_of_sequence.
func (s *HTTPServer) handleGetSubscription(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subscriber, ok := s.parseID(w, ps.ByName("id"), "subscriber_id")
	if !ok {
		return
	}

	if fromProjection(r) {
		sub, err := s.deps.QueryService.GetSubscription(r.Context(), subscriber)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if sub == nil {
			s.writeErrorCode(w, http.StatusNotFound, "subscription_not_found",
				fmt.Sprintf("subscriber %s has never subscribed", subscriber))
			return
		}
		s.writeJSON(w, http.StatusOK, sub)
		return
	}

	var resp liveSubscriptionResponse
	resp.SubscriberID = subscriber
	now := time.Now().UTC()
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		resp.Active = c.IsSubscribed(subscriber, now)
		resp.PolicyCount = c.PolicyCount(subscriber)
		resp.PayableBalance = c.PayableBalance(subscriber)
		resp.AsOfSequence = c.GetSequence() - 1
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type policyDTO struct {
	PolicyID     uuid.UUID `json:"policy_id"`
	FlightID     string    `json:"flight_id"`
	Departure    time.Time `json:"departure"`
	PaidOut      bool      `json:"paid_out"`
	RegisteredAt time.Time `json:"registered_at"`
}

type policiesResponse struct {
	SubscriberID uuid.UUID   `json:"subscriber_id"`
	Policies     []policyDTO `json:"policies"`
	Count        int         `json:"count"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

func (s *HTTPServer) handleGetPolicies(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subscriber, ok := s.parseID(w, ps.ByName("id"), "subscriber_id")
	if !ok {
		return
	}

	if fromProjection(r) {
		limit, afterSeq := paging(r, 100)
		policies, err := s.deps.QueryService.GetPolicies(r.Context(), subscriber, limit, afterSeq)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if policies == nil {
			policies = []query.PolicyResponse{}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
		return
	}

	resp := policiesResponse{SubscriberID: subscriber, Policies: []policyDTO{}}
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		for _, p := range c.Policies(subscriber) {
			resp.Policies = append(resp.Policies, policyDTO{
				PolicyID:     p.PolicyID,
				FlightID:     p.FlightID,
				Departure:    p.Departure,
				PaidOut:      p.PaidOut,
				RegisteredAt: p.RegisteredAt,
			})
		}
		resp.AsOfSequence = c.GetSequence() - 1
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp.Count = len(resp.Policies)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetPayouts(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subscriber, ok := s.parseID(w, ps.ByName("id"), "subscriber_id")
	if !ok {
		return
	}

	limit, afterSeq := paging(r, 100)
	payouts, err := s.deps.QueryService.GetPayouts(r.Context(), subscriber, limit, afterSeq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if payouts == nil {
		payouts = []query.PayoutResponse{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

func (s *HTTPServer) handleGetJournal(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	subscriber, ok := s.parseID(w, ps.ByName("id"), "subscriber_id")
	if !ok {
		return
	}

	limit, afterSeq := paging(r, 100)
	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), subscriber, limit, afterSeq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"journals": entries})
}

type flightStatusDTO struct {
	FlightID   string    `json:"flight_id"`
	Delayed    bool      `json:"delayed"`
	ReportSeq  int64     `json:"report_seq"`
	ReportedAt time.Time `json:"reported_at"`
}

func (s *HTTPServer) handleGetFlightStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	flightID := ps.ByName("id")

	if fromProjection(r) {
		st, err := s.deps.QueryService.GetFlightStatus(r.Context(), flightID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if st == nil {
			s.writeErrorCode(w, http.StatusNotFound, "flight_not_found",
				fmt.Sprintf("no status report for flight %s", flightID))
			return
		}
		s.writeJSON(w, http.StatusOK, st)
		return
	}

	var status *state.FlightStatus
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		status = c.FlightStatus(flightID)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status == nil {
		s.writeErrorCode(w, http.StatusNotFound, "flight_not_found",
			fmt.Sprintf("no status report for flight %s", flightID))
		return
	}
	s.writeJSON(w, http.StatusOK, flightStatusDTO{
		FlightID:   status.FlightID,
		Delayed:    status.Delayed,
		ReportSeq:  status.ReportSeq,
		ReportedAt: status.ReportedAt,
	})
}

// handleGetRecentPayouts answers from the in-memory payout history, which
// trails the core by whatever the projection channel has buffered. The
// durable per-subscriber history lives one path up.
func (s *HTTPServer) handleGetRecentPayouts(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.deps.PayoutHistory == nil {
		s.writeErrorCode(w, http.StatusNotFound, "not_found", "payout history not available")
		return
	}
	subscriber, ok := s.parseID(w, ps.ByName("id"), "subscriber_id")
	if !ok {
		return
	}
	limit, _ := paging(r, 100)
	entries := s.deps.PayoutHistory.QueryBySubscriber(subscriber.String(), limit)
	s.writeJSON(w, http.StatusOK, map[string]any{"payouts": entries})
}

// handleGetFlightPayouts answers from the in-memory payout history, which
// trails the core by whatever the projection channel has buffered.
func (s *HTTPServer) handleGetFlightPayouts(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.deps.PayoutHistory == nil {
		s.writeErrorCode(w, http.StatusNotFound, "not_found", "payout history not available")
		return
	}
	limit, _ := paging(r, 100)
	entries := s.deps.PayoutHistory.QueryByFlight(ps.ByName("id"), limit)
	s.writeJSON(w, http.StatusOK, map[string]any{"payouts": entries})
}

func (s *HTTPServer) handleGetPool(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if fromProjection(r) {
		pool, err := s.deps.QueryService.GetPoolBalance(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, pool)
		return
	}

	var resp query.PoolResponse
	err := s.deps.Bus.Query(r.Context(), func(c *core.InsuranceCore) {
		resp.Balance = c.PoolBalance()
		resp.AsOfSequence = c.GetSequence() - 1
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps domain sentinels to stable HTTP statuses and error codes.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, state.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, state.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, state.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, state.ErrWrongPremium):
		status, code = http.StatusPaymentRequired, "wrong_premium"
	case errors.Is(err, state.ErrInsufficientPool):
		status, code = http.StatusPaymentRequired, "insufficient_pool"
	case errors.Is(err, state.ErrInsufficientPayable):
		status, code = http.StatusPaymentRequired, "insufficient_payable"
	case errors.Is(err, state.ErrAlreadySubscribed):
		status, code = http.StatusConflict, "already_subscribed"
	case errors.Is(err, state.ErrDuplicateFlight):
		status, code = http.StatusConflict, "duplicate_flight"
	case errors.Is(err, state.ErrSubscriptionExpired):
		status, code = http.StatusPaymentRequired, "subscription_expired"
	case errors.Is(err, state.ErrNoActiveSubscription):
		status, code = http.StatusPaymentRequired, "no_active_subscription"
	case errors.Is(err, core.ErrBusClosed):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	if status == http.StatusInternalServerError {
		s.deps.Logger.Error().Err(err).Msg("request failed")
	}
	s.writeErrorCode(w, status, code, err.Error())
}

func (s *HTTPServer) writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.deps.Logger.Error().Err(err).Msg("encode response")
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "bad_request", "read body: "+err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeErrorCode(w, http.StatusBadRequest, "bad_request", "decode body: "+err.Error())
		return false
	}
	return true
}

func (s *HTTPServer) parseID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		s.writeErrorCode(w, http.StatusBadRequest, "invalid_address",
			fmt.Sprintf("%s must be a non-nil UUID", field))
		return uuid.Nil, false
	}
	return id, true
}

// fromProjection selects the Postgres-backed read path over the live core.
func fromProjection(r *http.Request) bool {
	return r.URL.Query().Get("source") == "projection"
}

func paging(r *http.Request, defaultLimit int) (int, *int64) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var afterSeq *int64
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			afterSeq = &n
		}
	}
	return limit, afterSeq
}
