package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/ingestion"
	"CollateralLedger/internal/observability"
	"CollateralLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxCommandBody = 1 << 20

// HTTPDeps holds everything the HTTP surface calls into.
type HTTPDeps struct {
	Query         *query.QueryService
	Submitter     ingestion.Submitter
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	// SubmitTimeout bounds how long a POSTed command waits for the engine.
	SubmitTimeout time.Duration
}

// HTTPServer serves the JSON API on a grpc-gateway runtime mux.
type HTTPServer struct {
	httpServer *http.Server
	httpAddr   string
	deps       HTTPDeps
	handler    http.Handler
	logger     zerolog.Logger
}

func NewHTTPServer(httpAddr string, deps HTTPDeps) (*HTTPServer, error) {
	if deps.SubmitTimeout <= 0 {
		deps.SubmitTimeout = 10 * time.Second
	}
	s := &HTTPServer{
		httpAddr: httpAddr,
		deps:     deps,
		logger:   observability.NewLogger("http"),
	}

	mux := runtime.NewServeMux()
	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/balances/{account}/{asset}", s.getBalance},
		{http.MethodGet, "/v1/assets", s.listAssets},
		{http.MethodGet, "/v1/assets/{asset}", s.getAsset},
		{http.MethodGet, "/v1/accounts/{account}", s.getAccount},
		{http.MethodGet, "/v1/accounts/{account}/journal", s.getJournal},
		{http.MethodGet, "/v1/transfers/{recipient}", s.getTransfers},
		{http.MethodGet, "/v1/admin/integrity", s.verifyIntegrity},
		{http.MethodPost, "/v1/commands/{type}", s.postCommand},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	s.handler = httpMux

	return s, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (s *HTTPServer) getBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.deps.Query.GetBalance(r.Context(), p["account"], p["asset"])
	s.respond(w, "balance", resp, err)
}

func (s *HTTPServer) getAsset(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.deps.Query.GetAsset(r.Context(), p["asset"])
	s.respond(w, "asset", resp, err)
}

func (s *HTTPServer) listAssets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Query.ListAssets(r.Context())
	s.respond(w, "assets", resp, err)
}

func (s *HTTPServer) getAccount(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := s.deps.Query.GetAccountHealth(r.Context(), p["account"])
	s.respond(w, "account", resp, err)
}

func (s *HTTPServer) getJournal(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, before, err := pageParams(r)
	if err != nil {
		s.respond(w, "journal", nil, err)
		return
	}
	entries, err := s.deps.Query.GetJournalHistory(r.Context(), p["account"], limit, before)
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	s.respond(w, "journal", map[string]interface{}{"account": p["account"], "entries": entries}, err)
}

func (s *HTTPServer) getTransfers(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, _, err := pageParams(r)
	if err != nil {
		s.respond(w, "transfers", nil, err)
		return
	}
	entries, err := s.deps.Query.GetTransfers(r.Context(), p["recipient"], limit)
	if entries == nil {
		entries = []query.TransferEntry{}
	}
	s.respond(w, "transfers", map[string]interface{}{"recipient": p["recipient"], "transfers": entries}, err)
}

func (s *HTTPServer) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Query.VerifyIntegrity(r.Context())
	s.respond(w, "integrity", resp, err)
}

func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, nil, fmt.Errorf("%w: limit %q", ingestion.ErrMalformed, v)
		}
		limit = n
	}
	var before *int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: before %q", ingestion.ErrMalformed, v)
		}
		before = &n
	}
	return limit, before, nil
}

// ============================================================================
// Commands
// ============================================================================

func (s *HTTPServer) postCommand(w http.ResponseWriter, r *http.Request, p map[string]string) {
	callType := p["type"]
	endpoint := "command"

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		s.respond(w, endpoint, nil, fmt.Errorf("%w: read body: %v", ingestion.ErrMalformed, err))
		return
	}

	cmd, err := ingestion.ParseCommand(callType, body, time.Now())
	if err != nil {
		s.respond(w, endpoint, nil, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.SubmitTimeout)
	defer cancel()

	env, err := s.deps.Submitter.Submit(ctx, cmd)
	if err != nil {
		s.respond(w, endpoint, nil, err)
		return
	}
	s.respond(w, endpoint, ingestion.NewPublishableEvent(env), nil)
}

// ============================================================================
// Responses
// ============================================================================

type errorBody struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

func (s *HTTPServer) respond(w http.ResponseWriter, endpoint string, body interface{}, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}

	code := GRPCCode(err)
	httpStatus := runtime.HTTPStatusFromCode(code)
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
	}
	if httpStatus >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		s.logger.Error().Str("endpoint", endpoint).Err(err).Msg("request failed")
	}

	writeJSON(w, httpStatus, errorBody{
		Code:    int(code),
		Reason:  errs.Reason(err),
		Class:   errs.ClassOf(err).String(),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
