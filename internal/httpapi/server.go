// Package httpapi exposes reconciler status and on-demand passes over
// HTTP, guarded by HS256 bearer tokens.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/idgen"
	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/reconcile"
	"github.com/agentworkforce/ledgerrelay/internal/render"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

const (
	ScopeStatusRead  = "status:read"
	ScopeLedgerRead  = "ledger:read"
	ScopePollTrigger = "poll:trigger"
)

// Backend is the slice of the reconcile engine the API serves.
type Backend interface {
	Status() reconcile.Status
	Listing(ctx context.Context) ([]ledger.Row, error)
	Snapshot(ctx context.Context) (snapshot.State, error)
	RunOnce(ctx context.Context) (reconcile.Result, error)
	Refresh(ctx context.Context) (reconcile.RefreshResult, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	// Trigger replaces Backend.RunOnce for POST /v1/poll, typically the
	// poller's detached trigger.
	Trigger func(ctx context.Context) (reconcile.Result, error)
	Logger  Logger
}

type Server struct {
	backend     Backend
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type ledgerResponse struct {
	Rows     []ledger.Row `json:"rows"`
	Count    int          `json:"count"`
	Total    string       `json:"total"`
	TotalRaw string       `json:"totalRaw"`
}

func NewServer(backend Backend) *Server {
	return NewServerWithConfig(backend, ServerConfig{})
}

func NewServerWithConfig(backend Backend, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.Trigger == nil {
		cfg.Trigger = backend.RunOnce
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		backend:     backend,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var requiredScope, route string
	switch path := strings.TrimSuffix(r.URL.Path, "/"); {
	case path == "/v1/status" && r.Method == http.MethodGet:
		requiredScope = ScopeStatusRead
		route = "status"
	case path == "/v1/snapshot" && r.Method == http.MethodGet:
		requiredScope = ScopeStatusRead
		route = "snapshot"
	case path == "/v1/ledger" && r.Method == http.MethodGet:
		requiredScope = ScopeLedgerRead
		route = "ledger"
	case path == "/v1/poll" && r.Method == http.MethodPost:
		requiredScope = ScopePollTrigger
		route = "poll"
	case path == "/v1/refresh" && r.Method == http.MethodPost:
		requiredScope = ScopePollTrigger
		route = "refresh"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	now := time.Now().UTC()
	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, now)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Subject, now) {
		retryAfter := max(int(math.Ceil(s.rateLimiter.window.Seconds())), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch route {
	case "status":
		writeJSON(w, http.StatusOK, s.backend.Status())
	case "snapshot":
		s.handleSnapshot(w, r, correlationID)
	case "ledger":
		s.handleLedger(w, r, correlationID)
	case "poll":
		s.handlePoll(w, r, claims, correlationID)
	case "refresh":
		s.handleRefresh(w, r, claims, correlationID)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, correlationID string) {
	state, err := s.backend.Snapshot(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	body, err := snapshot.Encode(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request, correlationID string) {
	rows, err := s.backend.Listing(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	total := render.Total(rows)
	writeJSON(w, http.StatusOK, ledgerResponse{
		Rows:     rows,
		Count:    len(rows),
		Total:    render.FormatDecimal(total),
		TotalRaw: total.String(),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	s.logf("poll requested by %s (%s)", claims.Subject, correlationID)
	result, err := s.cfg.Trigger(r.Context())
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	s.logf("refresh requested by %s (%s)", claims.Subject, correlationID)
	result, err := s.backend.Refresh(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeEngineError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error, correlationID string) {
	var fetchErr *reconcile.FetchError
	var storageErr *reconcile.StorageError
	switch {
	case errors.Is(err, reconcile.ErrPassInFlight):
		writeError(w, http.StatusConflict, "pass_in_flight", "a reconciliation pass is already running", correlationID)
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, "fetch_failed", err.Error(), correlationID)
	case errors.As(err, &storageErr):
		s.logf("storage failure (%s): %v", correlationID, err)
		writeError(w, http.StatusInternalServerError, "storage_failed", err.Error(), correlationID)
	default:
		s.logf("request failed (%s): %v", correlationID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

// getCorrelationID echoes the caller's X-Correlation-Id or mints one.
func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return idgen.Request()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
