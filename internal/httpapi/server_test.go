package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/reconcile"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

type fakeBackend struct {
	rows       []ledger.Row
	listErr    error
	state      snapshot.State
	stateErr   error
	result     reconcile.Result
	runErr     error
	refreshErr error
	runs       atomic.Int32
}

func (f *fakeBackend) Status() reconcile.Status {
	return reconcile.Status{Loaded: true, Bootstrapped: f.state.Bootstrapped, Entries: len(f.state.Entries)}
}

func (f *fakeBackend) Listing(context.Context) ([]ledger.Row, error) {
	return f.rows, f.listErr
}

func (f *fakeBackend) Snapshot(context.Context) (snapshot.State, error) {
	return f.state.Clone(), f.stateErr
}

func (f *fakeBackend) RunOnce(context.Context) (reconcile.Result, error) {
	f.runs.Add(1)
	return f.result, f.runErr
}

func (f *fakeBackend) Refresh(context.Context) (reconcile.RefreshResult, error) {
	return reconcile.RefreshResult{PassID: "pass_refresh", Edited: 2}, f.refreshErr
}

func newFakeBackend() *fakeBackend {
	state := snapshot.NewState()
	state.Bootstrapped = true
	row := ledger.Row{Primary: "1.1.2024", Description: "rent", Amount: -12000}
	state.Entries[ledger.Identity(row)] = snapshot.Entry{Row: row, Handle: "m1"}
	return &fakeBackend{
		rows: []ledger.Row{
			{Primary: "1.1.2024", Description: "rent", Amount: -12000},
			{Primary: "2.1.2024", Description: "invoice", Amount: 25000.5},
		},
		state:  state,
		result: reconcile.Result{PassID: "pass_1", Fetched: 2, Inserted: 1},
	}
}

func TestHealthIsPublic(t *testing.T) {
	server := NewServer(newFakeBackend())
	rec := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("expected minted correlation id")
	}
}

func TestAuthRequired(t *testing.T) {
	server := NewServer(newFakeBackend())
	rec := doRequest(t, server, request{method: http.MethodGet, path: "/v1/status"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTokenValidation(t *testing.T) {
	server := NewServer(newFakeBackend())
	future := time.Now().Add(time.Hour)
	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"wrong secret", mustTestJWT(t, "other-secret", "ops", []string{ScopeStatusRead}, future), http.StatusUnauthorized},
		{"expired", mustTestJWT(t, "dev-secret", "ops", []string{ScopeStatusRead}, time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"wrong audience", mustTestJWTWithAudience(t, "dev-secret", "ops", []string{ScopeStatusRead}, "billing", future), http.StatusUnauthorized},
		{"missing subject", mustTestJWT(t, "dev-secret", "", []string{ScopeStatusRead}, future), http.StatusUnauthorized},
		{"missing scope", mustTestJWT(t, "dev-secret", "ops", []string{ScopeLedgerRead}, future), http.StatusForbidden},
		{"no scopes", mustTestJWT(t, "dev-secret", "ops", nil, future), http.StatusForbidden},
		{"valid", mustTestJWT(t, "dev-secret", "ops", []string{ScopeStatusRead}, future), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, server, request{
				method:  http.MethodGet,
				path:    "/v1/status",
				headers: map[string]string{"Authorization": "Bearer " + tc.token},
			})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStatusAndSnapshot(t *testing.T) {
	server := NewServer(newFakeBackend())
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopeStatusRead}, time.Now().Add(time.Hour))

	rec := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/status",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_status",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr_status" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}
	var status reconcile.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Bootstrapped || status.Entries != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	rec = doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/snapshot",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	state, err := snapshot.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(state.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(state.Entries))
	}
}

func TestLedgerListing(t *testing.T) {
	server := NewServer(newFakeBackend())
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopeLedgerRead}, time.Now().Add(time.Hour))

	rec := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/ledger",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var payload ledgerResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if payload.Count != 2 || len(payload.Rows) != 2 {
		t.Fatalf("unexpected rows: %+v", payload)
	}
	if payload.Total != "13.000" || payload.TotalRaw != "13000.5" {
		t.Fatalf("unexpected total: %q / %q", payload.Total, payload.TotalRaw)
	}
}

func TestLedgerFetchFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.listErr = &reconcile.FetchError{Err: errors.New("sheets down")}
	server := NewServer(backend)
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopeLedgerRead}, time.Now().Add(time.Hour))

	rec := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/ledger",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["code"] != "fetch_failed" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestPollErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"in flight", reconcile.ErrPassInFlight, http.StatusConflict, "pass_in_flight"},
		{"fetch", &reconcile.FetchError{Err: reconcile.ErrNoRows}, http.StatusBadGateway, "fetch_failed"},
		{"storage", &reconcile.StorageError{Op: "save", Err: errors.New("disk full")}, http.StatusInternalServerError, "storage_failed"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.runErr = tc.err
			server := NewServer(backend)
			token := mustTestJWT(t, "dev-secret", "ops", []string{ScopePollTrigger}, time.Now().Add(time.Hour))
			rec := doRequest(t, server, request{
				method:  http.MethodPost,
				path:    "/v1/poll",
				headers: map[string]string{"Authorization": "Bearer " + token},
			})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if body["code"] != tc.code {
				t.Fatalf("expected code %q, got %v", tc.code, body["code"])
			}
		})
	}
}

func TestPollUsesConfiguredTrigger(t *testing.T) {
	backend := newFakeBackend()
	var triggered atomic.Int32
	server := NewServerWithConfig(backend, ServerConfig{
		Trigger: func(context.Context) (reconcile.Result, error) {
			triggered.Add(1)
			return reconcile.Result{PassID: "pass_trigger", Inserted: 3}, nil
		},
	})
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopePollTrigger}, time.Now().Add(time.Hour))

	rec := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/poll",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result reconcile.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.PassID != "pass_trigger" || result.Inserted != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if triggered.Load() != 1 || backend.runs.Load() != 0 {
		t.Fatalf("expected trigger only, got trigger=%d runOnce=%d", triggered.Load(), backend.runs.Load())
	}
}

func TestRefresh(t *testing.T) {
	server := NewServer(newFakeBackend())
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopePollTrigger}, time.Now().Add(time.Hour))

	rec := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/refresh",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result reconcile.RefreshResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Edited != 2 {
		t.Fatalf("unexpected refresh result: %+v", result)
	}
}

func TestRouteNotFound(t *testing.T) {
	server := NewServer(newFakeBackend())
	for _, r := range []request{
		{method: http.MethodGet, path: "/v1/nope"},
		{method: http.MethodGet, path: "/v1/poll"},
		{method: http.MethodDelete, path: "/v1/status"},
	} {
		rec := doRequest(t, server, r)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", r.method, r.path, rec.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	server := NewServerWithConfig(newFakeBackend(), ServerConfig{
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	})
	token := mustTestJWT(t, "dev-secret", "ops", []string{ScopeStatusRead}, time.Now().Add(time.Hour))
	other := mustTestJWT(t, "dev-secret", "dashboard", []string{ScopeStatusRead}, time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		rec := doRequest(t, server, request{
			method:  http.MethodGet,
			path:    "/v1/status",
			headers: map[string]string{"Authorization": "Bearer " + token},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/status",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	rec = doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/status",
		headers: map[string]string{"Authorization": "Bearer " + other},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other subject to pass, got %d", rec.Code)
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	limiter := &rateLimiter{window: time.Second, max: 1, entries: map[string]rateEntry{}}
	now := time.Unix(1700000000, 0)
	if !limiter.allow("ops", now) {
		t.Fatalf("first request should pass")
	}
	if limiter.allow("ops", now.Add(500*time.Millisecond)) {
		t.Fatalf("second request inside window should be limited")
	}
	if !limiter.allow("ops", now.Add(2*time.Second)) {
		t.Fatalf("request after window should pass")
	}
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func mustTestJWT(t *testing.T, secret, subject string, scopes []string, exp time.Time) string {
	return mustTestJWTWithAudience(t, secret, subject, scopes, tokenAudience, exp)
}

func mustTestJWTWithAudience(t *testing.T, secret, subject string, scopes []string, aud string, exp time.Time) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{
		"alg": "HS256",
		"typ": "JWT",
	})
	if err != nil {
		t.Fatalf("marshal jwt header: %v", err)
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"sub":    subject,
		"scopes": scopes,
		"exp":    exp.Unix(),
		"aud":    aud,
	})
	if err != nil {
		t.Fatalf("marshal jwt payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerBytes)
	p := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signingInput := h + "." + p
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
