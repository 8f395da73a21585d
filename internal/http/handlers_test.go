package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tunnelflight/engine/internal/logging"
)

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubFlusher struct {
	location string
	err      error
	calls    int
}

func (s *stubFlusher) FlushReplay(context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

type stubIssuer struct {
	subjects []string
}

func (s *stubIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	s.subjects = append(s.subjects, subject)
	return "token-for-" + subject, nil
}

func TestHealthHandlerReportsUptime(t *testing.T) {
	start := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	now := start
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return now }})
	now = start.Add(90 * time.Second)

	rr := httptest.NewRecorder()
	handlers.HealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Timestamp     string  `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.UptimeSeconds != 90 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Timestamp != now.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestHealthHandlerUnavailable(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Health: func() error { return errors.New("loop stopped") }})
	rr := httptest.NewRecorder()
	handlers.HealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "loop stopped") {
		t.Fatalf("expected message in body: %s", rr.Body.String())
	}
}

func TestStatsHandlerServesDocument(t *testing.T) {
	handlers := NewHandlerSet(Options{Stats: func() any {
		return map[string]any{"tick": 12, "phase": "flying"}
	}})
	rr := httptest.NewRecorder()
	handlers.StatsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["tick"] != float64(12) || payload["phase"] != "flying" {
		t.Fatalf("unexpected stats %v", payload)
	}

	rr = httptest.NewRecorder()
	NewHandlerSet(Options{}).StatsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a stats source, got %d", rr.Code)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger: logging.NewTestLogger(),
		Metrics: func() Metrics {
			return Metrics{Tick: 600, Score: 4, Alive: true, Clients: 2, Pilots: 1, SnapshotsSent: 1200, AverageFPS: 59.94}
		},
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"# TYPE tunnel_ticks_total counter",
		"tunnel_ticks_total 600",
		"tunnel_score 4",
		"tunnel_alive 1",
		"tunnel_clients 2",
		"tunnel_pilots 1",
		"tunnel_snapshots_sent_total 1200",
		"tunnel_fps 59.94",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestReplayFlushHandlerAuthAndRateLimits(t *testing.T) {
	flusher := &stubFlusher{location: "/tmp/replays/session-0001"}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      flusher,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(method, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/replay/flush", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.ReplayFlushHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(http.MethodGet, "topsecret"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	resp := makeRequest(http.MethodPost, "topsecret")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), flusher.location) {
		t.Fatalf("expected location in body: %s", resp.Body.String())
	}
	if flusher.calls != 1 {
		t.Fatalf("expected flusher invoked once, got %d", flusher.calls)
	}
	if resp := makeRequest(http.MethodPost, "topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestReplayFlushHandlerRequiresConfiguredAdmin(t *testing.T) {
	handlers := NewHandlerSet(Options{Replay: &stubFlusher{}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/replay/flush", nil)
	req.Header.Set("X-Admin-Token", "anything")
	handlers.ReplayFlushHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without an admin token, got %d", rr.Code)
	}
}

func TestPilotTokenHandlerIssuesForSubject(t *testing.T) {
	issuer := &stubIssuer{}
	handlers := NewHandlerSet(Options{Tokens: issuer, AdminToken: "topsecret"})

	issue := func(subject string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pilot/token?subject="+subject, nil)
		req.Header.Set("X-Admin-Token", "topsecret")
		handlers.PilotTokenHandler().ServeHTTP(rr, req)
		return rr
	}

	if rr := issue(""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without subject, got %d", rr.Code)
	}
	rr := issue("ace")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Token   string `json:"token"`
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Token != "token-for-ace" || payload.Subject != "ace" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(issuer.subjects) != 1 {
		t.Fatalf("expected exactly one issue, got %v", issuer.subjects)
	}
}

func TestRegisterMountsEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewHandlerSet(Options{}).Register(mux)
	for _, path := range []string{"/healthz", "/stats", "/metrics", "/replay/flush", "/pilot/token"} {
		if _, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, path, nil)); pattern != path {
			t.Fatalf("expected %s to be registered, got %q", path, pattern)
		}
	}
}

func TestReplayFlushHandlerConflictWhenEmpty(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Replay: ReplayFlusherFunc(func(context.Context) (string, error) {
			return "", ErrNothingToFlush
		}),
		AdminToken: "topsecret",
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/replay/flush", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	handlers.ReplayFlushHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an empty bundle, got %d", rr.Code)
	}
}
