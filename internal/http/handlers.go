package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tunnelflight/engine/internal/logging"
)

// DefaultPilotTokenTTL is how long issued pilot tokens stay valid.
const DefaultPilotTokenTTL = time.Hour

// ErrNothingToFlush is returned by a ReplayFlusher when the active bundle is still empty.
var ErrNothingToFlush = errors.New("nothing recorded since the last flush")

// HealthFunc reports a startup or runtime problem, nil when healthy.
type HealthFunc func() error

// StatsFunc assembles the JSON document served on /stats.
type StatsFunc func() any

// Metrics is the flat gauge and counter set rendered on /metrics.
type Metrics struct {
	Tick           uint64
	Score          int
	Alive          bool
	FlightSeconds  float64
	Runs           int
	BestScore      int
	Clients        int
	Pilots         int
	SnapshotsSent  int64
	SnapshotDrops  int64
	CommandsQueued uint64
	CommandsDrops  uint64
	AverageFPS     float64
	MaxFrameMs     float64
	ReplayDumps    int64
	ReplayBytes    int64
}

// MetricsFunc samples Metrics on demand.
type MetricsFunc func() Metrics

// ReplayFlusher closes the active replay bundle and returns where it was written.
type ReplayFlusher interface {
	FlushReplay(ctx context.Context) (string, error)
}

// ReplayFlusherFunc adapts a function into a ReplayFlusher.
type ReplayFlusherFunc func(ctx context.Context) (string, error)

// FlushReplay implements ReplayFlusher.
func (f ReplayFlusherFunc) FlushReplay(ctx context.Context) (string, error) { return f(ctx) }

// TokenIssuer mints pilot tokens.
type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Health      HealthFunc
	Stats       StatsFunc
	Metrics     MetricsFunc
	Replay      ReplayFlusher
	Tokens      TokenIssuer
	TokenTTL    time.Duration
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational endpoints of the tunnel server.
type HandlerSet struct {
	logger      *logging.Logger
	health      HealthFunc
	stats       StatsFunc
	metrics     MetricsFunc
	replay      ReplayFlusher
	tokens      TokenIssuer
	tokenTTL    time.Duration
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = DefaultPilotTokenTTL
	}
	return &HandlerSet{
		logger:      logger,
		health:      opts.Health,
		stats:       opts.Stats,
		metrics:     opts.Metrics,
		replay:      opts.Replay,
		tokens:      opts.Tokens,
		tokenTTL:    ttl,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.HealthHandler())
	mux.HandleFunc("/stats", h.StatsHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/flush", h.ReplayFlushHandler())
	mux.HandleFunc("/pilot/token", h.PilotTokenHandler())
}

// HealthHandler reports liveness and uptime; a failing health check answers 503.
func (h *HandlerSet) HealthHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Timestamp     string  `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		now := h.now()
		resp := response{
			Status:        "ok",
			UptimeSeconds: now.Sub(h.started).Seconds(),
			Timestamp:     now.UTC().Format(time.RFC3339Nano),
		}
		status := http.StatusOK
		if h.health != nil {
			if err := h.health(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler serves the aggregated diagnostics document.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.stats == nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, h.stats())
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m Metrics
		if h.metrics != nil {
			m = h.metrics()
		}
		alive := 0
		if m.Alive {
			alive = 1
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		gauge(w, "tunnel_uptime_seconds", "Server uptime in seconds.", fmt.Sprintf("%.0f", h.now().Sub(h.started).Seconds()))
		counter(w, "tunnel_ticks_total", "Simulation ticks since start.", fmt.Sprint(m.Tick))
		gauge(w, "tunnel_score", "Score of the current run.", fmt.Sprint(m.Score))
		gauge(w, "tunnel_alive", "Whether the craft is alive.", fmt.Sprint(alive))
		gauge(w, "tunnel_flight_seconds", "Flight time of the current run.", fmt.Sprintf("%.3f", m.FlightSeconds))
		counter(w, "tunnel_runs_total", "Completed runs this session.", fmt.Sprint(m.Runs))
		gauge(w, "tunnel_best_score", "Best score this session.", fmt.Sprint(m.BestScore))
		gauge(w, "tunnel_clients", "Connected websocket clients.", fmt.Sprint(m.Clients))
		gauge(w, "tunnel_pilots", "Connected websocket pilots.", fmt.Sprint(m.Pilots))
		counter(w, "tunnel_snapshots_sent_total", "Snapshots queued to clients.", fmt.Sprint(m.SnapshotsSent))
		counter(w, "tunnel_snapshots_dropped_total", "Snapshots skipped for slow or throttled clients.", fmt.Sprint(m.SnapshotDrops))
		counter(w, "tunnel_commands_received_total", "Commands pushed into the intake queue.", fmt.Sprint(m.CommandsQueued))
		counter(w, "tunnel_commands_dropped_total", "Commands dropped by a full intake queue.", fmt.Sprint(m.CommandsDrops))
		gauge(w, "tunnel_fps", "Average frames per second over the stats window.", fmt.Sprintf("%.2f", m.AverageFPS))
		gauge(w, "tunnel_frame_max_ms", "Longest frame interval in the stats window.", fmt.Sprintf("%.3f", m.MaxFrameMs))
		counter(w, "tunnel_replay_dumps_total", "Replay bundles closed.", fmt.Sprint(m.ReplayDumps))
		gauge(w, "tunnel_replay_bytes", "Bytes held by retained replay bundles.", fmt.Sprint(m.ReplayBytes))
	}
}

func gauge(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n", name, help, name, name, value)
}

func counter(w http.ResponseWriter, name, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %s\n", name, help, name, name, value)
}

// ReplayFlushHandler authorises and closes the active replay bundle.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger, ok := h.admit(w, r, "replay_flush")
		if !ok {
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay flush denied: no recorder configured")
			http.Error(w, "replay recording is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.FlushReplay(r.Context())
		if errors.Is(err, ErrNothingToFlush) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

// PilotTokenHandler issues a pilot token for the subject query parameter.
func (h *HandlerSet) PilotTokenHandler() http.HandlerFunc {
	type response struct {
		Token     string `json:"token"`
		Subject   string `json:"subject"`
		ExpiresAt string `json:"expires_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger, ok := h.admit(w, r, "pilot_token")
		if !ok {
			return
		}
		if h.tokens == nil {
			http.Error(w, "pilot tokens are not configured", http.StatusServiceUnavailable)
			return
		}
		subject := strings.TrimSpace(r.URL.Query().Get("subject"))
		if subject == "" {
			http.Error(w, "subject is required", http.StatusBadRequest)
			return
		}
		token, err := h.tokens.Issue(subject, h.tokenTTL)
		if err != nil {
			reqLogger.Error("pilot token issue failed", logging.Error(err))
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("pilot token issued", logging.String("subject", subject))
		writeJSON(w, http.StatusOK, response{
			Token:     token,
			Subject:   subject,
			ExpiresAt: h.now().Add(h.tokenTTL).UTC().Format(time.RFC3339),
		})
	}
}

// admit enforces POST, the admin token and the rate limiter for privileged handlers.
func (h *HandlerSet) admit(w http.ResponseWriter, r *http.Request, handler string) (*logging.Logger, bool) {
	reqLogger := h.logger.With(
		logging.String("handler", handler),
		logging.String("remote_addr", r.RemoteAddr),
	)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return reqLogger, false
	}
	if h.adminToken == "" {
		reqLogger.Warn("request denied: admin auth disabled")
		http.Error(w, "admin authentication not configured", http.StatusForbidden)
		return reqLogger, false
	}
	if !h.authorise(r) {
		reqLogger.Warn("request denied: unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return reqLogger, false
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow() {
		reqLogger.Warn("request denied: rate limit exceeded")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return reqLogger, false
	}
	return reqLogger, true
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
