package networking

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/simulation"
)

const (
	// DefaultPingInterval matches the keepalive cadence browsers tolerate behind proxies.
	DefaultPingInterval = 30 * time.Second
	// DefaultSendBuffer bounds the outbound queue per connection.
	DefaultSendBuffer = 32
	// DefaultMaxPayloadBytes caps inbound control messages.
	DefaultMaxPayloadBytes = 4 << 10

	writeWait = 5 * time.Second
)

// ErrHubClosed is returned by operations on a hub that has shut down.
var ErrHubClosed = errors.New("hub closed")

// HubConfig tunes connection admission and delivery.
type HubConfig struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	SendBuffer      int
	BytesPerSecond  float64
}

// Message types sent to clients.
const (
	MessageWelcome  = "welcome"
	MessageSnapshot = "snapshot"
	MessageWarning  = "warning"
)

type welcomeMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Role     Role   `json:"role"`
}

type warningMessage struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	CooldownMs int64  `json:"cooldown_ms,omitempty"`
}

type snapshotMessage struct {
	Type     string              `json:"type"`
	Snapshot simulation.Snapshot `json:"snapshot"`
}

type client struct {
	id       string
	identity Identity
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub accepts websocket pilots and spectators, turns pilot control frames into simulation
// commands and fans snapshots out to every connection.
type Hub struct {
	cfg       HubConfig
	intake    *input.Intake
	auth      Authenticator
	bandwidth *BandwidthRegulator
	metrics   *hubMetrics
	logger    *logging.Logger
	upgrader  websocket.Upgrader
	clock     func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	pilots  int
	closed  bool
	nextID  atomic.Uint64
	wg      sync.WaitGroup
}

// HubOption customises hub construction.
type HubOption func(*Hub)

// WithAuthenticator replaces the default open authenticator.
func WithAuthenticator(a Authenticator) HubOption {
	return func(h *Hub) {
		if a != nil {
			h.auth = a
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *logging.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubClock overrides the clock used for bandwidth accounting.
func WithHubClock(clock func() time.Time) HubOption {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHub builds a hub that feeds pilot payloads through intake.
func NewHub(cfg HubConfig, intake *input.Intake, opts ...HubOption) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	hub := &Hub{
		cfg:     cfg,
		intake:  intake,
		auth:    OpenAuthenticator{},
		metrics: newHubMetrics(),
		logger:  logging.L(),
		clock:   time.Now,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	hub.bandwidth = NewBandwidthRegulator(cfg.BytesPerSecond, hub.clock)
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     hub.checkOrigin,
	}
	return hub
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host) {
			return true
		}
	}
	return false
}

func (h *Hub) full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || (h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients)
}

// ServeHTTP upgrades the request into a pilot or spectator connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	//1.- Refuse before upgrading so the caller sees a plain HTTP status.
	if h.full() {
		h.metrics.refusedConnection()
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		h.metrics.refusedConnection()
		h.logger.Warn("websocket auth rejected", logging.String("remote", r.RemoteAddr), logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.refusedConnection()
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}

	c := &client{
		id:       fmt.Sprintf("client-%d", h.nextID.Add(1)),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	//2.- Capacity is checked again under the lock since other upgrades may have landed.
	if !h.register(c) {
		h.metrics.refusedConnection()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.metrics.connected()
	h.logger.Info("client connected",
		logging.String("client_id", c.id),
		logging.String("role", string(identity.Role)),
		logging.String("subject", identity.Subject),
	)

	welcome, _ := json.Marshal(welcomeMessage{Type: MessageWelcome, ClientID: c.id, Role: identity.Role})
	c.enqueue(welcome)

	h.wg.Add(2)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients) {
		return false
	}
	h.clients[c.id] = c
	if c.identity.Role == RolePilot {
		h.pilots++
	}
	return true
}

func (h *Hub) unregister(c *client, reason string) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		lastPilot := false
		if c.identity.Role == RolePilot {
			h.pilots--
			lastPilot = h.pilots == 0
		}
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
		h.intake.Forget(c.id)
		h.bandwidth.Forget(c.id)
		h.metrics.forget(c.id)

		//1.- Nobody is left holding the controls, so release every thruster.
		if lastPilot {
			h.intake.Push(input.Cut())
		}
		h.logger.Info("client disconnected", logging.String("client_id", c.id), logging.String("reason", reason))
	})
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.unregister(c, "ping failed")
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	reason := "closed"
	defer func() { h.unregister(c, reason) }()

	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", logging.String("client_id", c.id), logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			h.metrics.intake("binary")
			continue
		}
		if h.handleMessage(c, payload) {
			reason = "policy violation"
			return
		}
	}
}

// handleMessage applies one inbound payload and reports whether to drop the connection.
func (h *Hub) handleMessage(c *client, payload []byte) bool {
	if c.identity.Role != RolePilot {
		h.metrics.intake("spectator")
		h.warn(c, "spectator", 0)
		return false
	}
	if h.intake == nil {
		h.metrics.intake("no_intake")
		return false
	}
	outcome := h.intake.Submit(c.id, payload)
	if outcome.Applied {
		h.metrics.intake("")
		return false
	}
	h.metrics.intake(outcome.Reason)
	if outcome.Disconnect {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, outcome.Reason),
			time.Now().Add(writeWait))
		return true
	}
	if outcome.Warn || outcome.Cooldown > 0 {
		h.warn(c, outcome.Reason, outcome.Cooldown)
	}
	return false
}

func (h *Hub) warn(c *client, reason string, cooldown time.Duration) {
	msg, err := json.Marshal(warningMessage{Type: MessageWarning, Reason: reason, CooldownMs: cooldown.Milliseconds()})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

// Publish implements simulation.Sink. The snapshot is encoded once and offered to every
// connection; slow or over-budget connections skip it.
func (h *Hub) Publish(snapshot simulation.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.clients) == 0 {
		return
	}
	msg, err := json.Marshal(snapshotMessage{Type: MessageSnapshot, Snapshot: snapshot})
	if err != nil {
		h.logger.Error("snapshot encode failed", logging.Error(err))
		return
	}
	for id, c := range h.clients {
		if !h.bandwidth.Allow(id, len(msg)) {
			h.metrics.dropped("bandwidth")
			continue
		}
		if !c.enqueue(msg) {
			h.metrics.dropped("backpressure")
			continue
		}
		h.metrics.delivered(id, len(msg))
	}
}

// Stats reports connection and traffic counters.
func (h *Hub) Stats() HubStats {
	stats := h.metrics.snapshot()
	h.mu.RLock()
	stats.Connected = len(h.clients)
	stats.Pilots = h.pilots
	h.mu.RUnlock()
	stats.Bandwidth = h.bandwidth.Usage()
	return stats
}

// Close disconnects every client and waits for their goroutines to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		h.unregister(c, "shutdown")
	}
	h.wg.Wait()
	return nil
}
