package input

import (
	"sync"
	"time"

	"tunnelflight/engine/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (c ClockFunc) Now() time.Time { return c() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// GateConfig controls the freshness and throughput checks applied to control frames.
type GateConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// Decision summarises whether a frame passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame is the metadata the gate needs from a control frame.
type Frame struct {
	ClientID   string
	SequenceID uint64
	SentAt     time.Time
	// Key names the effect of the frame. With a key, the minimum interval only throttles an
	// exact repeat of the last accepted key, so distinct edges such as two releases in the
	// same poll always pass. Frames without a key are throttled unconditionally.
	Key string
}

// FrameOf extracts gate metadata from a decoded control frame.
func FrameOf(clientID string, frame ControlFrame) Frame {
	return Frame{ClientID: clientID, SequenceID: frame.Sequence, SentAt: frame.SentAt()}
}

// DropCounters aggregates per-reason drop counts for one client.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

func (c *DropCounters) add(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		c.Sequence++
	case DropReasonStale:
		c.Stale++
	case DropReasonRateLimited:
		c.RateLimited++
	}
}

type gateClient struct {
	lastSequence uint64
	lastAccepted time.Time
	lastKey      string
	drops        DropCounters
}

// Gate rejects replayed, stale and flooding control frames per client.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	clock   Clock
	logger  *logging.Logger
	clients map[string]*gateClient
}

// GateOption customises gate construction.
type GateOption func(*Gate)

// WithClock overrides the clock used for latency calculations.
func WithClock(clock Clock) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate. Non-positive limits disable the matching check.
func NewGate(cfg GateConfig, logger *logging.Logger, opts ...GateOption) *Gate {
	cfg.MaxAge = max(cfg.MaxAge, 0)
	cfg.MinInterval = max(cfg.MinInterval, 0)
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*gateClient),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies sequencing, freshness and throughput checks to the frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	if g == nil || frame.ClientID == "" {
		return Decision{Accepted: true}
	}
	now := g.clock.Now()
	var delay time.Duration
	if !frame.SentAt.IsZero() {
		delay = max(now.Sub(frame.SentAt), 0)
	}

	g.mu.Lock()
	client := g.clients[frame.ClientID]
	if client == nil {
		client = &gateClient{}
		g.clients[frame.ClientID] = client
	}
	reason := g.judgeLocked(client, frame, now, delay)
	if reason == DropReasonNone {
		client.lastSequence = frame.SequenceID
		client.lastAccepted = now
		client.lastKey = frame.Key
	} else {
		client.drops.add(reason)
	}
	g.mu.Unlock()

	if reason != DropReasonNone && g.logger != nil {
		g.logger.Debug("control frame dropped",
			logging.String("client_id", frame.ClientID),
			logging.String("reason", string(reason)),
			logging.Uint64("seq", frame.SequenceID),
			logging.Duration("delay", delay),
		)
	}
	return Decision{Accepted: reason == DropReasonNone, Reason: reason, Delay: delay}
}

func (g *Gate) judgeLocked(client *gateClient, frame Frame, now time.Time, delay time.Duration) DropReason {
	//1.- Sequence numbers start at one and must strictly increase.
	if frame.SequenceID == 0 {
		return DropReasonSequence
	}
	if client.lastSequence == 0 {
		return DropReasonNone
	}
	if frame.SequenceID <= client.lastSequence {
		return DropReasonSequence
	}
	//2.- Throttle repeats that arrive faster than the minimum interval.
	interval := now.Sub(client.lastAccepted)
	repeat := frame.Key == "" || frame.Key == client.lastKey
	if g.cfg.MinInterval > 0 && interval < g.cfg.MinInterval && repeat {
		return DropReasonRateLimited
	}
	if g.cfg.MaxAge <= 0 {
		return DropReasonNone
	}
	//3.- Prefer the capture timestamp; otherwise infer lateness from the arrival gap.
	if delay > g.cfg.MaxAge {
		return DropReasonStale
	}
	if frame.SentAt.IsZero() && g.cfg.MinInterval > 0 {
		expected := time.Duration(frame.SequenceID-client.lastSequence) * g.cfg.MinInterval
		if interval-expected > g.cfg.MaxAge {
			return DropReasonStale
		}
	}
	return DropReasonNone
}

// Forget clears cached sequencing and counters for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-client drop counters, omitting clean clients.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var snapshot map[string]DropCounters
	for clientID, client := range g.clients {
		if client.drops == (DropCounters{}) {
			continue
		}
		if snapshot == nil {
			snapshot = make(map[string]DropCounters)
		}
		snapshot[clientID] = client.drops
	}
	return snapshot
}
