package input

import (
	"errors"
	"sync"
	"time"

	"tunnelflight/engine/internal/logging"
)

// ValidationReason identifies why a control payload was rejected.
type ValidationReason string

const (
	ValidationReasonNone           ValidationReason = ""
	ValidationReasonMalformed      ValidationReason = "malformed"
	ValidationReasonUnknownAction  ValidationReason = "unknown_action"
	ValidationReasonUnknownEngine  ValidationReason = "unknown_engine"
	ValidationReasonUnknownButton  ValidationReason = "unknown_button"
	ValidationReasonCooldownActive ValidationReason = "cooldown_active"
)

// ReasonFor classifies a ParseFrame error.
func ReasonFor(err error) ValidationReason {
	switch {
	case err == nil:
		return ValidationReasonNone
	case errors.Is(err, ErrUnknownAction):
		return ValidationReasonUnknownAction
	case errors.Is(err, ErrUnknownEngine):
		return ValidationReasonUnknownEngine
	case errors.Is(err, ErrUnknownButton):
		return ValidationReasonUnknownButton
	default:
		return ValidationReasonMalformed
	}
}

// ValidatorConfig configures the invalid-burst cooldown policy.
type ValidatorConfig struct {
	InvalidBurstLimit  int
	InvalidBurstWindow time.Duration
	CooldownDuration   time.Duration
	MaxCooldownStrikes int
}

// DefaultValidatorConfig is the baseline for production traffic.
var DefaultValidatorConfig = ValidatorConfig{
	InvalidBurstLimit:  5,
	InvalidBurstWindow: time.Second,
	CooldownDuration:   500 * time.Millisecond,
	MaxCooldownStrikes: 3,
}

// ValidationDecision summarises the result of a Validate call.
type ValidationDecision struct {
	Accepted   bool
	Apply      bool
	Command    Command
	Frame      ControlFrame
	Reason     ValidationReason
	Warn       bool
	Disconnect bool
	Cooldown   time.Duration
}

// ValidationCounters aggregates per-client violation statistics.
type ValidationCounters struct {
	Violations  map[ValidationReason]uint64 `json:"violations,omitempty"`
	Cooldowns   uint64                      `json:"cooldowns"`
	Disconnects uint64                      `json:"disconnects"`
}

type validatorClient struct {
	firstInvalid  time.Time
	invalidCount  int
	cooldownUntil time.Time
	strikes       int
	counters      ValidationCounters
}

// Validator parses control payloads and puts clients that keep sending garbage into
// cooldown, asking for a disconnect once they exhaust their strikes.
type Validator struct {
	mu      sync.Mutex
	cfg     ValidatorConfig
	clock   Clock
	logger  *logging.Logger
	clients map[string]*validatorClient
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the clock used to determine cooldown windows.
func WithValidatorClock(clock Clock) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewValidator builds a validator, filling unset limits from DefaultValidatorConfig.
func NewValidator(cfg ValidatorConfig, logger *logging.Logger, opts ...ValidatorOption) *Validator {
	if cfg.InvalidBurstLimit <= 0 {
		cfg.InvalidBurstLimit = DefaultValidatorConfig.InvalidBurstLimit
	}
	if cfg.InvalidBurstWindow <= 0 {
		cfg.InvalidBurstWindow = DefaultValidatorConfig.InvalidBurstWindow
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = DefaultValidatorConfig.CooldownDuration
	}
	if cfg.MaxCooldownStrikes <= 0 {
		cfg.MaxCooldownStrikes = DefaultValidatorConfig.MaxCooldownStrikes
	}
	validator := &Validator{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*validatorClient),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// Validate parses raw and records any violation against clientID.
func (v *Validator) Validate(clientID string, raw []byte) ValidationDecision {
	frame, command, apply, err := ParseFrame(raw)
	if v == nil {
		return ValidationDecision{Accepted: err == nil, Apply: apply, Command: command, Frame: frame, Reason: ReasonFor(err)}
	}
	now := v.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	client := v.clients[clientID]
	if client == nil {
		client = &validatorClient{}
		v.clients[clientID] = client
	}

	//1.- Clients in cooldown are ignored wholesale, valid frames included.
	if now.Before(client.cooldownUntil) {
		return ValidationDecision{Reason: ValidationReasonCooldownActive, Cooldown: client.cooldownUntil.Sub(now), Frame: frame}
	}
	if err != nil {
		decision := v.violationLocked(clientID, client, now, ReasonFor(err))
		decision.Frame = frame
		return decision
	}
	//2.- A clean frame forgives the current burst but not earlier strikes.
	client.invalidCount = 0
	client.firstInvalid = time.Time{}
	return ValidationDecision{Accepted: true, Apply: apply, Command: command, Frame: frame}
}

func (v *Validator) violationLocked(clientID string, client *validatorClient, now time.Time, reason ValidationReason) ValidationDecision {
	if client.counters.Violations == nil {
		client.counters.Violations = make(map[ValidationReason]uint64)
	}
	client.counters.Violations[reason]++
	decision := ValidationDecision{Reason: reason}

	//1.- Count violations inside the sliding burst window.
	if client.invalidCount == 0 || now.Sub(client.firstInvalid) > v.cfg.InvalidBurstWindow {
		client.firstInvalid = now
		client.invalidCount = 1
	} else {
		client.invalidCount++
	}
	decision.Warn = v.cfg.InvalidBurstLimit-client.invalidCount == 1
	if client.invalidCount < v.cfg.InvalidBurstLimit {
		return decision
	}

	//2.- A full burst earns a cooldown and a strike; too many strikes ends the session.
	client.cooldownUntil = now.Add(v.cfg.CooldownDuration)
	client.invalidCount = 0
	client.firstInvalid = time.Time{}
	client.strikes++
	client.counters.Cooldowns++
	decision.Cooldown = v.cfg.CooldownDuration
	if client.strikes >= v.cfg.MaxCooldownStrikes {
		decision.Disconnect = true
		client.counters.Disconnects++
	}
	if v.logger != nil {
		v.logger.Debug("control validator cooldown",
			logging.String("client_id", clientID),
			logging.String("reason", string(reason)),
			logging.Int("strikes", client.strikes),
			logging.Duration("cooldown", v.cfg.CooldownDuration),
		)
	}
	return decision
}

// Forget clears all state for the specified client.
func (v *Validator) Forget(clientID string) {
	if v == nil || clientID == "" {
		return
	}
	v.mu.Lock()
	delete(v.clients, clientID)
	v.mu.Unlock()
}

// Metrics returns a snapshot of per-client counters for diagnostics.
func (v *Validator) Metrics() map[string]ValidationCounters {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var snapshot map[string]ValidationCounters
	for clientID, client := range v.clients {
		counters := client.counters
		if len(counters.Violations) == 0 && counters.Cooldowns == 0 {
			continue
		}
		clone := ValidationCounters{Cooldowns: counters.Cooldowns, Disconnects: counters.Disconnects}
		clone.Violations = make(map[ValidationReason]uint64, len(counters.Violations))
		for reason, count := range counters.Violations {
			clone.Violations[reason] = count
		}
		if snapshot == nil {
			snapshot = make(map[string]ValidationCounters)
		}
		snapshot[clientID] = clone
	}
	return snapshot
}
