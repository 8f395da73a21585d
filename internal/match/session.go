package match

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultHistoryLimit bounds how many finished runs a session remembers.
const DefaultHistoryLimit = 32

// ErrNegativeScore is returned when a run record carries an impossible score.
var ErrNegativeScore = errors.New("score must not be negative")

// RunRecord summarises one finished run.
type RunRecord struct {
	Score      int           `json:"score"`
	Cause      Cause         `json:"cause,omitempty"`
	FlightTime time.Duration `json:"flight_time"`
	EndedAt    time.Time     `json:"ended_at"`
}

// Snapshot captures a stable view of the session history for observers.
type Snapshot struct {
	SessionID     string         `json:"session_id"`
	Runs          int            `json:"runs"`
	BestScore     int            `json:"best_score"`
	TotalScore    int            `json:"total_score"`
	DeathsByCause map[string]int `json:"deaths_by_cause,omitempty"`
	Recent        []RunRecord    `json:"recent,omitempty"`
}

// SessionOption configures optional Session behaviour at construction time.
type SessionOption func(*Session)

// Session accumulates statistics across runs. It survives resets and is safe for
// concurrent use so HTTP handlers can read it while the loop records runs.
type Session struct {
	mu sync.RWMutex

	id     string
	limit  int
	now    func() time.Time
	recent []RunRecord
	runs   int
	best   int
	total  int
	deaths map[Cause]int
}

// WithSessionClock overrides the default wall-clock time source.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		//1.- Allow tests to inject a deterministic time source for reproducibility.
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionID sets the identifier reported in snapshots.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			s.id = trimmed
		}
	}
}

// WithHistoryLimit overrides how many recent runs are retained.
func WithHistoryLimit(limit int) SessionOption {
	return func(s *Session) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// NewSession constructs an empty run history.
func NewSession(opts ...SessionOption) *Session {
	session := &Session{
		limit:  DefaultHistoryLimit,
		now:    time.Now,
		deaths: make(map[Cause]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(session)
		}
	}
	//1.- Derive a timestamped identifier when none was configured.
	if session.id == "" {
		session.id = session.now().UTC().Format("session-20060102T150405")
	}
	return session
}

// RecordRun appends a finished run and updates the aggregates.
func (s *Session) RecordRun(record RunRecord) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("session is nil")
	}
	if record.Score < 0 {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrNegativeScore, record.Score)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.EndedAt.IsZero() {
		record.EndedAt = s.now()
	}
	//1.- Update the aggregates before trimming so evicted runs still count.
	s.runs++
	s.total += record.Score
	if record.Score > s.best {
		s.best = record.Score
	}
	if record.Cause != CauseNone {
		s.deaths[record.Cause]++
	}
	//2.- Keep only the newest runs.
	s.recent = append(s.recent, record)
	if overflow := len(s.recent) - s.limit; overflow > 0 {
		s.recent = append([]RunRecord(nil), s.recent[overflow:]...)
	}
	return s.snapshotLocked(), nil
}

// Snapshot returns a read-only view of the session history.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snapshot := Snapshot{SessionID: s.id, Runs: s.runs, BestScore: s.best, TotalScore: s.total}
	if len(s.deaths) > 0 {
		snapshot.DeathsByCause = make(map[string]int, len(s.deaths))
		for cause, count := range s.deaths {
			snapshot.DeathsByCause[string(cause)] = count
		}
	}
	if len(s.recent) > 0 {
		snapshot.Recent = append([]RunRecord(nil), s.recent...)
	}
	return snapshot
}
