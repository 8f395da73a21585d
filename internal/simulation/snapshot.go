package simulation

import (
	"time"

	"tunnelflight/engine/internal/match"
	"tunnelflight/engine/internal/physics"
	"tunnelflight/engine/internal/targets"
)

// EventKind labels the discrete things that happened during a tick.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventCollected   EventKind = "collected"
	EventRecycled    EventKind = "recycled"
	EventObstacleHit EventKind = "obstacle_hit"
	EventDied        EventKind = "died"
	EventReset       EventKind = "reset"
)

// Event is one tick-scoped occurrence for presentation and replay consumers.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Tick   uint64         `json:"tick"`
	Score  int            `json:"score"`
	Cause  match.Cause    `json:"cause,omitempty"`
	Target *targets.Event `json:"target,omitempty"`
}

// Snapshot is the plain result of one tick. It holds copies only, so it is safe to hand to
// other goroutines.
type Snapshot struct {
	Tick        uint64              `json:"tick"`
	Step        float64             `json:"step"`
	Phase       string              `json:"phase"`
	Alive       bool                `json:"alive"`
	Started     bool                `json:"started"`
	Position    physics.Vec3        `json:"position"`
	Velocity    physics.Vec3        `json:"velocity"`
	Forward     physics.Vec3        `json:"forward"`
	Orientation physics.Quat        `json:"orientation"`
	Thrust      physics.ThrustState `json:"thrust"`
	Speed       float64             `json:"speed"`
	Danger      float64             `json:"danger"`
	Lateral     float64             `json:"lateral"`
	Axial       float64             `json:"axial"`
	Alignment   float64             `json:"alignment"`
	Score       int                 `json:"score"`
	Cause       match.Cause         `json:"cause,omitempty"`
	FlightTime  time.Duration       `json:"flight_time"`
	Targets     []targets.Target    `json:"targets"`
	Obstacles   []targets.Target    `json:"obstacles,omitempty"`
	Events      []Event             `json:"events,omitempty"`
}

// HasEvent reports whether the tick produced an event of the given kind.
func (s Snapshot) HasEvent(kind EventKind) bool {
	for _, event := range s.Events {
		if event.Kind == kind {
			return true
		}
	}
	return false
}
