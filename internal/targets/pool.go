package targets

import (
	"math"
	"math/rand/v2"

	"tunnelflight/engine/internal/gameplay"
	"tunnelflight/engine/internal/physics"
	"tunnelflight/engine/internal/tunnel"
)

// EventKind labels what happened to a pooled object during detection.
type EventKind string

const (
	EventCollected   EventKind = "collected"
	EventRecycled    EventKind = "recycled"
	EventObstacleHit EventKind = "obstacle_hit"
)

// Event reports a single detector outcome. Position is where the object was before it was
// moved.
type Event struct {
	Kind     EventKind    `json:"kind"`
	TargetID int          `json:"target_id"`
	Category Category     `json:"category"`
	Position physics.Vec3 `json:"position"`
}

// Result aggregates one detection pass.
type Result struct {
	Collected   int
	ObstacleHit bool
	Events      []Event
}

// Pool keeps a constant number of collectibles and obstacles alive.
type Pool struct {
	tuning      gameplay.Tuning
	spawner     *Spawner
	collectible []Target
	obstacles   []Target
}

// NewPool allocates both pools once; later calls only reposition entries.
func NewPool(tuning gameplay.Tuning, rng *rand.Rand) *Pool {
	pool := &Pool{
		tuning:      tuning,
		spawner:     NewSpawner(rng, tuning),
		collectible: make([]Target, max(tuning.PoolSize, 0)),
		obstacles:   make([]Target, max(tuning.ObstacleCount, 0)),
	}
	for i := range pool.collectible {
		pool.collectible[i] = Target{ID: i, Category: CategoryCollectible}
	}
	for i := range pool.obstacles {
		pool.obstacles[i] = Target{ID: i, Category: CategoryObstacle}
	}
	return pool
}

// Respawn redistributes every object ahead of craftAxial with fresh bob phases.
func (p *Pool) Respawn(tube tunnel.Tunnel, craftAxial float64) {
	if p == nil {
		return
	}
	for i := range p.collectible {
		p.collectible[i] = p.spawner.Spawn(i, CategoryCollectible, tube, craftAxial)
	}
	for i := range p.obstacles {
		p.obstacles[i] = p.spawner.Spawn(i, CategoryObstacle, tube, craftAxial)
	}
}

// Animate advances the bob phase of every object by step*rate and re-derives its height.
func (p *Pool) Animate(step, rate float64) {
	if p == nil || !(step > 0) {
		return
	}
	advance := step * rate
	for _, set := range [][]Target{p.collectible, p.obstacles} {
		for i := range set {
			set[i].Phase = math.Mod(set[i].Phase+advance, 2*math.Pi)
			set[i].Position.Y = set[i].BaseHeight + math.Sin(set[i].Phase)*p.tuning.BobAmplitude
		}
	}
}

// Detect tests every object against the craft. Pickups score and recycle; objects that fell
// too far behind the heading recycle silently; obstacle contact is flagged and recycles.
func (p *Pool) Detect(craft, forward physics.Vec3, tube tunnel.Tunnel) Result {
	var result Result
	if p == nil {
		return result
	}
	craftAxial := tube.Axial(craft)

	for i := range p.collectible {
		target := &p.collectible[i]
		//1.- Pickup takes precedence over the behind check.
		if craft.Distance(target.Position) < p.tuning.PickupRadius {
			result.Collected++
			result.Events = append(result.Events, eventFor(EventCollected, *target))
			p.spawner.Place(target, tube, craftAxial)
			continue
		}
		//2.- Stale objects trailing the heading are moved back ahead.
		if target.Position.Sub(craft).Dot(forward) < p.tuning.RecycleBehind {
			result.Events = append(result.Events, eventFor(EventRecycled, *target))
			p.spawner.Place(target, tube, craftAxial)
		}
	}

	for i := range p.obstacles {
		target := &p.obstacles[i]
		if craft.Distance(target.Position) < p.tuning.ObstacleRadius {
			result.ObstacleHit = true
			result.Events = append(result.Events, eventFor(EventObstacleHit, *target))
			p.spawner.Place(target, tube, craftAxial)
			continue
		}
		if target.Position.Sub(craft).Dot(forward) < p.tuning.RecycleBehind {
			result.Events = append(result.Events, eventFor(EventRecycled, *target))
			p.spawner.Place(target, tube, craftAxial)
		}
	}
	return result
}

// Len reports the combined pool size.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.collectible) + len(p.obstacles)
}

// Collectibles returns a copy of the scoring pool.
func (p *Pool) Collectibles() []Target {
	if p == nil {
		return nil
	}
	return append([]Target(nil), p.collectible...)
}

// Obstacles returns a copy of the hazard pool.
func (p *Pool) Obstacles() []Target {
	if p == nil {
		return nil
	}
	return append([]Target(nil), p.obstacles...)
}

func eventFor(kind EventKind, target Target) Event {
	return Event{Kind: kind, TargetID: target.ID, Category: target.Category, Position: target.Position}
}
