// Package targets owns the fixed-size pools of floating objects placed ahead of the craft
// and the per-tick detector that collects or recycles them.
package targets

import (
	"fmt"
	"math"
	"math/rand/v2"

	"tunnelflight/engine/internal/gameplay"
	"tunnelflight/engine/internal/physics"
	"tunnelflight/engine/internal/tunnel"
)

// Category distinguishes scoring pickups from hazards.
type Category int

const (
	CategoryCollectible Category = iota
	CategoryObstacle
)

func (c Category) String() string {
	switch c {
	case CategoryCollectible:
		return "collectible"
	case CategoryObstacle:
		return "obstacle"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// MarshalText renders the category by name in JSON payloads.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Target is one pooled object. Pool entries are repositioned, never reallocated.
type Target struct {
	ID         int          `json:"id"`
	Category   Category     `json:"category"`
	Position   physics.Vec3 `json:"position"`
	BaseHeight float64      `json:"base_height"`
	Phase      float64      `json:"phase"`
}

// Spawner picks forward placements on a ring cross-section of the tunnel.
type Spawner struct {
	rng    *rand.Rand
	tuning gameplay.Tuning
}

// NewSpawner binds a random source to the tuning. A nil source falls back to a fixed seed so
// the spawner is always deterministic unless told otherwise.
func NewSpawner(rng *rand.Rand, tuning gameplay.Tuning) *Spawner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	return &Spawner{rng: rng, tuning: tuning}
}

// Place moves target to a fresh location ahead of craftAxial. The bob phase is kept so a
// recycled object keeps animating smoothly.
func (s *Spawner) Place(target *Target, tube tunnel.Tunnel, craftAxial float64) {
	if s == nil || target == nil {
		return
	}
	//1.- Sample distance ahead, ring angle and ring radius.
	distance := s.tuning.SpawnMin + s.rng.Float64()*(s.tuning.SpawnMax-s.tuning.SpawnMin)
	angle := s.rng.Float64() * 2 * math.Pi
	radius := s.rng.Float64() * s.tuning.SpawnRadiusFactor * s.tuning.TunnelRadius

	//2.- Project onto the corridor cross-section and remember the resting height.
	target.Position = tube.RingPoint(craftAxial+distance, angle, radius)
	target.BaseHeight = target.Position.Y
}

// Spawn initialises a brand new target with a random bob phase.
func (s *Spawner) Spawn(id int, category Category, tube tunnel.Tunnel, craftAxial float64) Target {
	target := Target{ID: id, Category: category}
	if s == nil {
		return target
	}
	target.Phase = s.rng.Float64() * 2 * math.Pi
	s.Place(&target, tube, craftAxial)
	return target
}
