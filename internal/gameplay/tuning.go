package gameplay

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTuning is returned when a tuning table violates the physics invariants.
var ErrInvalidTuning = errors.New("invalid tuning")

// Tuning captures every tunable constant of the tunnel run.
type Tuning struct {
	ForwardThrust   float64 `yaml:"forward_thrust" json:"forward_thrust"`
	Drag            float64 `yaml:"drag" json:"drag"`
	MaxSpeed        float64 `yaml:"max_speed" json:"max_speed"`
	TurnRate        float64 `yaml:"turn_rate" json:"turn_rate"`
	MinForwardSpeed float64 `yaml:"min_forward_speed" json:"min_forward_speed"`
	FloorResponse   float64 `yaml:"floor_response" json:"floor_response"`
	MaxStep         float64 `yaml:"max_step" json:"max_step"`

	TunnelRadius      float64 `yaml:"tunnel_radius" json:"tunnel_radius"`
	SoftEdgeRadius    float64 `yaml:"soft_edge_radius" json:"soft_edge_radius"`
	HardRadius        float64 `yaml:"hard_radius" json:"hard_radius"`
	KillRadius        float64 `yaml:"kill_radius" json:"kill_radius"`
	PushStrength      float64 `yaml:"push_strength" json:"push_strength"`
	SidewaysThreshold float64 `yaml:"sideways_threshold" json:"sideways_threshold"`

	PoolSize          int     `yaml:"pool_size" json:"pool_size"`
	ObstacleCount     int     `yaml:"obstacle_count" json:"obstacle_count"`
	SpawnMin          float64 `yaml:"spawn_min" json:"spawn_min"`
	SpawnMax          float64 `yaml:"spawn_max" json:"spawn_max"`
	SpawnRadiusFactor float64 `yaml:"spawn_radius_factor" json:"spawn_radius_factor"`
	PickupRadius      float64 `yaml:"pickup_radius" json:"pickup_radius"`
	ObstacleRadius    float64 `yaml:"obstacle_radius" json:"obstacle_radius"`
	ObstacleKills     bool    `yaml:"obstacle_kills" json:"obstacle_kills"`
	RecycleBehind     float64 `yaml:"recycle_behind" json:"recycle_behind"`
	BobAmplitude      float64 `yaml:"bob_amplitude" json:"bob_amplitude"`
	BobRate           float64 `yaml:"bob_rate" json:"bob_rate"`
	IdleBobRate       float64 `yaml:"idle_bob_rate" json:"idle_bob_rate"`
}

//go:embed tuning.yaml
var tuningPayload []byte

var (
	tuningOnce sync.Once
	tuningData Tuning
	tuningErr  error
)

// DefaultTuning exposes the cached base tuning embedded in the binary.
func DefaultTuning() Tuning {
	tuningOnce.Do(func() {
		//1.- Decode the embedded YAML payload exactly once in a threadsafe manner.
		tuningErr = yaml.Unmarshal(tuningPayload, &tuningData)
		if tuningErr == nil {
			tuningErr = tuningData.Validate()
		}
	})
	//2.- Panic immediately when the shipped table is broken to avoid silent divergence.
	if tuningErr != nil {
		panic(tuningErr)
	}
	return tuningData
}

// DecodeTuning overlays a YAML document onto the base tuning and validates the result.
func DecodeTuning(raw []byte) (Tuning, error) {
	tuning := DefaultTuning()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return tuning, nil
	}
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	if err := tuning.Validate(); err != nil {
		return Tuning{}, err
	}
	return tuning, nil
}

// Validate rejects tables that would produce an inconsistent boundary response or
// undefined spawn geometry. Every problem is reported in a single error.
func (t Tuning) Validate() error {
	var problems []string
	positive := func(name string, value float64) {
		if !(value > 0) || math.IsInf(value, 0) {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %v", name, value))
		}
	}
	nonNegative := func(name string, value float64) {
		if !(value >= 0) || math.IsInf(value, 0) {
			problems = append(problems, fmt.Sprintf("%s must be non-negative, got %v", name, value))
		}
	}

	positive("forward_thrust", t.ForwardThrust)
	nonNegative("drag", t.Drag)
	positive("max_speed", t.MaxSpeed)
	nonNegative("turn_rate", t.TurnRate)
	nonNegative("min_forward_speed", t.MinForwardSpeed)
	nonNegative("floor_response", t.FloorResponse)
	positive("max_step", t.MaxStep)
	positive("tunnel_radius", t.TunnelRadius)
	nonNegative("soft_edge_radius", t.SoftEdgeRadius)
	nonNegative("push_strength", t.PushStrength)
	positive("pickup_radius", t.PickupRadius)
	nonNegative("obstacle_radius", t.ObstacleRadius)
	nonNegative("bob_amplitude", t.BobAmplitude)
	nonNegative("bob_rate", t.BobRate)
	nonNegative("idle_bob_rate", t.IdleBobRate)

	//1.- The boundary only pushes before it kills when soft < hard < kill holds.
	if !(t.SoftEdgeRadius < t.HardRadius) {
		problems = append(problems, fmt.Sprintf("soft_edge_radius %v must be below hard_radius %v", t.SoftEdgeRadius, t.HardRadius))
	}
	if !(t.HardRadius < t.KillRadius) {
		problems = append(problems, fmt.Sprintf("hard_radius %v must be below kill_radius %v", t.HardRadius, t.KillRadius))
	}
	if t.SidewaysThreshold < 0 || t.SidewaysThreshold > 1 {
		problems = append(problems, fmt.Sprintf("sideways_threshold must lie in [0,1], got %v", t.SidewaysThreshold))
	}
	if t.MinForwardSpeed > t.MaxSpeed {
		problems = append(problems, fmt.Sprintf("min_forward_speed %v exceeds max_speed %v", t.MinForwardSpeed, t.MaxSpeed))
	}

	//2.- Spawn geometry must describe a non-empty forward band inside the tunnel.
	if t.PoolSize <= 0 {
		problems = append(problems, fmt.Sprintf("pool_size must be positive, got %d", t.PoolSize))
	}
	if t.ObstacleCount < 0 {
		problems = append(problems, fmt.Sprintf("obstacle_count must be non-negative, got %d", t.ObstacleCount))
	}
	positive("spawn_min", t.SpawnMin)
	if t.SpawnMax < t.SpawnMin {
		problems = append(problems, fmt.Sprintf("spawn_max %v must not be below spawn_min %v", t.SpawnMax, t.SpawnMin))
	}
	if t.SpawnRadiusFactor < 0 || t.SpawnRadiusFactor > 1 {
		problems = append(problems, fmt.Sprintf("spawn_radius_factor must lie in [0,1], got %v", t.SpawnRadiusFactor))
	}
	if !(t.RecycleBehind < 0) {
		problems = append(problems, fmt.Sprintf("recycle_behind must be negative, got %v", t.RecycleBehind))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTuning, strings.Join(problems, "; "))
	}
	return nil
}

// EdgeSpan returns the distance between the soft edge and the hard radius.
func (t Tuning) EdgeSpan() float64 {
	return t.HardRadius - t.SoftEdgeRadius
}
