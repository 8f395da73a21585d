package gameplay

import (
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"
)

// DefaultPresetID names the preset used when no difficulty is configured.
const DefaultPresetID = "standard"

// Modifiers describe difficulty adjustments applied on top of the base tuning.
type Modifiers struct {
	SpeedMultiplier   float64 `yaml:"speed_multiplier"`
	AgilityMultiplier float64 `yaml:"agility_multiplier"`
	PushMultiplier    float64 `yaml:"push_multiplier"`
	KillRadiusBonus   float64 `yaml:"kill_radius_bonus"`
}

// Preset defines a selectable difficulty.
type Preset struct {
	ID          string    `yaml:"id"`
	DisplayName string    `yaml:"display_name"`
	Description string    `yaml:"description"`
	Modifiers   Modifiers `yaml:"modifiers"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

//go:embed presets.yaml
var presetPayload []byte

var (
	presetOnce sync.Once
	presetData []Preset
	presetErr  error
)

// Presets returns the immutable catalogue of difficulty presets.
func Presets() []Preset {
	presetOnce.Do(func() {
		//1.- Parse the embedded catalogue in a thread-safe manner.
		var decoded presetFile
		presetErr = yaml.Unmarshal(presetPayload, &decoded)
		if presetErr == nil {
			presetData = decoded.Presets
		}
	})
	//2.- Surface catalogue errors eagerly to avoid divergent tuning tables.
	if presetErr != nil {
		panic(presetErr)
	}
	//3.- Return a copy to protect the cached slice from external mutation.
	clones := make([]Preset, len(presetData))
	copy(clones, presetData)
	return clones
}

// ApplyModifiers derives a tuning table from base using the supplied modifiers.
func ApplyModifiers(base Tuning, modifiers Modifiers) Tuning {
	//1.- Start from a copy so the shared table stays untouched.
	adjusted := base
	speed := modifiers.SpeedMultiplier
	if speed <= 0 {
		speed = 1
	}
	adjusted.MaxSpeed = base.MaxSpeed * speed
	adjusted.ForwardThrust = base.ForwardThrust * speed
	//2.- Agility scales the turn rate only so the drag equilibrium is preserved.
	agility := modifiers.AgilityMultiplier
	if agility <= 0 {
		agility = 1
	}
	adjusted.TurnRate = base.TurnRate * agility
	push := modifiers.PushMultiplier
	if push <= 0 {
		push = 1
	}
	adjusted.PushStrength = base.PushStrength * push
	//3.- The kill edge moves additively, mirroring how the wall is tuned by hand.
	adjusted.KillRadius = base.KillRadius + modifiers.KillRadiusBonus
	return adjusted
}

// PresetTuning resolves the tuning for a preset identifier on top of base.
func PresetTuning(base Tuning, presetID string) (Tuning, error) {
	id := strings.TrimSpace(strings.ToLower(presetID))
	if id == "" {
		id = DefaultPresetID
	}
	for _, preset := range Presets() {
		if preset.ID != id {
			continue
		}
		tuning := ApplyModifiers(base, preset.Modifiers)
		if err := tuning.Validate(); err != nil {
			return Tuning{}, fmt.Errorf("preset %q: %w", id, err)
		}
		return tuning, nil
	}
	return Tuning{}, fmt.Errorf("unknown preset %q", presetID)
}
