package gameplay

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultTuningMatchesShippedValues(t *testing.T) {
	//1.- Retrieve the cached table to validate the embedded payload.
	tuning := DefaultTuning()
	//2.- Assert the documented constants so accidental edits trigger failures.
	if tuning.ForwardThrust != 12 || tuning.Drag != 0.5 || tuning.MaxSpeed != 35 {
		t.Fatalf("unexpected integrator tuning %+v", tuning)
	}
	if tuning.SoftEdgeRadius != 7 || tuning.HardRadius != 11 || tuning.KillRadius != 11.5 {
		t.Fatalf("unexpected boundary radii %+v", tuning)
	}
	if tuning.PoolSize != 8 || tuning.SpawnMin != 100 || tuning.SpawnMax != 160 {
		t.Fatalf("unexpected spawner tuning %+v", tuning)
	}
	if tuning.PickupRadius != 2 || tuning.RecycleBehind != -30 {
		t.Fatalf("unexpected detector tuning %+v", tuning)
	}
	if tuning.MaxStep != 0.05 {
		t.Fatalf("unexpected max step %v", tuning.MaxStep)
	}
}

func TestValidateRejectsInvertedRadii(t *testing.T) {
	cases := map[string]func(*Tuning){
		"soft above hard":   func(tu *Tuning) { tu.SoftEdgeRadius = 11.2 },
		"hard above kill":   func(tu *Tuning) { tu.HardRadius = 12 },
		"soft equals hard":  func(tu *Tuning) { tu.SoftEdgeRadius = tu.HardRadius },
		"empty pool":        func(tu *Tuning) { tu.PoolSize = 0 },
		"inverted spawn":    func(tu *Tuning) { tu.SpawnMax = 50 },
		"positive recycle":  func(tu *Tuning) { tu.RecycleBehind = 5 },
		"threshold above 1": func(tu *Tuning) { tu.SidewaysThreshold = 1.5 },
		"zero max step":     func(tu *Tuning) { tu.MaxStep = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tuning := DefaultTuning()
			mutate(&tuning)
			err := tuning.Validate()
			if !errors.Is(err, ErrInvalidTuning) {
				t.Fatalf("expected ErrInvalidTuning, got %v", err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	tuning := DefaultTuning()
	tuning.MaxSpeed = -1
	tuning.PoolSize = -2
	err := tuning.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_speed") || !strings.Contains(err.Error(), "pool_size") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestDecodeTuningOverlaysBase(t *testing.T) {
	tuning, err := DecodeTuning([]byte("drag: 0.8\npool_size: 4\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tuning.Drag != 0.8 || tuning.PoolSize != 4 {
		t.Fatalf("overrides not applied: %+v", tuning)
	}
	if tuning.MaxSpeed != DefaultTuning().MaxSpeed {
		t.Fatalf("base values should survive overlay, got %v", tuning.MaxSpeed)
	}
	if _, err := DecodeTuning([]byte("kill_radius: 3\n")); !errors.Is(err, ErrInvalidTuning) {
		t.Fatalf("expected invalid overlay to fail, got %v", err)
	}
}
