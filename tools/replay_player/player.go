// Package replayplayer walks a replay bundle in timeline order and summarises the runs it
// contains.
package replayplayer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tunnelflight/engine/internal/replay"
	"tunnelflight/engine/internal/simulation"
)

// Summary is the JSON document printed by the replay_player command.
type Summary struct {
	Dir         string          `json:"dir"`
	Manifest    replay.Manifest `json:"manifest"`
	Header      *replay.Header  `json:"header,omitempty"`
	Complete    bool            `json:"complete"`
	Events      map[string]int  `json:"events"`
	Frames      int             `json:"frames"`
	FirstTick   uint64          `json:"first_tick"`
	LastTick    uint64          `json:"last_tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	Deaths      map[string]int  `json:"deaths,omitempty"`
	BestScore   int             `json:"best_score"`
	FinalScore  int             `json:"final_score"`
	FinalPhase  string          `json:"final_phase,omitempty"`
}

// resolveBundleDir accepts either a bundle directory or a file inside it.
func resolveBundleDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return path, nil
	}
	return filepath.Dir(path), nil
}

// Summarize loads the bundle at path and replays its timeline.
func Summarize(path string) (Summary, error) {
	dir, err := resolveBundleDir(path)
	if err != nil {
		return Summary{}, err
	}
	bundle, err := replay.LoadBundle(dir)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		Dir:      dir,
		Manifest: bundle.Manifest,
		Header:   bundle.Header,
		Complete: bundle.Header != nil,
		Events:   make(map[string]int),
	}

	//1.- Walk the merged timeline so frames and events are seen in simulated order.
	var last *simulation.Snapshot
	err = bundle.Replay(func(entry replay.TimelineEntry) error {
		if summary.Frames == 0 && len(summary.Events) == 0 {
			summary.FirstTick = entry.Tick
		}
		summary.LastTick = max(summary.LastTick, entry.Tick)
		summary.SimulatedMs = max(summary.SimulatedMs, entry.SimulatedMs)
		if entry.Type != replay.FrameEntryType {
			summary.Events[entry.Type]++
			if entry.Type == string(simulation.EventDied) {
				var event simulation.Event
				if err := json.Unmarshal(entry.Payload, &event); err != nil {
					return fmt.Errorf("decode event at tick %d: %w", entry.Tick, err)
				}
				if summary.Deaths == nil {
					summary.Deaths = make(map[string]int)
				}
				summary.Deaths[string(event.Cause)]++
			}
			return nil
		}
		//2.- Frames carry the full snapshot; the last one holds the final state.
		var snapshot simulation.Snapshot
		if err := json.Unmarshal(entry.Payload, &snapshot); err != nil {
			return fmt.Errorf("decode frame at tick %d: %w", entry.Tick, err)
		}
		summary.Frames++
		summary.BestScore = max(summary.BestScore, snapshot.Score)
		last = &snapshot
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	if last != nil {
		summary.FinalScore = last.Score
		summary.FinalPhase = last.Phase
	}
	return summary, nil
}
