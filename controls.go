package main

import (
	"encoding/json"
	"net/http"
	"sort"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/physics"
)

// ControlDoc describes one control action a client may send over /ws or SendCommands.
type ControlDoc struct {
	Action      string `json:"action"`
	Fields      string `json:"fields,omitempty"`
	Description string `json:"description"`
}

// ButtonDoc describes a standard-layout gamepad binding understood by the "button" action.
type ButtonDoc struct {
	Button      int    `json:"button"`
	Description string `json:"description"`
}

type controlsDocument struct {
	FrameType string       `json:"frame_type"`
	Actions   []ControlDoc `json:"actions"`
	Buttons   []ButtonDoc  `json:"buttons"`
	Engines   []string     `json:"engines"`
}

var defaultControlDocs = []ControlDoc{
	{
		Action:      string(input.CommandStart),
		Description: "Leave the idle phase without firing a thruster.",
	},
	{
		Action:      string(input.CommandToggle),
		Fields:      "engine",
		Description: "Flip one thruster; the first thrust of an idle run only starts it.",
	},
	{
		Action:      string(input.CommandSet),
		Fields:      "engine, on",
		Description: "Hold a thruster on or off; a missing on field means on.",
	},
	{
		Action:      string(input.CommandCut),
		Description: "Release every thruster at once.",
	},
	{
		Action:      string(input.CommandReset),
		Description: "Restore the craft and pools; a live run is recorded as abandoned.",
	},
	{
		Action:      "button",
		Fields:      "button, on",
		Description: "Gamepad press or release mapped through the button table.",
	},
}

var defaultButtonDocs = []ButtonDoc{
	{Button: 0, Description: "Hold right thruster"},
	{Button: 1, Description: "Hold bottom thruster"},
	{Button: 2, Description: "Hold top thruster"},
	{Button: 3, Description: "Hold left thruster"},
	{Button: 4, Description: "Cut all thrust on press"},
	{Button: 5, Description: "Reset on press"},
}

// controlsHandler serves the control vocabulary so viewers and bots need not hardcode it.
func controlsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		//1.- Copy before sorting so concurrent requests never share the package slices.
		doc := controlsDocument{
			FrameType: input.FrameType,
			Actions:   append([]ControlDoc(nil), defaultControlDocs...),
			Buttons:   append([]ButtonDoc(nil), defaultButtonDocs...),
			Engines:   engineNames(),
		}
		sort.SliceStable(doc.Actions, func(i, j int) bool { return doc.Actions[i].Action < doc.Actions[j].Action })

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func engineNames() []string {
	names := make([]string, 0, len(physics.Engines))
	for _, engine := range physics.Engines {
		names = append(names, engine.String())
	}
	return names
}
