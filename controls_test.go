package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tunnelflight/engine/internal/input"
)

func TestControlsHandlerListsParseableActions(t *testing.T) {
	rr := httptest.NewRecorder()
	controlsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/controls", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var doc controlsDocument
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.FrameType != input.FrameType || len(doc.Engines) != 4 {
		t.Fatalf("unexpected document %+v", doc)
	}
	for i := 1; i < len(doc.Actions); i++ {
		if doc.Actions[i-1].Action > doc.Actions[i].Action {
			t.Fatalf("actions not sorted: %+v", doc.Actions)
		}
	}

	//1.- Every documented action and button must be accepted by the frame parser.
	for _, action := range doc.Actions {
		raw := fmt.Sprintf(`{"type":"control","seq":1,"action":%q,"engine":"left","button":0}`, action.Action)
		if _, _, _, err := input.ParseFrame([]byte(raw)); err != nil {
			t.Fatalf("documented action %q rejected: %v", action.Action, err)
		}
	}
	for _, button := range doc.Buttons {
		raw := fmt.Sprintf(`{"type":"control","seq":1,"action":"button","button":%d}`, button.Button)
		if _, _, ok, err := input.ParseFrame([]byte(raw)); err != nil || !ok {
			t.Fatalf("documented button %d rejected: ok=%v err=%v", button.Button, ok, err)
		}
	}
}

func TestControlsHandlerRejectsWrites(t *testing.T) {
	rr := httptest.NewRecorder()
	controlsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/controls", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
