package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tunnelflight/engine/internal/physics"
)

// FrameType tags control payloads on the shared websocket.
const FrameType = "control"

var (
	// ErrMalformedFrame is returned when the payload is not a JSON control object.
	ErrMalformedFrame = errors.New("malformed control frame")
	// ErrUnknownAction is returned for actions outside the command set.
	ErrUnknownAction = errors.New("unknown control action")
	// ErrUnknownEngine is returned when a thrust action names no known thruster.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrUnknownButton is returned for gamepad buttons without a binding.
	ErrUnknownButton = errors.New("unknown gamepad button")
)

// ControlFrame is the JSON payload clients send to steer the craft.
//
//	{"type":"control","seq":12,"sent_at_ms":1700000000000,"action":"toggle","engine":"left"}
type ControlFrame struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"seq"`
	SentAtMs int64  `json:"sent_at_ms,omitempty"`
	Action   string `json:"action"`
	Engine   string `json:"engine,omitempty"`
	On       *bool  `json:"on,omitempty"`
	Button   *int   `json:"button,omitempty"`
}

// SentAt converts the capture timestamp, zero when absent.
func (f ControlFrame) SentAt() time.Time {
	if f.SentAtMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.SentAtMs)
}

// gamepadButtons maps standard-layout face and shoulder buttons onto commands. Face
// buttons hold their thruster while pressed.
var gamepadButtons = map[int]func(pressed bool) (Command, bool){
	0: func(pressed bool) (Command, bool) { return Set(physics.EngineRight, pressed), true },
	1: func(pressed bool) (Command, bool) { return Set(physics.EngineBottom, pressed), true },
	2: func(pressed bool) (Command, bool) { return Set(physics.EngineTop, pressed), true },
	3: func(pressed bool) (Command, bool) { return Set(physics.EngineLeft, pressed), true },
	4: func(pressed bool) (Command, bool) { return Cut(), pressed },
	5: func(pressed bool) (Command, bool) { return Reset(), pressed },
}

// ParseFrame decodes a raw websocket message into a frame and its command. The boolean is
// false when the frame is valid but carries nothing to apply, such as a shoulder button
// release.
func ParseFrame(raw []byte) (ControlFrame, Command, bool, error) {
	var frame ControlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ControlFrame{}, Command{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type != "" && frame.Type != FrameType {
		return frame, Command{}, false, fmt.Errorf("%w: type %q", ErrMalformedFrame, frame.Type)
	}
	command, ok, err := frame.Command()
	return frame, command, ok, err
}

// Command resolves the frame's action into a simulation command.
func (f ControlFrame) Command() (Command, bool, error) {
	switch action := strings.ToLower(strings.TrimSpace(f.Action)); action {
	case string(CommandStart):
		return Start(), true, nil
	case string(CommandReset):
		return Reset(), true, nil
	case string(CommandCut):
		return Cut(), true, nil
	case string(CommandToggle), string(CommandSet):
		engine, err := physics.ParseEngine(f.Engine)
		if err != nil {
			return Command{}, false, fmt.Errorf("%w: %q", ErrUnknownEngine, f.Engine)
		}
		if action == string(CommandToggle) {
			return Toggle(engine), true, nil
		}
		//1.- A set without an explicit state means "on".
		on := f.On == nil || *f.On
		return Set(engine, on), true, nil
	case "button":
		if f.Button == nil {
			return Command{}, false, fmt.Errorf("%w: missing button", ErrUnknownButton)
		}
		binding, found := gamepadButtons[*f.Button]
		if !found {
			return Command{}, false, fmt.Errorf("%w: %d", ErrUnknownButton, *f.Button)
		}
		pressed := f.On == nil || *f.On
		command, ok := binding(pressed)
		return command, ok, nil
	default:
		return Command{}, false, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}
}
