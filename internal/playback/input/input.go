// Package input maps generic game-controller events onto the Nano gamepad
// layout and keeps the resulting controller state.
package input

import (
	"fmt"
	"strings"
	"sync"
)

// Button is a Nano gamepad button.
type Button uint8

const (
	ButtonA Button = iota
	ButtonB
	ButtonX
	ButtonY
	ButtonDPadUp
	ButtonDPadDown
	ButtonDPadLeft
	ButtonDPadRight
	ButtonStart
	ButtonBack
	ButtonLeftShoulder
	ButtonRightShoulder
	ButtonLeftThumbstick
	ButtonRightThumbstick
	ButtonGuide

	buttonCount
)

var buttonNames = [buttonCount]string{
	"a", "b", "x", "y",
	"dpad_up", "dpad_down", "dpad_left", "dpad_right",
	"start", "back",
	"left_shoulder", "right_shoulder",
	"left_thumbstick", "right_thumbstick",
	"guide",
}

func (b Button) String() string {
	if b >= buttonCount {
		return fmt.Sprintf("button(%d)", uint8(b))
	}
	return buttonNames[b]
}

// Axis is a Nano gamepad analogue axis.
type Axis uint8

const (
	AxisLeftX Axis = iota
	AxisLeftY
	AxisRightX
	AxisRightY
	AxisTriggerLeft
	AxisTriggerRight

	axisCount
)

var axisNames = [axisCount]string{"left_x", "left_y", "right_x", "right_y", "trigger_left", "trigger_right"}

func (a Axis) String() string {
	if a >= axisCount {
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
	return axisNames[a]
}

// IsTrigger reports whether the axis is a one-sided trigger.
func (a Axis) IsTrigger() bool {
	return a == AxisTriggerLeft || a == AxisTriggerRight
}

// controllerButtons is indexed by the generic controller button number
// (A, B, X, Y, back, guide, start, left stick, right stick, left shoulder,
// right shoulder, dpad up, down, left, right).
var controllerButtons = [...]Button{
	ButtonA,
	ButtonB,
	ButtonX,
	ButtonY,
	ButtonBack,
	ButtonGuide,
	ButtonStart,
	ButtonLeftThumbstick,
	ButtonRightThumbstick,
	ButtonLeftShoulder,
	ButtonRightShoulder,
	ButtonDPadUp,
	ButtonDPadDown,
	ButtonDPadLeft,
	ButtonDPadRight,
}

// controllerAxes is indexed by the generic controller axis number.
var controllerAxes = [...]Axis{
	AxisLeftX,
	AxisLeftY,
	AxisRightX,
	AxisRightY,
	AxisTriggerLeft,
	AxisTriggerRight,
}

// MapButton translates a generic controller button number.
func MapButton(code int) (Button, bool) {
	if code < 0 || code >= len(controllerButtons) {
		return 0, false
	}
	return controllerButtons[code], true
}

// MapAxis translates a generic controller axis number.
func MapAxis(code int) (Axis, bool) {
	if code < 0 || code >= len(controllerAxes) {
		return 0, false
	}
	return controllerAxes[code], true
}

// ParseButton accepts a button name such as "dpad_up".
func ParseButton(s string) (Button, error) {
	for i, name := range buttonNames {
		if strings.EqualFold(s, name) {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

// ParseAxis accepts an axis name such as "trigger_left".
func ParseAxis(s string) (Axis, error) {
	for i, name := range axisNames {
		if strings.EqualFold(s, name) {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// EventType is the kind of controller event.
type EventType uint8

const (
	EventControllerAdded EventType = iota
	EventControllerRemoved
	EventButtonPressed
	EventButtonReleased
	EventAxisMoved
)

var eventNames = [...]string{
	EventControllerAdded:   "controller_added",
	EventControllerRemoved: "controller_removed",
	EventButtonPressed:     "button_pressed",
	EventButtonReleased:    "button_released",
	EventAxisMoved:         "axis_moved",
}

func (e EventType) String() string {
	if int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", uint8(e))
	}
	return eventNames[e]
}

// ParseEventType accepts an event name such as "button_pressed".
func ParseEventType(s string) (EventType, error) {
	for i, name := range eventNames {
		if strings.EqualFold(s, name) {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown input event %q", s)
}

// Event is one controller event in Nano terms. Value carries the raw
// signed 16-bit axis position for EventAxisMoved.
type Event struct {
	Type       EventType
	Controller int
	Timestamp  uint32
	Button     Button
	Axis       Axis
	Value      int16
}

// Snapshot is the controller state at one point in time. Buttons hold the
// number of transitions since the controller was added, so a press and
// release between two snapshots is still visible.
type Snapshot struct {
	Timestamp    uint32            `json:"timestamp"`
	Connected    bool              `json:"connected"`
	Controller   int               `json:"controller"`
	Pressed      map[string]bool   `json:"pressed"`
	Transitions  map[string]uint8  `json:"transitions"`
	LeftThumbX   uint16            `json:"left_thumb_x"`
	LeftThumbY   uint16            `json:"left_thumb_y"`
	RightThumbX  uint16            `json:"right_thumb_x"`
	RightThumbY  uint16            `json:"right_thumb_y"`
	LeftTrigger  uint8             `json:"left_trigger"`
	RightTrigger uint8             `json:"right_trigger"`
	Events       map[string]uint64 `json:"events"`
}

// State applies events from one controller at a time.
type State struct {
	mu          sync.Mutex
	timestamp   uint32
	connected   bool
	controller  int
	pressed     [buttonCount]bool
	transitions [buttonCount]uint8
	thumbs      [4]uint16
	triggers    [2]uint8
	events      [len(eventNames)]uint64
}

// NewState returns a state with no controller attached.
func NewState() *State {
	return &State{controller: -1}
}

// Apply updates the state. Adding a controller replaces the active one.
func (s *State) Apply(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(e.Type) >= len(eventNames) {
		return fmt.Errorf("unsupported input event %d", e.Type)
	}
	s.timestamp = e.Timestamp

	switch e.Type {
	case EventControllerAdded:
		s.resetLocked()
		s.connected = true
		s.controller = e.Controller
	case EventControllerRemoved:
		s.resetLocked()
	case EventButtonPressed, EventButtonReleased:
		if e.Button >= buttonCount {
			return fmt.Errorf("unsupported button %d", e.Button)
		}
		pressed := e.Type == EventButtonPressed
		if s.pressed[e.Button] != pressed {
			s.pressed[e.Button] = pressed
			s.transitions[e.Button]++
		}
	case EventAxisMoved:
		if e.Axis >= axisCount {
			return fmt.Errorf("unsupported axis %d", e.Axis)
		}
		if e.Axis.IsTrigger() {
			s.triggers[e.Axis-AxisTriggerLeft] = triggerValue(e.Value)
		} else {
			s.thumbs[e.Axis] = uint16(e.Value)
		}
	}
	s.events[e.Type]++
	return nil
}

// triggerValue scales the positive half of the axis range to a byte.
func triggerValue(v int16) uint8 {
	if v <= 0 {
		return 0
	}
	return uint8(v >> 7)
}

func (s *State) resetLocked() {
	s.connected = false
	s.controller = -1
	s.pressed = [buttonCount]bool{}
	s.transitions = [buttonCount]uint8{}
	s.thumbs = [4]uint16{}
	s.triggers = [2]uint8{}
}

// Pressed reports whether b is held.
func (s *State) Pressed(b Button) bool {
	if b >= buttonCount {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed[b]
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Timestamp:    s.timestamp,
		Connected:    s.connected,
		Controller:   s.controller,
		Pressed:      make(map[string]bool, buttonCount),
		Transitions:  make(map[string]uint8, buttonCount),
		LeftThumbX:   s.thumbs[AxisLeftX],
		LeftThumbY:   s.thumbs[AxisLeftY],
		RightThumbX:  s.thumbs[AxisRightX],
		RightThumbY:  s.thumbs[AxisRightY],
		LeftTrigger:  s.triggers[0],
		RightTrigger: s.triggers[1],
		Events:       make(map[string]uint64, len(eventNames)),
	}
	for i := Button(0); i < buttonCount; i++ {
		snap.Pressed[i.String()] = s.pressed[i]
		snap.Transitions[i.String()] = s.transitions[i]
	}
	for i, n := range s.events {
		snap.Events[eventNames[i]] = n
	}
	return snap
}
