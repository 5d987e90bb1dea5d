// Package macro records timestamped device actions and replays them with
// relative pacing and cooperative cancellation.
package macro

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"makcu/internal/proto"
)

// Kind tags an Action's payload.
type Kind int

const (
	KindKey Kind = iota
	KindMultiKey
	KindTypeString
	KindMouseButton
	KindMouseMove
	KindMouseWheel
	KindDelay
)

var kindTags = map[Kind]string{
	KindKey:         "key",
	KindMultiKey:    "multikey",
	KindTypeString:  "text",
	KindMouseButton: "button",
	KindMouseMove:   "move",
	KindMouseWheel:  "wheel",
	KindDelay:       "delay",
}

func (k Kind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return "unknown"
}

// Action is one recorded unit of device behavior. It is immutable once
// created and carries a timestamp relative to the recording start plus a
// kind-specific payload.
type Action struct {
	At   time.Duration
	Kind Kind

	Key     proto.KeyCode
	Keys    []proto.KeyCode
	Pressed bool
	Button  proto.MouseButton
	X, Y    int
	Delta   int
	Text    string
	Hold    time.Duration
}

// Runner is the operation subset playback needs. *device.Device satisfies
// it; tests use fakes.
type Runner interface {
	KeyDown(k proto.KeyCode) error
	KeyUp(k proto.KeyCode) error
	MultiKeyDown(keys []proto.KeyCode) error
	MultiKeyUp(keys []proto.KeyCode) error
	TypeString(text string) error
	MouseDown(b proto.MouseButton) error
	MouseUp(b proto.MouseButton) error
	MouseMove(dx, dy int) error
	MouseWheel(delta int) error
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// serialize renders the kind-specific payload as one comma-separated
// field list; the session prefixes the timestamp when writing a file.
func (a Action) serialize() string {
	switch a.Kind {
	case KindKey:
		return fmt.Sprintf("key,%d,%d", a.Key, boolInt(a.Pressed))
	case KindMultiKey:
		return fmt.Sprintf("multikey,%s,%d", joinKeys(a.Keys), boolInt(a.Pressed))
	case KindTypeString:
		return "text," + strconv.Quote(a.Text)
	case KindMouseButton:
		return fmt.Sprintf("button,%d,%d", a.Button, boolInt(a.Pressed))
	case KindMouseMove:
		return fmt.Sprintf("move,%d,%d", a.X, a.Y)
	case KindMouseWheel:
		return fmt.Sprintf("wheel,%d", a.Delta)
	case KindDelay:
		return fmt.Sprintf("delay,%d", a.Hold.Milliseconds())
	}
	return "unknown"
}

// execute runs the action against the runner. Delay actions sleep locally
// instead of touching the device.
func (a Action) execute(r Runner) error {
	switch a.Kind {
	case KindKey:
		if a.Pressed {
			return r.KeyDown(a.Key)
		}
		return r.KeyUp(a.Key)
	case KindMultiKey:
		if a.Pressed {
			return r.MultiKeyDown(a.Keys)
		}
		return r.MultiKeyUp(a.Keys)
	case KindTypeString:
		return r.TypeString(a.Text)
	case KindMouseButton:
		if a.Pressed {
			return r.MouseDown(a.Button)
		}
		return r.MouseUp(a.Button)
	case KindMouseMove:
		return r.MouseMove(a.X, a.Y)
	case KindMouseWheel:
		return r.MouseWheel(a.Delta)
	case KindDelay:
		time.Sleep(a.Hold)
		return nil
	}
	return fmt.Errorf("%w: kind %d", ErrBadFormat, a.Kind)
}

// joinKeys separates key codes with '+' so the list stays one CSV field.
func joinKeys(keys []proto.KeyCode) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Itoa(int(k))
	}
	return strings.Join(parts, "+")
}

func splitKeys(s string) ([]proto.KeyCode, error) {
	parts := strings.Split(s, "+")
	keys := make([]proto.KeyCode, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: key code %q", ErrBadFormat, p)
		}
		keys = append(keys, proto.KeyCode(v))
	}
	return keys, nil
}

// parseAction reads one "<ms>,<tag>,<fields>" file line back into an
// Action. Kinds not covered by the serializer above do not round-trip;
// that is a documented limitation of the format, not patched here.
func parseAction(line string) (Action, error) {
	head, rest, ok := strings.Cut(line, ",")
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrBadFormat, line)
	}
	ms, err := strconv.ParseInt(head, 10, 64)
	if err != nil || ms < 0 {
		return Action{}, fmt.Errorf("%w: timestamp %q", ErrBadFormat, head)
	}
	a := Action{At: time.Duration(ms) * time.Millisecond}

	tag, payload, _ := strings.Cut(rest, ",")
	switch tag {
	case "key":
		code, pressed, err := parseCodePressed(payload)
		if err != nil {
			return Action{}, err
		}
		a.Kind, a.Key, a.Pressed = KindKey, proto.KeyCode(code), pressed
	case "multikey":
		keysField, pressedField, ok := cutLast(payload)
		if !ok {
			return Action{}, fmt.Errorf("%w: %q", ErrBadFormat, line)
		}
		keys, err := splitKeys(keysField)
		if err != nil {
			return Action{}, err
		}
		a.Kind, a.Keys, a.Pressed = KindMultiKey, keys, pressedField == "1"
	case "text":
		text, err := strconv.Unquote(payload)
		if err != nil {
			return Action{}, fmt.Errorf("%w: text %q", ErrBadFormat, payload)
		}
		a.Kind, a.Text = KindTypeString, text
	case "button":
		code, pressed, err := parseCodePressed(payload)
		if err != nil {
			return Action{}, err
		}
		a.Kind, a.Button, a.Pressed = KindMouseButton, proto.MouseButton(code), pressed
	case "move":
		x, y, err := parsePair(payload)
		if err != nil {
			return Action{}, err
		}
		a.Kind, a.X, a.Y = KindMouseMove, x, y
	case "wheel":
		delta, err := strconv.Atoi(payload)
		if err != nil {
			return Action{}, fmt.Errorf("%w: wheel %q", ErrBadFormat, payload)
		}
		a.Kind, a.Delta = KindMouseWheel, delta
	case "delay":
		hold, err := strconv.ParseInt(payload, 10, 64)
		if err != nil || hold < 0 {
			return Action{}, fmt.Errorf("%w: delay %q", ErrBadFormat, payload)
		}
		a.Kind, a.Hold = KindDelay, time.Duration(hold)*time.Millisecond
	default:
		return Action{}, fmt.Errorf("%w: action kind %q", ErrBadFormat, tag)
	}
	return a, nil
}

func parseCodePressed(payload string) (int, bool, error) {
	codeField, pressedField, ok := strings.Cut(payload, ",")
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", ErrBadFormat, payload)
	}
	code, err := strconv.Atoi(codeField)
	if err != nil || code < 0 || code > 255 {
		return 0, false, fmt.Errorf("%w: code %q", ErrBadFormat, codeField)
	}
	return code, pressedField == "1", nil
}

func parsePair(payload string) (int, int, error) {
	first, second, ok := strings.Cut(payload, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadFormat, payload)
	}
	x, err := strconv.Atoi(first)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadFormat, first)
	}
	y, err := strconv.Atoi(second)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadFormat, second)
	}
	return x, y, nil
}

// cutLast splits on the final comma: multikey payloads contain the key
// list first and the pressed flag last.
func cutLast(s string) (string, string, bool) {
	i := strings.LastIndex(s, ",")
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
