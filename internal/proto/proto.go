// Package proto implements the textual command protocol spoken by the
// device: one ASCII command line per logical operation, the binary speed
// negotiation frame, and the rule that separates unsolicited button
// notifications from acknowledgment text on the shared link.
package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Link speeds. The device enumerates at InitialBaudRate; after the
// negotiation frame is sent the host must close the port and reopen it at
// OperatingBaudRate.
const (
	InitialBaudRate   = 115200
	OperatingBaudRate = 4000000
)

// BaudChangeFrame is the fixed binary sequence that switches the device to
// OperatingBaudRate. It is transmitted once, at InitialBaudRate.
var BaudChangeFrame = []byte{0xDE, 0xAD, 0x05, 0x00, 0xA5, 0x00, 0x09, 0x3D, 0x00}

// NotificationThreshold classifies inbound bytes: a byte below this value
// that is not CR or LF is a button-state bitmask, everything else is
// acknowledgment text. The protocol carries no checksum or length framing;
// this heuristic is how the hardware actually behaves, inherited as-is.
const NotificationThreshold = 32

// IsNotification reports whether b is an unsolicited button bitmask byte.
func IsNotification(b byte) bool {
	return b < NotificationThreshold && b != '\r' && b != '\n'
}

var (
	// ErrEmptyArgs rejects a command with a missing argument before
	// anything is transmitted.
	ErrEmptyArgs = errors.New("empty argument list")

	// ErrUnknownButton rejects a button identifier outside the five the
	// hardware reports.
	ErrUnknownButton = errors.New("unknown mouse button")

	// ErrBadAck means the device answered with text that cannot be read
	// as an acknowledgment.
	ErrBadAck = errors.New("unparseable acknowledgment")
)

// MouseButton identifies one of the five physical buttons the device
// monitors. The numeric values match the wire protocol and the bit
// positions of ButtonMask.
type MouseButton uint8

const (
	ButtonLeft MouseButton = iota
	ButtonRight
	ButtonMiddle
	ButtonSide4
	ButtonSide5
)

// ButtonCount is the number of button bits in a notification byte.
const ButtonCount = 5

func (b MouseButton) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonSide4:
		return "side4"
	case ButtonSide5:
		return "side5"
	}
	return "unknown"
}

// ButtonMask is the device's button-state bitfield, one bit per
// MouseButton.
type ButtonMask uint8

// Pressed reports whether b's bit is set in the mask.
func (m ButtonMask) Pressed(b MouseButton) bool {
	return m&(1<<b) != 0
}

// KeyCode is an opaque key identifier in the device's keyboard namespace.
// The values follow the USB HID usage table; only the common subset is
// named here.
type KeyCode uint8

const (
	KeyA KeyCode = 0x04 + iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
)

const (
	Key1 KeyCode = 0x1E + iota
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0
)

const (
	KeyEnter     KeyCode = 0x28
	KeyEscape    KeyCode = 0x29
	KeyBackspace KeyCode = 0x2A
	KeyTab       KeyCode = 0x2B
	KeySpace     KeyCode = 0x2C
)

const (
	KeyLeftCtrl KeyCode = 0xE0 + iota
	KeyLeftShift
	KeyLeftAlt
	KeyLeftGUI
	KeyRightCtrl
	KeyRightShift
	KeyRightAlt
	KeyRightGUI
)

// ErrUnknownKey rejects a key name outside the named subset.
var ErrUnknownKey = errors.New("unknown key name")

var keyNames = map[KeyCode]string{
	KeyEnter:      "enter",
	KeyEscape:     "escape",
	KeyBackspace:  "backspace",
	KeyTab:        "tab",
	KeySpace:      "space",
	KeyLeftCtrl:   "ctrl",
	KeyLeftShift:  "shift",
	KeyLeftAlt:    "alt",
	KeyLeftGUI:    "gui",
	KeyRightCtrl:  "rctrl",
	KeyRightShift: "rshift",
	KeyRightAlt:   "ralt",
	KeyRightGUI:   "rgui",
}

var keyCodes = func() map[string]KeyCode {
	m := make(map[string]KeyCode, len(keyNames)+36)
	for k, name := range keyNames {
		m[name] = k
	}
	for k := KeyA; k <= KeyZ; k++ {
		m[string('a'+rune(k-KeyA))] = k
	}
	for k := Key1; k <= Key9; k++ {
		m[string('1'+rune(k-Key1))] = k
	}
	m["0"] = Key0
	return m
}()

// String returns the lowercase key name for the named subset, or the
// decimal code for everything else.
func (k KeyCode) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	if k >= KeyA && k <= KeyZ {
		return string('a' + rune(k-KeyA))
	}
	if k >= Key1 && k <= Key9 {
		return string('1' + rune(k-Key1))
	}
	if k == Key0 {
		return "0"
	}
	return strconv.Itoa(int(k))
}

// ParseKeyCode resolves a key name (as produced by String) back to its
// code. Bare decimal codes are accepted for keys outside the named subset.
func ParseKeyCode(name string) (KeyCode, error) {
	if k, ok := keyCodes[strings.ToLower(name)]; ok {
		return k, nil
	}
	if v, err := strconv.Atoi(name); err == nil && v >= 0 && v <= 255 {
		return KeyCode(v), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// command assembles one wire line: km.<verb>(<args>)\r
func command(verb string, args ...string) string {
	return "km." + verb + "(" + strings.Join(args, ",") + ")\r"
}

func itoa(v int) string { return strconv.Itoa(v) }

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// Move encodes a relative cursor movement.
func Move(dx, dy int) string { return command("move", itoa(dx), itoa(dy)) }

// MoveTo encodes an absolute cursor movement.
func MoveTo(x, y int) string { return command("moveto", itoa(x), itoa(y)) }

// buttonVerbs maps a MouseButton to its press/release command verb.
var buttonVerbs = [ButtonCount]string{"left", "right", "middle", "side1", "side2"}

// ButtonSet encodes pressing (down=true) or releasing a mouse button.
func ButtonSet(b MouseButton, down bool) (string, error) {
	if int(b) >= len(buttonVerbs) {
		return "", fmt.Errorf("%w: %d", ErrUnknownButton, b)
	}
	return command(buttonVerbs[b], flag(down)), nil
}

// Click encodes count full press/release cycles of a button.
func Click(b MouseButton, count int) (string, error) {
	if int(b) >= len(buttonVerbs) {
		return "", fmt.Errorf("%w: %d", ErrUnknownButton, b)
	}
	return command("click", itoa(int(b)), itoa(count)), nil
}

// Wheel encodes a scroll wheel movement.
func Wheel(delta int) string { return command("wheel", itoa(delta)) }

// KeyDown encodes pressing a key.
func KeyDown(k KeyCode) string { return command("down", itoa(int(k))) }

// KeyUp encodes releasing a key.
func KeyUp(k KeyCode) string { return command("up", itoa(int(k))) }

// KeyPress encodes a press/release cycle, optionally held for durMs.
func KeyPress(k KeyCode, durMs int) string {
	if durMs > 0 {
		return command("press", itoa(int(k)), itoa(durMs))
	}
	return command("press", itoa(int(k)))
}

func joinKeys(keys []KeyCode) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = itoa(int(k))
	}
	return strings.Join(parts, ",")
}

// MultiKeyDown encodes pressing several keys at once.
func MultiKeyDown(keys []KeyCode) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: multidown", ErrEmptyArgs)
	}
	return command("multidown", joinKeys(keys)), nil
}

// MultiKeyUp encodes releasing several keys at once.
func MultiKeyUp(keys []KeyCode) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: multiup", ErrEmptyArgs)
	}
	return command("multiup", joinKeys(keys)), nil
}

// MultiKeyPress encodes a combined press/release of several keys,
// optionally held for durMs.
func MultiKeyPress(keys []KeyCode, durMs int) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: multipress", ErrEmptyArgs)
	}
	args := joinKeys(keys)
	if durMs > 0 {
		args += "," + itoa(durMs)
	}
	return command("multipress", args), nil
}

// TypeString encodes typing a literal string. The protocol defines no
// quote escaping; text containing a double quote will not survive the
// trip.
func TypeString(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("%w: string", ErrEmptyArgs)
	}
	return command("string", `"`+text+`"`), nil
}

// IsKeyDown encodes a query for a key's current state.
func IsKeyDown(k KeyCode) string { return command("isdown", itoa(int(k))) }

// LockAxisX encodes locking or unlocking horizontal cursor movement.
func LockAxisX(lock bool) string { return command("lock_mx", flag(lock)) }

// LockAxisY encodes locking or unlocking vertical cursor movement.
func LockAxisY(lock bool) string { return command("lock_my", flag(lock)) }

var lockVerbs = [ButtonCount]string{"lock_ml", "lock_mr", "lock_mm", "lock_ms1", "lock_ms2"}

// LockButton encodes locking or unlocking a physical button.
func LockButton(b MouseButton, lock bool) (string, error) {
	if int(b) >= len(lockVerbs) {
		return "", fmt.Errorf("%w: %d", ErrUnknownButton, b)
	}
	return command(lockVerbs[b], flag(lock)), nil
}

// EnableButtonReports encodes toggling unsolicited button notifications.
func EnableButtonReports(on bool) string { return command("buttons", flag(on)) }

// Version encodes a firmware version query.
func Version() string { return command("version") }

// SerialNumber encodes a device serial number query.
func SerialNumber() string { return command("mac") }

// Reset encodes restoring device defaults.
func Reset() string { return command("init") }

// Calibrate encodes re-zeroing the cursor position.
func Calibrate() string { return command("zero") }

// ScreenBounds encodes the screen dimensions used by absolute moves.
func ScreenBounds(width, height int) string {
	return command("screen", itoa(width), itoa(height))
}

// DeviceDelay encodes an on-device pause between queued commands.
func DeviceDelay(ms int) string { return command("delay", itoa(ms)) }

// ParseAck turns raw acknowledgment text into a success/failure result.
// The device answers free-form text; only an empty reply or an explicit
// error marker is treated as failure.
func ParseAck(text string) error {
	t := strings.TrimSpace(text)
	if t == "" {
		return ErrBadAck
	}
	if strings.HasPrefix(strings.ToLower(t), "error") {
		return fmt.Errorf("%w: %q", ErrBadAck, t)
	}
	return nil
}

// ParseBool reads a boolean query reply. The firmware answers isdown-style
// queries with "1" (down) or "3" (down and locked).
func ParseBool(text string) bool {
	return strings.Contains(text, "1") || strings.Contains(text, "3")
}
