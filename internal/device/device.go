// Package device exposes the device's operation set as a facade over one
// serial channel. Each operation encodes exactly one wire command and
// dispatches it in the connection's current mode: confirmed (await
// acknowledgment) or high-performance (fire-and-forget).
package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"makcu/internal/link"
	"makcu/internal/proto"
)

// DefaultAckTimeout is the per-command acknowledgment window in confirmed
// mode.
const DefaultAckTimeout = 500 * time.Millisecond

// Device is the public facade over the channel, encoder, and monitor.
type Device struct {
	ch *link.Channel

	mu         sync.Mutex
	ackTimeout time.Duration

	// highPerf is read immediately before each dispatch; toggling it
	// affects only operations issued afterward, never ones in flight.
	highPerf atomic.Bool
}

// New returns a device backed by a real serial channel.
func New() *Device {
	return NewWithChannel(link.New())
}

// NewWithChannel returns a device over an existing channel. Tests use this
// with a channel built on a mock transport.
func NewWithChannel(ch *link.Channel) *Device {
	return &Device{ch: ch, ackTimeout: DefaultAckTimeout}
}

// Connect opens the link. An empty port name picks the first serial port
// present on the system.
func (d *Device) Connect(portName string) error {
	if portName == "" {
		ports, err := link.ListPorts()
		if err != nil {
			return fmt.Errorf("%w: list ports: %v", link.ErrConnectFailed, err)
		}
		if len(ports) == 0 {
			return fmt.Errorf("%w: no serial ports found", link.ErrConnectFailed)
		}
		portName = ports[0]
	}
	return d.ch.Connect(portName)
}

// Disconnect closes the link. Idempotent.
func (d *Device) Disconnect() error {
	return d.ch.Close()
}

// IsConnected reports whether the link is open.
func (d *Device) IsConnected() bool {
	return d.ch.Connected()
}

// PortName returns the connected endpoint.
func (d *Device) PortName() string {
	return d.ch.PortName()
}

// SetAckTimeout changes the confirmed-mode acknowledgment window.
func (d *Device) SetAckTimeout(t time.Duration) {
	d.mu.Lock()
	d.ackTimeout = t
	d.mu.Unlock()
}

func (d *Device) timeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ackTimeout
}

// SetHighPerformance toggles fire-and-forget dispatch. In this mode an
// operation's success means "submitted", never "executed and confirmed" —
// confirmation is traded for minimum latency.
func (d *Device) SetHighPerformance(on bool) {
	d.highPerf.Store(on)
}

// HighPerformance reports the current dispatch mode.
func (d *Device) HighPerformance() bool {
	return d.highPerf.Load()
}

// dispatch sends one encoded command in the current mode.
func (d *Device) dispatch(cmd string) error {
	if d.highPerf.Load() {
		return d.ch.Write(cmd)
	}
	resp, err := d.ch.SendAndAwait(cmd, d.timeout())
	if err != nil {
		return err
	}
	return proto.ParseAck(resp)
}

// query always awaits a reply, regardless of the dispatch mode.
func (d *Device) query(cmd string) (string, error) {
	return d.ch.SendAndAwait(cmd, d.timeout())
}

// MouseMove moves the cursor by a relative offset.
func (d *Device) MouseMove(dx, dy int) error {
	return d.dispatch(proto.Move(dx, dy))
}

// MouseMoveTo moves the cursor to an absolute position.
func (d *Device) MouseMoveTo(x, y int) error {
	return d.dispatch(proto.MoveTo(x, y))
}

// MouseDown presses a mouse button.
func (d *Device) MouseDown(b proto.MouseButton) error {
	cmd, err := proto.ButtonSet(b, true)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// MouseUp releases a mouse button.
func (d *Device) MouseUp(b proto.MouseButton) error {
	cmd, err := proto.ButtonSet(b, false)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// MouseClick performs count press/release cycles of a button.
func (d *Device) MouseClick(b proto.MouseButton, count int) error {
	if count < 1 {
		count = 1
	}
	cmd, err := proto.Click(b, count)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// MouseWheel scrolls the wheel by delta notches.
func (d *Device) MouseWheel(delta int) error {
	return d.dispatch(proto.Wheel(delta))
}

// LockMouseX locks or unlocks horizontal cursor movement.
func (d *Device) LockMouseX(lock bool) error {
	return d.dispatch(proto.LockAxisX(lock))
}

// LockMouseY locks or unlocks vertical cursor movement.
func (d *Device) LockMouseY(lock bool) error {
	return d.dispatch(proto.LockAxisY(lock))
}

// LockButton locks or unlocks a physical mouse button.
func (d *Device) LockButton(b proto.MouseButton, lock bool) error {
	cmd, err := proto.LockButton(b, lock)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// KeyDown presses a key.
func (d *Device) KeyDown(k proto.KeyCode) error {
	return d.dispatch(proto.KeyDown(k))
}

// KeyUp releases a key.
func (d *Device) KeyUp(k proto.KeyCode) error {
	return d.dispatch(proto.KeyUp(k))
}

// KeyPress presses and releases a key, holding it for hold if non-zero.
func (d *Device) KeyPress(k proto.KeyCode, hold time.Duration) error {
	return d.dispatch(proto.KeyPress(k, int(hold.Milliseconds())))
}

// MultiKeyDown presses several keys at once.
func (d *Device) MultiKeyDown(keys []proto.KeyCode) error {
	cmd, err := proto.MultiKeyDown(keys)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// MultiKeyUp releases several keys at once.
func (d *Device) MultiKeyUp(keys []proto.KeyCode) error {
	cmd, err := proto.MultiKeyUp(keys)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// MultiKeyPress presses and releases several keys together.
func (d *Device) MultiKeyPress(keys []proto.KeyCode, hold time.Duration) error {
	cmd, err := proto.MultiKeyPress(keys, int(hold.Milliseconds()))
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// TypeString types a literal string.
func (d *Device) TypeString(text string) error {
	cmd, err := proto.TypeString(text)
	if err != nil {
		return err
	}
	return d.dispatch(cmd)
}

// Calibrate re-zeroes the cursor position.
func (d *Device) Calibrate() error {
	return d.dispatch(proto.Calibrate())
}

// ScreenBounds sets the screen dimensions used by absolute moves.
func (d *Device) ScreenBounds(width, height int) error {
	return d.dispatch(proto.ScreenBounds(width, height))
}

// Reset restores device defaults.
func (d *Device) Reset() error {
	return d.dispatch(proto.Reset())
}

// EnableButtonReports toggles unsolicited button notifications.
func (d *Device) EnableButtonReports(on bool) error {
	return d.dispatch(proto.EnableButtonReports(on))
}

// Delay asks the device to pause between queued commands.
func (d *Device) Delay(dur time.Duration) error {
	return d.dispatch(proto.DeviceDelay(int(dur.Milliseconds())))
}

// Version queries the firmware version. Queries always await a reply.
func (d *Device) Version() (string, error) {
	return d.query(proto.Version())
}

// SerialNumber queries the device serial number.
func (d *Device) SerialNumber() (string, error) {
	return d.query(proto.SerialNumber())
}

// IsKeyDown queries whether a key is currently held.
func (d *Device) IsKeyDown(k proto.KeyCode) (bool, error) {
	resp, err := d.query(proto.IsKeyDown(k))
	if err != nil {
		return false, err
	}
	return proto.ParseBool(resp), nil
}

// SendRaw transmits an arbitrary command line and awaits the reply. The
// trailing carriage return is added if missing.
func (d *Device) SendRaw(cmd string) (string, error) {
	if len(cmd) == 0 {
		return "", proto.ErrEmptyArgs
	}
	if cmd[len(cmd)-1] != '\r' {
		cmd += "\r"
	}
	return d.query(cmd)
}

// ButtonStates returns the cached button snapshot without link traffic.
func (d *Device) ButtonStates() proto.ButtonMask {
	return d.ch.Buttons()
}

// IsButtonPressed reports the cached state of one button.
func (d *Device) IsButtonPressed(b proto.MouseButton) bool {
	return d.ch.Buttons().Pressed(b)
}

// SetMouseButtonCallback registers a callback for hardware button
// transitions, delivered in link arrival order.
func (d *Device) SetMouseButtonCallback(cb func(proto.MouseButton, bool)) {
	d.ch.OnButton(link.ButtonCallback(cb))
}
