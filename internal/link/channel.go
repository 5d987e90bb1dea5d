// Package link owns the serial connection to the device. A Channel is the
// single owner of the open port: every outbound command goes through it,
// and its monitor goroutine is the only reader, splitting inbound bytes
// into button notifications and acknowledgment lines.
package link

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"makcu/internal/proto"
)

// Timing groups the handshake and polling delays. Zero fields fall back to
// the defaults below; tests shrink them so a mock handshake stays fast.
type Timing struct {
	// ReopenDelay separates closing the port at the initial speed from
	// reopening it at the operating speed.
	ReopenDelay time.Duration

	// SettleDelay gives the device time to come up at the new speed
	// before the initialization command is sent.
	SettleDelay time.Duration

	// PollInterval bounds how long a monitor read blocks. The same link
	// serves SendAndAwait without a demultiplexing layer, so the monitor
	// polls instead of blocking indefinitely: shorter intervals cost CPU,
	// longer ones cost notification latency.
	PollInterval time.Duration
}

const (
	defaultReopenDelay  = 100 * time.Millisecond
	defaultSettleDelay  = 2 * time.Second
	defaultPollInterval = 5 * time.Millisecond
)

func (t Timing) withDefaults() Timing {
	if t.ReopenDelay == 0 {
		t.ReopenDelay = defaultReopenDelay
	}
	if t.SettleDelay == 0 {
		t.SettleDelay = defaultSettleDelay
	}
	if t.PollInterval == 0 {
		t.PollInterval = defaultPollInterval
	}
	return t
}

// ButtonCallback receives one call per observed button transition.
type ButtonCallback func(button proto.MouseButton, pressed bool)

// pendingCommand is one transmitted command awaiting its acknowledgment.
// Fire-and-forget writes never create one; SendAndAwait creates exactly
// one per call, resolved by the next acknowledgment line or discarded on
// timeout. It is never retried: retrying a physical button-press command
// could double-actuate the hardware.
type pendingCommand struct {
	resp chan string
}

// Channel owns the serial link exclusively.
type Channel struct {
	open   Opener
	timing Timing

	mu        sync.Mutex // guards port, connected, pending, callbacks
	port      Transport
	portName  string
	connected bool
	pending   *pendingCommand
	callbacks []ButtonCallback

	writeMu sync.Mutex // serializes raw writes to the port
	cmdMu   sync.Mutex // one confirmed command in flight (half-duplex link)

	buttons atomic.Uint32 // current proto.ButtonMask; monitor is the only writer

	stop chan struct{}
	done chan struct{}
}

// New returns a channel that opens real serial ports with default timing.
func New() *Channel {
	return NewWithOpener(OpenSerial, Timing{})
}

// NewWithOpener returns a channel using a custom transport opener, so the
// full connect handshake can run against a mock port.
func NewWithOpener(open Opener, timing Timing) *Channel {
	return &Channel{open: open, timing: timing.withDefaults()}
}

// Connect performs the speed-negotiation handshake and starts the monitor:
// open at the initial speed, transmit the negotiation frame, close, reopen
// at the operating speed, then enable button notifications after a settle
// delay. Any failure closes the port and returns ErrConnectFailed.
func (c *Channel) Connect(portName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	port, err := c.open(portName, proto.InitialBaudRate)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConnectFailed, portName, err)
	}

	if _, err := port.Write(proto.BaudChangeFrame); err != nil {
		port.Close()
		return fmt.Errorf("%w: negotiation frame: %v", ErrConnectFailed, err)
	}
	port.Close()
	time.Sleep(c.timing.ReopenDelay)

	port, err = c.open(portName, proto.OperatingBaudRate)
	if err != nil {
		return fmt.Errorf("%w: reopen at %d baud: %v", ErrConnectFailed, proto.OperatingBaudRate, err)
	}

	time.Sleep(c.timing.SettleDelay)
	if _, err := port.Write([]byte(proto.EnableButtonReports(true))); err != nil {
		port.Close()
		return fmt.Errorf("%w: init command: %v", ErrConnectFailed, err)
	}

	if err := port.SetReadTimeout(c.timing.PollInterval); err != nil {
		port.Close()
		return fmt.Errorf("%w: read timeout: %v", ErrConnectFailed, err)
	}

	c.port = port
	c.portName = portName
	c.connected = true
	c.buttons.Store(0)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.monitor(port, c.stop, c.done)

	log.Printf("Link: connected to %s at %d baud", portName, proto.OperatingBaudRate)
	return nil
}

// Close tears the link down. Idempotent. The monitor is signalled and
// joined before the transport closes, so it never reads a closed port.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	stop, done, port, name := c.stop, c.done, c.port, c.portName
	c.connected = false
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	c.port = nil
	c.pending = nil
	c.buttons.Store(0)
	c.mu.Unlock()

	err := port.Close()
	log.Printf("Link: disconnected from %s", name)
	return err
}

// Connected reports whether the link is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PortName returns the endpoint the channel is connected to.
func (c *Channel) PortName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portName
}

// Write transmits a command without waiting for anything. Success means
// the bytes were queued on the link, nothing more.
func (c *Channel) Write(cmd string) error {
	c.mu.Lock()
	port, ok := c.port, c.connected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// SendAndAwait transmits cmd and blocks the caller until the device
// acknowledges or the timeout elapses. On timeout the command's effect is
// unknown and nothing is retried here; retry policy belongs to callers,
// who know whether their operation is idempotent.
func (c *Channel) SendAndAwait(cmd string, timeout time.Duration) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	p := &pendingCommand{resp: make(chan string, 1)}
	c.pending = p
	c.mu.Unlock()

	if err := c.Write(cmd); err != nil {
		c.clearPending(p)
		return "", err
	}

	select {
	case resp := <-p.resp:
		return resp, nil
	case <-time.After(timeout):
		c.clearPending(p)
		return "", fmt.Errorf("%w after %v", ErrAckTimeout, timeout)
	}
}

func (c *Channel) clearPending(p *pendingCommand) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// Buttons returns the current button-state snapshot without touching the
// link.
func (c *Channel) Buttons() proto.ButtonMask {
	return proto.ButtonMask(c.buttons.Load())
}

// OnButton registers a callback invoked once per button transition, in the
// order the notification bytes arrive on the link.
func (c *Channel) OnButton(cb ButtonCallback) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, cb)
	c.mu.Unlock()
}
