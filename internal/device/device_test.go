package device

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"makcu/internal/link"
	"makcu/internal/proto"
)

// ackPort is an in-memory transport that answers every command line with
// "ok\r\n" unless muted. Reads return (0, nil) on timeout like a serial
// port with a read timeout set.
type ackPort struct {
	baud int

	mu         sync.Mutex
	writes     []byte
	writeCalls int
	muted      bool
	closed     bool

	reads chan []byte
}

func newAckPort(baud int) *ackPort {
	return &ackPort{baud: baud, reads: make(chan []byte, 64)}
}

func (p *ackPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	select {
	case data := <-p.reads:
		return copy(b, data), nil
	case <-time.After(time.Millisecond):
		return 0, nil
	}
}

func (p *ackPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	p.writes = append(p.writes, b...)
	p.writeCalls++

	// The connect-time init command is written before the monitor starts;
	// acknowledging it would leave a stray line for a later command.
	if !p.muted && !strings.HasPrefix(string(b), "km.buttons(") {
		// One acknowledgment per command line in this write.
		for i := 0; i < strings.Count(string(b), "\r"); i++ {
			p.reads <- []byte("ok\r\n")
		}
	}
	return len(b), nil
}

func (p *ackPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *ackPort) SetReadTimeout(t time.Duration) error { return nil }

func (p *ackPort) setMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *ackPort) snapshot() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.writes), p.writeCalls
}

type ackOpener struct {
	mu    sync.Mutex
	ports []*ackPort
}

func (o *ackOpener) open(name string, baud int) (link.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := newAckPort(baud)
	o.ports = append(o.ports, p)
	return p, nil
}

func testDevice(t *testing.T) (*Device, *ackPort) {
	t.Helper()
	opener := &ackOpener{}
	ch := link.NewWithOpener(opener.open, link.Timing{
		ReopenDelay:  time.Millisecond,
		SettleDelay:  time.Millisecond,
		PollInterval: time.Millisecond,
	})
	d := NewWithChannel(ch)
	if err := d.Connect("mock0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { d.Disconnect() })
	return d, opener.ports[1]
}

// TestConfirmedDispatch tests that confirmed-mode operations transmit the
// expected command and succeed on acknowledgment
func TestConfirmedDispatch(t *testing.T) {
	d, port := testDevice(t)

	if err := d.MouseMove(10, -5); err != nil {
		t.Fatalf("MouseMove failed: %v", err)
	}
	writes, _ := port.snapshot()
	if !strings.Contains(writes, "km.move(10,-5)\r") {
		t.Errorf("Expected move command on the wire, got %q", writes)
	}

	if err := d.KeyPress(proto.KeyEnter, 0); err != nil {
		t.Fatalf("KeyPress failed: %v", err)
	}
	if err := d.MouseClick(proto.ButtonLeft, 0); err != nil {
		t.Fatalf("MouseClick failed: %v", err)
	}
	writes, _ = port.snapshot()
	if !strings.Contains(writes, "km.click(0,1)\r") {
		t.Errorf("Expected click count clamped to 1, got %q", writes)
	}
}

// TestAckTimeout tests that a silent device times out and leaves the
// connection usable
func TestAckTimeout(t *testing.T) {
	d, port := testDevice(t)
	d.SetAckTimeout(50 * time.Millisecond)

	port.setMuted(true)
	err := d.MouseMove(1, 1)
	if !errors.Is(err, link.ErrAckTimeout) {
		t.Fatalf("Expected ErrAckTimeout, got %v", err)
	}
	if !d.IsConnected() {
		t.Fatal("Expected device to remain connected after timeout")
	}

	port.setMuted(false)
	if err := d.MouseMove(2, 2); err != nil {
		t.Fatalf("Expected operation after timeout to succeed, got %v", err)
	}
}

// TestHighPerformanceMode tests that fire-and-forget dispatch skips the
// acknowledgment wait and only affects operations issued after the toggle
func TestHighPerformanceMode(t *testing.T) {
	d, port := testDevice(t)
	d.SetAckTimeout(50 * time.Millisecond)
	port.setMuted(true)

	d.SetHighPerformance(true)
	if !d.HighPerformance() {
		t.Fatal("Expected high-performance mode to be on")
	}

	start := time.Now()
	if err := d.MouseMove(5, 5); err != nil {
		t.Fatalf("Expected fire-and-forget success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Expected immediate return in high-performance mode, took %v", elapsed)
	}

	// Queries still await a reply even in high-performance mode.
	if _, err := d.Version(); !errors.Is(err, link.ErrAckTimeout) {
		t.Errorf("Expected query to time out on muted port, got %v", err)
	}

	// Toggling back restores confirmed dispatch.
	d.SetHighPerformance(false)
	if err := d.MouseMove(6, 6); !errors.Is(err, link.ErrAckTimeout) {
		t.Errorf("Expected confirmed dispatch to time out on muted port, got %v", err)
	}
}

// TestBatchSingleWrite tests that a batch transmits all commands in one
// contiguous write, in order
func TestBatchSingleWrite(t *testing.T) {
	d, port := testDevice(t)

	_, before := port.snapshot()
	b := d.Batch().
		MouseMove(1, 2).
		MouseDown(proto.ButtonLeft).
		Delay(20 * time.Millisecond).
		MouseUp(proto.ButtonLeft).
		TypeString("hi")
	if b.Len() != 5 {
		t.Fatalf("Expected 5 batched commands, got %d", b.Len())
	}
	if err := b.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	writes, after := port.snapshot()
	if after != before+1 {
		t.Errorf("Expected exactly one write for the batch, got %d", after-before)
	}
	want := "km.move(1,2)\rkm.left(1)\rkm.delay(20)\rkm.left(0)\rkm.string(\"hi\")\r"
	if !strings.HasSuffix(writes, want) {
		t.Errorf("Expected batch payload %q at end of writes, got %q", want, writes)
	}
}

// TestBatchBuildError tests that an invalid batched operation surfaces at
// Execute and nothing is transmitted
func TestBatchBuildError(t *testing.T) {
	d, port := testDevice(t)

	_, before := port.snapshot()
	err := d.Batch().MouseMove(1, 1).MouseDown(proto.MouseButton(9)).Execute()
	if !errors.Is(err, proto.ErrUnknownButton) {
		t.Fatalf("Expected ErrUnknownButton, got %v", err)
	}
	_, after := port.snapshot()
	if after != before {
		t.Errorf("Expected no writes for a failed batch, got %d", after-before)
	}
}

// TestEmptyBatch tests that executing an empty batch is a no-op
func TestEmptyBatch(t *testing.T) {
	d, port := testDevice(t)

	_, before := port.snapshot()
	if err := d.Batch().Execute(); err != nil {
		t.Fatalf("Expected empty batch to succeed, got %v", err)
	}
	_, after := port.snapshot()
	if after != before {
		t.Errorf("Expected no writes for an empty batch, got %d", after-before)
	}
}

// TestAsyncOperations tests that async variants deliver their result on
// the returned channel
func TestAsyncOperations(t *testing.T) {
	d, _ := testDevice(t)

	if err := <-d.MouseMoveAsync(3, 4); err != nil {
		t.Errorf("MouseMoveAsync failed: %v", err)
	}
	if err := <-d.TypeStringAsync("async"); err != nil {
		t.Errorf("TypeStringAsync failed: %v", err)
	}
	if err := <-d.TypeStringAsync(""); !errors.Is(err, proto.ErrEmptyArgs) {
		t.Errorf("Expected ErrEmptyArgs from empty async type, got %v", err)
	}
}

// TestSendRaw tests raw command transmission and terminator handling
func TestSendRaw(t *testing.T) {
	d, port := testDevice(t)

	resp, err := d.SendRaw("km.version()")
	if err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	if resp != "ok" {
		t.Errorf("Expected 'ok', got %q", resp)
	}
	writes, _ := port.snapshot()
	if !strings.Contains(writes, "km.version()\r") {
		t.Errorf("Expected terminator appended, got %q", writes)
	}

	if _, err := d.SendRaw(""); !errors.Is(err, proto.ErrEmptyArgs) {
		t.Errorf("Expected ErrEmptyArgs for empty raw command, got %v", err)
	}
}

// TestDisconnectedOperations tests that operations fail cleanly before a
// connection exists
func TestDisconnectedOperations(t *testing.T) {
	d := NewWithChannel(link.NewWithOpener((&ackOpener{}).open, link.Timing{
		ReopenDelay:  time.Millisecond,
		SettleDelay:  time.Millisecond,
		PollInterval: time.Millisecond,
	}))

	if d.IsConnected() {
		t.Fatal("Expected new device to be disconnected")
	}
	if err := d.MouseMove(1, 1); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := d.Disconnect(); err != nil {
		t.Errorf("Expected disconnect on idle device to succeed, got %v", err)
	}
}
