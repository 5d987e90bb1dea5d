package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"makcu/internal/config"
	"makcu/internal/device"
	"makcu/internal/link"
	"makcu/internal/macro"
	"makcu/internal/network"
	"makcu/internal/proto"
	"makcu/internal/protocol"

	"github.com/gorilla/websocket"
)

// wirePort is an in-memory transport that records writes and never
// acknowledges; reads time out like a serial port with a read timeout.
type wirePort struct {
	mu     sync.Mutex
	writes []byte
	closed bool
}

func (p *wirePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *wirePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	p.writes = append(p.writes, b...)
	return len(b), nil
}

func (p *wirePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *wirePort) SetReadTimeout(t time.Duration) error { return nil }

// awaitWrite polls until the accumulated writes contain sub.
func (p *wirePort) awaitWrite(t *testing.T, sub string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		found := strings.Contains(string(p.writes), sub)
		p.mu.Unlock()
		if found {
			return
		}
		time.Sleep(time.Millisecond)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t.Fatalf("Timed out waiting for write containing %q, writes: %q", sub, p.writes)
}

// testGateway builds a server over a connected mock-transport device and
// serves its websocket endpoint.
func testGateway(t *testing.T) (*Server, *wirePort, *httptest.Server) {
	t.Helper()

	var (
		mu    sync.Mutex
		ports []*wirePort
	)
	open := func(name string, baud int) (link.Transport, error) {
		p := &wirePort{}
		mu.Lock()
		ports = append(ports, p)
		mu.Unlock()
		return p, nil
	}

	ch := link.NewWithOpener(open, link.Timing{
		ReopenDelay:  time.Millisecond,
		SettleDelay:  time.Millisecond,
		PollInterval: time.Millisecond,
	})
	dev := device.NewWithChannel(ch)
	dev.SetAckTimeout(20 * time.Millisecond)
	if err := dev.Connect("mock0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { dev.Disconnect() })

	cfgMgr := config.NewManagerWithPath(filepath.Join(t.TempDir(), "config.json"))
	s := NewServer(cfgMgr, dev, macro.NewSession())
	t.Cleanup(func() { close(s.wsMgr.shutdown) })

	ts := httptest.NewServer(http.HandlerFunc(s.wsMgr.handleWebSocket))
	t.Cleanup(ts.Close)

	mu.Lock()
	defer mu.Unlock()
	return s, ports[1], ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func awaitClients(t *testing.T, m *WSManager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.clientsMu.RLock()
		have := len(m.clients)
		m.clientsMu.RUnlock()
		if have == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d registered clients", n)
}

func readMessage(t *testing.T, conn *websocket.Conn) (protocol.Message, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	payload, _ := msg.Payload.(map[string]interface{})
	return msg, payload
}

// TestHubBroadcastButton tests that a hardware transition reaches a
// connected websocket client
func TestHubBroadcastButton(t *testing.T) {
	s, _, ts := testGateway(t)
	conn := dialWS(t, ts)
	awaitClients(t, s.wsMgr, 1)

	s.BroadcastButton(proto.ButtonLeft, true)

	msg, payload := readMessage(t, conn)
	if msg.Type != protocol.TypeButton {
		t.Fatalf("Expected button message, got %q", msg.Type)
	}
	if payload["name"] != "left" {
		t.Errorf("Expected button name 'left', got %v", payload["name"])
	}
	if payload["pressed"] != true {
		t.Errorf("Expected pressed=true, got %v", payload["pressed"])
	}
}

// TestHubPing tests the application-level heartbeat round trip
func TestHubPing(t *testing.T) {
	s, _, ts := testGateway(t)
	conn := dialWS(t, ts)
	awaitClients(t, s.wsMgr, 1)

	if err := conn.WriteJSON(protocol.Message{Type: protocol.TypePing}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	msg, _ := readMessage(t, conn)
	if msg.Type != protocol.TypePing {
		t.Errorf("Expected ping reply, got %q", msg.Type)
	}
}

// TestHubInputDispatch tests that an inbound input message reaches the
// device as a wire command
func TestHubInputDispatch(t *testing.T) {
	s, port, ts := testGateway(t)
	conn := dialWS(t, ts)
	awaitClients(t, s.wsMgr, 1)

	err := conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeInput,
		Payload: protocol.InputPayload{Type: "move", X: 3, Y: 4},
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	port.awaitWrite(t, "km.move(3,4)\r")
}

// TestHubUnregister tests that a departed client is evicted and later
// broadcasts still succeed
func TestHubUnregister(t *testing.T) {
	s, _, ts := testGateway(t)
	conn := dialWS(t, ts)
	awaitClients(t, s.wsMgr, 1)

	conn.Close()
	awaitClients(t, s.wsMgr, 0)

	// No clients left; the broadcast must not block or panic.
	s.BroadcastButton(proto.ButtonRight, true)
}

// TestStatusBroadcastOnRecord tests that macro state changes push a
// status snapshot to websocket clients
func TestStatusBroadcastOnRecord(t *testing.T) {
	s, _, ts := testGateway(t)
	conn := dialWS(t, ts)
	awaitClients(t, s.wsMgr, 1)

	rec := httptest.NewRecorder()
	s.handleMacroRecord(rec, httptest.NewRequest("POST", "/api/macro/record", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 starting recording, got %d", rec.Code)
	}

	msg, payload := readMessage(t, conn)
	if msg.Type != protocol.TypeStatus {
		t.Fatalf("Expected status message, got %q", msg.Type)
	}
	if payload["recording"] != true {
		t.Errorf("Expected recording=true in status, got %v", payload["recording"])
	}
	if payload["connected"] != true {
		t.Errorf("Expected connected=true in status, got %v", payload["connected"])
	}
}

// TestRemoteClientSendInput tests the full client-to-device path: the
// remote client forwards a typed string and receives status snapshots
func TestRemoteClientSendInput(t *testing.T) {
	s, port, ts := testGateway(t)

	statusCh := make(chan protocol.StatusPayload, 1)
	client := network.NewWSClient(ts.Listener.Addr().String(), "")
	client.OnStatus = func(status protocol.StatusPayload) {
		select {
		case statusCh <- status:
		default:
		}
	}
	// Queued before the dial completes; delivered once connected.
	client.SendInput(protocol.InputPayload{Type: "text", Text: "hi"})
	client.Start()
	defer client.Close()

	port.awaitWrite(t, "km.string(\"hi\")\r")

	awaitClients(t, s.wsMgr, 1)
	s.BroadcastStatus()
	select {
	case status := <-statusCh:
		if !status.Connected {
			t.Error("Expected connected status from gateway")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for status callback")
	}
}
