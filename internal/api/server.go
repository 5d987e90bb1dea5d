// Package api provides the HTTP API server for remote device control.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"makcu/internal/config"
	"makcu/internal/device"
	"makcu/internal/macro"
	"makcu/internal/proto"
	"makcu/internal/protocol"
)

// Server provides HTTP API for remote control
type Server struct {
	configMgr *config.Manager
	dev       *device.Device
	session   *macro.Session
	token     string
	wsMgr     *WSManager
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, dev *device.Device, session *macro.Session) *Server {
	s := &Server{
		configMgr: configMgr,
		dev:       dev,
		session:   session,
	}
	s.wsMgr = newWSManager(s)

	// The hub runs from construction so broadcasts fired before Start
	// (device callbacks are wired first) never block the caller.
	go s.wsMgr.start()
	return s
}

// Start starts the API server on the specified port
func (s *Server) Start(port int) error {
	cfg := s.configMgr.Get()
	s.token = cfg.General.APIToken

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/input", s.handleInput)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/macro/record", s.handleMacroRecord)
	mux.HandleFunc("/api/macro/stop", s.handleMacroStop)
	mux.HandleFunc("/api/macro/play", s.handleMacroPlay)
	mux.HandleFunc("/api/macro/cancel", s.handleMacroCancel)
	mux.HandleFunc("/api/macro/clear", s.handleMacroClear)
	mux.HandleFunc("/api/macro/save", s.handleMacroSave)
	mux.HandleFunc("/api/macro/load", s.handleMacroLoad)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	// Use "0.0.0.0:port" and explicitly use tcp4 to avoid IPv6-only binding issues on Windows
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("Starting API server on %s", addr)

	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Printf("ERROR: API server failed to listen on %s: %v", addr, err)
		return err
	}

	server := &http.Server{
		Handler: s.authMiddleware(s.recoverMiddleware(mux)),
	}

	// This is blocking
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Printf("ERROR: API server stopped: %v", err)
		return err
	}
	return nil
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC RECOV: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks API token if configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		// If token is configured, verify it
		if s.token != "" {
			authHeader := r.Header.Get("Authorization")
			expectedAuth := "Bearer " + s.token

			if authHeader != expectedAuth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w)
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.statusPayload())
}

func (s *Server) statusPayload() protocol.StatusPayload {
	return protocol.StatusPayload{
		Connected:       s.dev.IsConnected(),
		Port:            s.dev.PortName(),
		HighPerformance: s.dev.HighPerformance(),
		Recording:       s.session.IsRecording(),
		Playing:         s.session.IsPlaying(),
		ActionCount:     s.session.ActionCount(),
	}
}

// handleInput handles POST /api/input with an InputPayload body
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload protocol.InputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid input payload", http.StatusBadRequest)
		return
	}

	if err := s.applyInput(payload); err != nil {
		log.Printf("API: Input error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeOK(w)
}

// applyInput translates one wire input event into a device operation.
// Shared by the REST handler and the WebSocket read path.
func (s *Server) applyInput(p protocol.InputPayload) error {
	switch p.Type {
	case "move":
		return s.dev.MouseMove(p.X, p.Y)
	case "moveto":
		return s.dev.MouseMoveTo(p.X, p.Y)
	case "button":
		if p.Pressed {
			return s.dev.MouseDown(proto.MouseButton(p.Button))
		}
		return s.dev.MouseUp(proto.MouseButton(p.Button))
	case "key":
		if p.Pressed {
			return s.dev.KeyDown(proto.KeyCode(p.KeyCode))
		}
		return s.dev.KeyUp(proto.KeyCode(p.KeyCode))
	case "wheel":
		return s.dev.MouseWheel(p.Delta)
	case "text":
		return s.dev.TypeString(p.Text)
	default:
		return fmt.Errorf("unknown input event type %q", p.Type)
	}
}

// handleCommand handles POST /api/command?cmd=<raw command>
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cmd := r.URL.Query().Get("cmd")
	if cmd == "" {
		http.Error(w, "Missing cmd parameter", http.StatusBadRequest)
		return
	}

	resp, err := s.dev.SendRaw(cmd)
	if err != nil {
		log.Printf("API: Command error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "response": resp})
}

// handleMacroRecord handles POST /api/macro/record
func (s *Server) handleMacroRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.StartRecording(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Printf("API: Macro recording started (request from %s)", r.RemoteAddr)
	s.BroadcastStatus()
	writeOK(w)
}

// handleMacroStop handles POST /api/macro/stop
func (s *Server) handleMacroStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.StopRecording()
	s.BroadcastStatus()
	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"actions": s.session.ActionCount(),
	})
}

// handleMacroPlay handles POST /api/macro/play?repeat=<n>
func (s *Server) handleMacroPlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repeat := 1
	if v := r.URL.Query().Get("repeat"); v != "" {
		fmt.Sscanf(v, "%d", &repeat)
	}

	// Playback can outlive the request; the result surfaces in the log,
	// in /api/status, and as status broadcasts to WebSocket clients.
	res := s.session.PlayAsync(s.dev, repeat)
	go func() {
		if err := <-res; err != nil {
			log.Printf("API: Macro playback: %v", err)
		}
		s.BroadcastStatus()
	}()
	s.BroadcastStatus()
	writeOK(w)
}

// handleMacroCancel handles POST /api/macro/cancel
func (s *Server) handleMacroCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Cancel()
	s.BroadcastStatus()
	writeOK(w)
}

// handleMacroClear handles POST /api/macro/clear
func (s *Server) handleMacroClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Clear()
	s.BroadcastStatus()
	writeOK(w)
}

// handleMacroSave handles POST /api/macro/save?file=<name>
func (s *Server) handleMacroSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("file")
	if name == "" {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return
	}
	if err := s.session.Save(s.configMgr.MacroPath(name)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeOK(w)
}

// handleMacroLoad handles POST /api/macro/load?file=<name>
func (s *Server) handleMacroLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("file")
	if name == "" {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return
	}
	if err := s.session.Load(s.configMgr.MacroPath(name)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.BroadcastStatus()
	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"actions": s.session.ActionCount(),
	})
}

// BroadcastButton pushes a hardware button transition to all WebSocket
// clients. Wire it as the device's button callback in main.
func (s *Server) BroadcastButton(b proto.MouseButton, pressed bool) {
	if s.wsMgr != nil {
		s.wsMgr.BroadcastButton(b, pressed, s.dev.ButtonStates())
	}
}

// BroadcastStatus pushes the current device/session status to all
// WebSocket clients.
func (s *Server) BroadcastStatus() {
	if s.wsMgr != nil {
		s.wsMgr.broadcastStatus(s.statusPayload())
	}
}
