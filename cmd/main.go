// MAKCU - serial input injection service
// Drives a MAKCU injection device over USB serial and optionally exposes
// it to the network over HTTP and WebSocket.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"makcu/internal/api"
	"makcu/internal/config"
	"makcu/internal/device"
	"makcu/internal/link"
	"makcu/internal/macro"
	"makcu/internal/network"
	"makcu/internal/proto"
	"makcu/internal/protocol"
)

var (
	version   = "0.1.0"
	showVer   = flag.Bool("version", false, "Show version")
	listPorts = flag.Bool("list", false, "List serial ports")
	portName  = flag.String("port", "", "Serial port (default: first detected, or configured port)")
	sendCmd   = flag.String("send", "", "Send a raw command and print the reply")
	macroFile = flag.String("macro", "", "Play a macro file")
	repeat    = flag.Int("repeat", 1, "Macro repeat count")
	recordFor = flag.Duration("record", 0, "Record hardware button activity for the given duration")
	outFile   = flag.String("out", "recorded.macro", "Output file for -record")
	remote    = flag.String("remote", "", "Connect to a remote service (host:port) and log its button events")
	typeText  = flag.String("type", "", "With -remote, type a string on the remote device")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("makcu version %s\n", version)
		return
	}

	if *listPorts {
		listSerialPorts()
		return
	}

	// Initialize config
	cfgMgr, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Warning: failed to load config: %v", err)
	}

	if *remote != "" {
		runRemote(cfgMgr, *remote)
		return
	}

	if *sendCmd != "" {
		handleSend(cfgMgr, *sendCmd)
		return
	}

	if *macroFile != "" {
		handlePlay(cfgMgr, *macroFile, *repeat)
		return
	}

	if *recordFor > 0 {
		handleRecord(cfgMgr, *recordFor, *outFile)
		return
	}

	// Default: run as background service
	runService(cfgMgr)
}

func listSerialPorts() {
	ports, err := link.ListPorts()
	if err != nil {
		log.Fatalf("Failed to list serial ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	fmt.Println("Serial Ports:")
	fmt.Println("-------------")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
}

// connectDevice opens the device using the -port flag, the configured
// port, or the first detected port, in that order.
func connectDevice(cfgMgr *config.Manager) *device.Device {
	cfg := cfgMgr.Get()

	port := *portName
	if port == "" {
		port = cfg.Device.Port
	}

	dev := device.New()
	if cfg.Device.AckTimeoutMs > 0 {
		dev.SetAckTimeout(time.Duration(cfg.Device.AckTimeoutMs) * time.Millisecond)
	}
	dev.SetHighPerformance(cfg.Device.HighPerformance)

	if err := dev.Connect(port); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	return dev
}

func newSession(cfgMgr *config.Manager) *macro.Session {
	cfg := cfgMgr.Get()
	session := macro.NewSession()
	if cfg.Macro.MinDelayMs > 0 {
		session.SetMinDelay(time.Duration(cfg.Macro.MinDelayMs) * time.Millisecond)
	}
	session.SetRecordMovement(cfg.Macro.RecordMovement)
	session.SetPacing(cfg.Macro.Pacing)
	return session
}

func handleSend(cfgMgr *config.Manager, cmd string) {
	dev := connectDevice(cfgMgr)
	defer dev.Disconnect()

	resp, err := dev.SendRaw(cmd)
	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
	fmt.Println(resp)
}

func handlePlay(cfgMgr *config.Manager, file string, repeat int) {
	session := newSession(cfgMgr)
	if err := session.Load(cfgMgr.MacroPath(file)); err != nil {
		log.Fatalf("Failed to load macro: %v", err)
	}
	log.Printf("Loaded %d actions from %s", session.ActionCount(), file)

	dev := connectDevice(cfgMgr)
	defer dev.Disconnect()

	// Ctrl+C cancels playback instead of killing the process mid-sequence
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	res := session.PlayAsync(dev, repeat)
	select {
	case err := <-res:
		if err != nil {
			log.Fatalf("Playback failed: %v", err)
		}
		fmt.Println("Playback finished")
	case <-sigCh:
		log.Println("Canceling playback...")
		session.Cancel()
		<-res
	}
}

func handleRecord(cfgMgr *config.Manager, dur time.Duration, file string) {
	dev := connectDevice(cfgMgr)
	defer dev.Disconnect()

	session := newSession(cfgMgr)
	dev.SetMouseButtonCallback(session.CaptureButton)

	if err := session.StartRecording(); err != nil {
		log.Fatalf("Failed to start recording: %v", err)
	}
	log.Printf("Recording hardware buttons for %v...", dur)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(dur):
	case <-sigCh:
		log.Println("Recording interrupted")
	}

	session.StopRecording()
	if err := session.Save(cfgMgr.MacroPath(file)); err != nil {
		log.Fatalf("Failed to save macro: %v", err)
	}
	fmt.Printf("Saved %d actions to %s\n", session.ActionCount(), file)
}

func runRemote(cfgMgr *config.Manager, addr string) {
	cfg := cfgMgr.Get()

	client := network.NewWSClient(addr, cfg.General.APIToken)
	client.OnButton = func(button int, name string, pressed bool, mask int) {
		state := "released"
		if pressed {
			state = "pressed"
		}
		fmt.Printf("%s %s (mask 0x%02X)\n", name, state, mask)
	}
	client.OnStatus = func(status protocol.StatusPayload) {
		log.Printf("Remote status: connected=%v recording=%v playing=%v actions=%d",
			status.Connected, status.Recording, status.Playing, status.ActionCount)
	}
	client.Start()
	defer client.Close()

	// Queued now, transmitted once the dial succeeds.
	if *typeText != "" {
		client.SendInput(protocol.InputPayload{Type: "text", Text: *typeText})
	}

	log.Printf("Watching button events from %s. Press Ctrl+C to stop.", addr)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func runService(cfgMgr *config.Manager) {
	log.Println("MAKCU service starting...")

	dev := connectDevice(cfgMgr)
	defer dev.Disconnect()

	session := newSession(cfgMgr)

	cfg := cfgMgr.Get()
	if cfg.General.APIEnabled {
		apiServer := api.NewServer(cfgMgr, dev, session)

		// Hardware button transitions feed the recorder and the
		// WebSocket clients. The recorder ignores them unless a
		// recording is active.
		dev.SetMouseButtonCallback(func(b proto.MouseButton, pressed bool) {
			session.CaptureButton(b, pressed)
			apiServer.BroadcastButton(b, pressed)
		})

		go func() {
			if err := apiServer.Start(cfg.General.APIPort); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()

		// Initial snapshot for clients that connect right away.
		apiServer.BroadcastStatus()
	} else {
		dev.SetMouseButtonCallback(session.CaptureButton)
	}

	if ver, err := dev.Version(); err == nil {
		log.Printf("Device firmware: %s", ver)
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("MAKCU service running. Press Ctrl+C to stop.")
	<-sigCh
	log.Println("Shutting down...")
	session.Cancel()
}
