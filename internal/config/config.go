// Package config provides configuration management for the injection service.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Config represents the application configuration
type Config struct {
	// Device contains serial device settings
	Device DeviceConfig `json:"device"`

	// Macro contains recording and playback settings
	Macro MacroConfig `json:"macro"`

	// General contains general application settings
	General GeneralConfig `json:"general"`
}

// DeviceConfig contains serial device settings
type DeviceConfig struct {
	// Port is the serial port name (e.g. "/dev/ttyUSB0", "COM3").
	// Empty means the first detected port is used.
	Port string `json:"port"`

	// AckTimeoutMs is the confirmed-mode acknowledgment window in milliseconds
	AckTimeoutMs int `json:"ack_timeout_ms"`

	// HighPerformance starts the connection in fire-and-forget mode
	HighPerformance bool `json:"high_performance"`
}

// MacroConfig contains recording and playback settings
type MacroConfig struct {
	// MinDelayMs is the movement coalescing window while recording
	MinDelayMs int `json:"min_delay_ms"`

	// RecordMovement determines whether cursor movements are recorded
	RecordMovement bool `json:"record_movement"`

	// Pacing replays actions with their recorded inter-action gaps
	Pacing bool `json:"pacing"`

	// Dir is the directory macros are saved to and loaded from
	Dir string `json:"dir,omitempty"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// APIEnabled enables the HTTP API server for remote control
	APIEnabled bool `json:"api_enabled"`

	// APIPort is the port for the API server (default: 18080)
	APIPort int `json:"api_port"`

	// APIToken is an optional authentication token for API requests
	APIToken string `json:"api_token,omitempty"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:            "",
			AckTimeoutMs:    500,
			HighPerformance: false,
		},
		Macro: MacroConfig{
			MinDelayMs:     10,
			RecordMovement: true,
			Pacing:         true,
		},
		General: GeneralConfig{
			APIEnabled: false,
			APIPort:    18080,
		},
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	return &Manager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

// NewManagerWithPath creates a manager bound to an explicit config file
func NewManagerWithPath(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "makcu")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "makcu")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "makcu")
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		// No config file, use defaults
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, m.config); err != nil {
		return err
	}
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set updates the configuration
func (m *Manager) Set(config *Config) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}

// MacroPath resolves a macro file name against the configured macro
// directory. Absolute names pass through unchanged.
func (m *Manager) MacroPath(name string) string {
	m.mu.Lock()
	dir := m.config.Macro.Dir
	m.mu.Unlock()

	if dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
