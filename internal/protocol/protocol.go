// Package protocol defines the WebSocket message types shared by the API
// server and the remote client.
package protocol

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeAuth is sent by client immediately after connection to authenticate
	TypeAuth MessageType = "auth"

	// TypeInput is sent by a client to inject an input event
	TypeInput MessageType = "input"

	// TypeButton is broadcast by the server on hardware button transitions
	TypeButton MessageType = "button"

	// TypeStatus is broadcast by the server when device state changes
	TypeStatus MessageType = "status"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// AuthPayload is the payload for TypeAuth
type AuthPayload struct {
	Token         string `json:"token"`
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
}

// InputPayload is the payload for TypeInput. Type selects which of the
// remaining fields are meaningful: "move" uses X/Y as a relative offset,
// "button" uses Button/Pressed, "key" uses KeyCode/Pressed, "wheel" uses
// Delta, "text" uses Text.
type InputPayload struct {
	Type    string `json:"event_type"`
	X       int    `json:"x,omitempty"`
	Y       int    `json:"y,omitempty"`
	Button  int    `json:"button,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`
	KeyCode int    `json:"key_code,omitempty"`
	Delta   int    `json:"delta,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ButtonPayload is the payload for TypeButton
type ButtonPayload struct {
	Button  int    `json:"button"`
	Name    string `json:"name"`
	Pressed bool   `json:"pressed"`
	Mask    int    `json:"mask"`
}

// StatusPayload is the payload for TypeStatus
type StatusPayload struct {
	Connected       bool   `json:"connected"`
	Port            string `json:"port,omitempty"`
	HighPerformance bool   `json:"high_performance"`
	Recording       bool   `json:"recording"`
	Playing         bool   `json:"playing"`
	ActionCount     int    `json:"action_count"`
}
