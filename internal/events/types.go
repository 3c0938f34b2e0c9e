// Package events carries command lifecycle notifications between the
// runner and its observers (history, telemetry, logging).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Command lifecycle
	EventCommandExecuted EventType = "command_executed"
	EventAuthFailed      EventType = "auth_failed"

	// Session lifecycle
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"

	// Gateway lifecycle
	EventGatewayStarted EventType = "gateway_started"
	EventGatewayStopped EventType = "gateway_stopped"

	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// CommandPayload describes one finished command, successful or not.
// Passwords are never part of it.
type CommandPayload struct {
	ID        string        `json:"id"`
	Profile   string        `json:"profile"`
	Address   string        `json:"address"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Source    string        `json:"source"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the command completed without error.
func (p CommandPayload) OK() bool {
	return p.ErrorKind == ""
}

// SessionPayload accompanies session and auth events.
type SessionPayload struct {
	Profile string `json:"profile"`
	Address string `json:"address"`
	Source  string `json:"source"`
	Reason  string `json:"reason,omitempty"`
}

// GatewayPayload accompanies gateway lifecycle events.
type GatewayPayload struct {
	Address string `json:"address"`
	TLS     bool   `json:"tls"`
}
