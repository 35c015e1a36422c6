// Package session defines the realtime session domain types.
package session

import (
	"sync"
	"time"
)

// Status is the transport connection status shown to the user.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

func (s Status) String() string { return string(s) }

// Connection describes a transport status transition.
type Connection struct {
	Status  Status
	Attempt int
	// Cause is set when the connection dropped or could not be opened.
	Cause string
	// Terminal is true when no automatic reconnect is scheduled.
	Terminal bool
	// Requested is set when the caller closed the connection.
	Requested bool
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat entry. Messages are never modified after they are
// appended.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Snapshot is an immutable copy of the chat-visible session state.
type Snapshot struct {
	Messages      []Message
	Streaming     string
	Typing        bool
	ToolBusy      bool
	Status        Status
	Cause         string
	SessionID     string
	HasContext    bool
	LastError     string
	UserPhase     string
	NextAvailable string
}

// Lifecycle tracks whether the current authentication has completed its
// first realtime connection. It is owned by the authentication layer and
// handed to the transport at construction.
type Lifecycle struct {
	mu        sync.Mutex
	connected bool
}

// NewLifecycle returns a token for a freshly authenticated user.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Peek reports the is_login value for the next connection attempt without
// consuming it.
func (l *Lifecycle) Peek() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.connected
}

// MarkConnected records a successful open; later connects are not logins.
func (l *Lifecycle) MarkConnected() {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
}

// Reset is called on logout so the next login triggers the welcome flow.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}
