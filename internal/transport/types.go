// Package transport defines the boundary to the messaging client: one
// long-lived, independently authenticated connection per instance.
//
// The protocol itself is out of scope here; drivers live in subpackages
// (see transport/telegram) and the orchestrator only ever talks to the
// Client interface.
package transport

import "context"

// Chat is one destination the connected account can reach.
type Chat struct {
	ID      string
	Name    string
	IsGroup bool
	Members int
}

type EventKind string

const (
	// EventQR carries a credential challenge the operator must scan or
	// otherwise acknowledge before the session authenticates.
	EventQR EventKind = "qr"
	// EventReady fires once the session is authenticated and usable.
	EventReady EventKind = "ready"
	// EventDisconnected fires when the transport loses the session.
	EventDisconnected EventKind = "disconnected"
	// EventAuthFailure fires when authentication is rejected outright.
	EventAuthFailure EventKind = "auth_failure"
)

// Event is a lifecycle signal emitted by a Client.
type Event struct {
	Kind EventKind
	// Identity names the authenticated account (set on EventReady).
	Identity string
	// Payload carries kind-specific data (the challenge for EventQR).
	Payload string
	// Err describes the failure for EventDisconnected/EventAuthFailure.
	Err error
}

// Client is one live connection. Initialize, Chats and Send may suspend the
// caller for a long time; every method must honor ctx cancellation.
type Client interface {
	// Initialize connects and starts the session. It returns once the
	// connection attempt is underway (or failed); authentication progress
	// is reported on Events.
	Initialize(ctx context.Context) error

	// Events returns the client's lifecycle stream. The channel is owned
	// by the client and closed by Close. Single producer, per instance.
	Events() <-chan Event

	// Chats enumerates every chat visible to the account. Expensive:
	// assume O(total chats) and possibly seconds-long.
	Chats(ctx context.Context) ([]Chat, error)

	// Send delivers text to the chat with the given handle.
	Send(ctx context.Context, chatID string, text string) error

	// Close tears the connection down and closes the event stream.
	Close(ctx context.Context) error
}

// Factory builds one Client per instance. sessionDir is an existing
// instance-scoped directory for credential material; the core never
// interprets its contents.
type Factory interface {
	New(instanceID, sessionDir string) (Client, error)
}
