package transport

import "errors"

// Send/Chats failures are classified with sentinel errors so callers never
// have to match on error text. Drivers wrap these with %w.
var (
	// ErrChatNotFound: the destination no longer resolves (deleted group,
	// bot removed, stale handle). Alert-scoped and non-fatal.
	ErrChatNotFound = errors.New("transport: chat not found")

	// ErrSessionClosed: the session is gone; the whole instance needs a
	// fresh lifecycle pass before anything else can be sent.
	ErrSessionClosed = errors.New("transport: session closed")

	// ErrAuthFailure: credentials were rejected.
	ErrAuthFailure = errors.New("transport: authentication failed")
)

func IsChatNotFound(err error) bool { return errors.Is(err, ErrChatNotFound) }
func IsSessionClosed(err error) bool { return errors.Is(err, ErrSessionClosed) }
