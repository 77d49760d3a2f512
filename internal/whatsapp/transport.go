package whatsapp

import "context"

// Status is the in-memory lifecycle state of one session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusInitializing Status = "initializing"
	StatusQRPending    Status = "qr_pending"
	StatusWaitingPair  Status = "waiting_pair"
	StatusConnected    Status = "connected"

	// StatusPairing is a durable-only status written while a pairing
	// code request is in flight; in-memory state stays "initializing".
	StatusPairing Status = "pairing"
)

// EventKind identifies a transport lifecycle event.
type EventKind string

const (
	EventQRCode        EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventClosed        EventKind = "closed"
)

// CloseReason distinguishes an authoritative logout (credentials dead,
// must be wiped) from a transient drop (credentials kept for resume).
type CloseReason string

const (
	CloseLoggedOut CloseReason = "logged_out"
	CloseTransient CloseReason = "transient"
)

// LifecycleEvent is one transport event. For a given session the
// transport delivers events in the order they happened.
type LifecycleEvent struct {
	Kind   EventKind
	QRData string      // EventQRCode: raw QR payload to render
	Phone  string      // EventReady: authenticated network identity
	Reason CloseReason // EventClosed
}

// Transport is one live connection to the messaging network. The
// manager owns exactly one Transport per session and is the only
// consumer of its event stream.
type Transport interface {
	// Start begins the connection. For an unauthenticated credential
	// store this kicks off the QR handshake; with valid stored
	// credentials it resumes the session directly.
	Start(ctx context.Context) error

	// RequestPairingCode asks the network for a phone-pairing code.
	// Blocks on the network round-trip; callers apply their own timeout.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// SendText delivers a text message to a normalized phone number.
	SendText(ctx context.Context, phone, body string) error

	// Logout invalidates the session server-side. Best-effort.
	Logout(ctx context.Context) error

	// Close tears the connection down and stops event delivery.
	// Safe to call more than once.
	Close()

	Events() <-chan LifecycleEvent
	Done() <-chan struct{}
}

// DestinationChecker is an optional Transport capability: verify a
// destination exists on the network before sending. Transports that
// cannot check simply don't implement it and the check is skipped.
type DestinationChecker interface {
	IsOnNetwork(phone string) (bool, error)
}

// TransportFactory builds transports bound to a session's durable
// credential material and can wipe that material after logout.
type TransportFactory interface {
	New(sessionID string) (Transport, error)
	WipeCredentials(sessionID string) error
}
