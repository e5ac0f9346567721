package repo

import "time"

// Connection statuses persisted for a gateway session.
const (
	StatusCreated      = "created"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Message statuses. Outbound records start at "sent" and always converge to
// delivered or failed; "sent" is never a terminal state.
const (
	MessageReceived  = "received"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageFailed    = "failed"
)

// Connection represents the connections table row: one logical gateway
// session for a tenant.
type Connection struct {
	ID        string
	TenantID  string
	Provider  string
	Instance  string
	Phone     *string
	Status    string
	QRCode    *string
	Config    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message represents a row in the messages table.
type Message struct {
	ID           string
	ConnectionID string
	Direction    string
	RemoteJID    *string
	MessageID    *string
	Kind         string
	Content      *string
	Status       string
	FailReason   *string
	RawPayload   any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WebhookRecord archives one normalized webhook delivery. The dedup key is
// unique so re-delivered payloads land exactly once.
type WebhookRecord struct {
	ID         string
	Provider   string
	Instance   string
	Event      string
	DedupKey   string
	Payload    any
	ReceivedAt time.Time
}
