package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Connections
	UpsertConnection(ctx context.Context, conn Connection) (*Connection, error)
	GetConnection(ctx context.Context, tenantID, instance string) (*Connection, error)
	GetConnectionByInstance(ctx context.Context, providerID, instance string) (*Connection, error)
	UpdateConnectionStatus(ctx context.Context, id, status string) error
	SetConnectionQR(ctx context.Context, id, qrCode string) error

	// Messages
	InsertMessage(ctx context.Context, msg Message) (*Message, error)
	UpsertInboundMessage(ctx context.Context, msg Message) (*Message, error)
	MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error)
	MarkMessageFailed(ctx context.Context, id, reason string) (bool, error)
	UpdateInboundStatus(ctx context.Context, connectionID, messageID, status string) error
	ListRecentMessages(ctx context.Context, connectionID string, limit int) ([]Message, error)

	// Webhook archive
	InsertWebhookEvent(ctx context.Context, rec WebhookRecord) (bool, error)
}
