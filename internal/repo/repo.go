package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem, "postgres")
}

const connectionColumns = `id, tenant_id, provider, instance, phone, status, qr_code, config, created_at, updated_at`

// UpsertConnection stores or updates a connection keyed by tenant and
// instance name.
func (r *PostgresRepository) UpsertConnection(ctx context.Context, conn Connection) (*Connection, error) {
	const q = `
INSERT INTO connections (tenant_id, provider, instance, phone, status, config, updated_at)
VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, ''), 'created'), $6, NOW())
ON CONFLICT (tenant_id, instance) DO UPDATE SET
    provider = EXCLUDED.provider,
    phone = COALESCE(EXCLUDED.phone, connections.phone),
    status = EXCLUDED.status,
    config = connections.config || EXCLUDED.config,
    updated_at = NOW()
RETURNING ` + connectionColumns + `;
`
	row := r.pool.QueryRow(ctx, q,
		conn.TenantID,
		conn.Provider,
		conn.Instance,
		conn.Phone,
		conn.Status,
		conn.Config,
	)
	return scanConnection(row)
}

// GetConnection fetches a connection by tenant and instance name.
func (r *PostgresRepository) GetConnection(ctx context.Context, tenantID, instance string) (*Connection, error) {
	const q = `
SELECT ` + connectionColumns + `
FROM connections
WHERE tenant_id = $1 AND instance = $2
LIMIT 1;
`
	return scanConnection(r.pool.QueryRow(ctx, q, tenantID, instance))
}

// GetConnectionByInstance fetches a connection by provider and instance
// name, the keys an inbound webhook carries.
func (r *PostgresRepository) GetConnectionByInstance(ctx context.Context, providerID, instance string) (*Connection, error) {
	const q = `
SELECT ` + connectionColumns + `
FROM connections
WHERE provider = $1 AND instance = $2
LIMIT 1;
`
	return scanConnection(r.pool.QueryRow(ctx, q, providerID, instance))
}

// UpdateConnectionStatus transitions a connection's status.
func (r *PostgresRepository) UpdateConnectionStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE connections SET status = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetConnectionQR stores the latest pairing QR payload for a connection.
func (r *PostgresRepository) SetConnectionQR(ctx context.Context, id, qrCode string) error {
	const q = `UPDATE connections SET qr_code = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, qrCode)
	if err != nil {
		return fmt.Errorf("set connection qr: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertMessage stores a message record.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	const q = `
INSERT INTO messages (connection_id, direction, remote_jid, message_id, kind, content, status, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, ''), 'received'), $8)
RETURNING id, created_at;
`
	err := r.pool.QueryRow(ctx, q,
		msg.ConnectionID,
		msg.Direction,
		msg.RemoteJID,
		msg.MessageID,
		msg.Kind,
		msg.Content,
		msg.Status,
		msg.RawPayload,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// UpsertInboundMessage stores an inbound message idempotently: retried and
// duplicate webhook deliveries of the same provider message id converge on
// one row.
func (r *PostgresRepository) UpsertInboundMessage(ctx context.Context, msg Message) (*Message, error) {
	const q = `
INSERT INTO messages (connection_id, direction, remote_jid, message_id, kind, content, status, raw_payload)
VALUES ($1, 'in', $2, $3, $4, $5, 'received', $6)
ON CONFLICT (connection_id, direction, message_id) DO UPDATE SET
    content = COALESCE(EXCLUDED.content, messages.content),
    updated_at = NOW()
RETURNING id, created_at;
`
	msg.Direction = "in"
	msg.Status = MessageReceived
	err := r.pool.QueryRow(ctx, q,
		msg.ConnectionID,
		msg.RemoteJID,
		msg.MessageID,
		msg.Kind,
		msg.Content,
		msg.RawPayload,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert inbound message: %w", err)
	}
	return &msg, nil
}

// MarkMessageDelivered transitions an outbound record from sent to
// delivered. The conditional update keeps the transition exactly-once; a
// false return means the record already left the sent state.
func (r *PostgresRepository) MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error) {
	const q = `
UPDATE messages
SET status = 'delivered', message_id = COALESCE(NULLIF($2, ''), message_id), updated_at = NOW()
WHERE id = $1 AND status = 'sent';
`
	ct, err := r.pool.Exec(ctx, q, id, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("mark message delivered: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkMessageFailed transitions an outbound record from sent to failed.
func (r *PostgresRepository) MarkMessageFailed(ctx context.Context, id, reason string) (bool, error) {
	const q = `
UPDATE messages
SET status = 'failed', fail_reason = $2, updated_at = NOW()
WHERE id = $1 AND status = 'sent';
`
	ct, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark message failed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateInboundStatus applies a message_update event to the stored inbound
// record, if present.
func (r *PostgresRepository) UpdateInboundStatus(ctx context.Context, connectionID, messageID, status string) error {
	const q = `
UPDATE messages
SET status = $3, updated_at = NOW()
WHERE connection_id = $1 AND message_id = $2 AND direction = 'in';
`
	if _, err := r.pool.Exec(ctx, q, connectionID, messageID, status); err != nil {
		return fmt.Errorf("update inbound status: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages for a connection.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, connectionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, direction, remote_jid, message_id, kind, content, status, created_at
FROM messages
WHERE connection_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Direction, &msg.RemoteJID, &msg.MessageID, &msg.Kind, &msg.Content, &msg.Status, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.ConnectionID = connectionID
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// InsertWebhookEvent archives one delivery; it returns false when the dedup
// key was already seen.
func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, rec WebhookRecord) (bool, error) {
	const q = `
INSERT INTO webhook_events (provider, instance, event, dedup_key, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (dedup_key) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, rec.Provider, rec.Instance, rec.Event, rec.DedupKey, rec.Payload)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Instance, &c.Phone, &c.Status, &c.QRCode, &c.Config, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	return &c, nil
}
