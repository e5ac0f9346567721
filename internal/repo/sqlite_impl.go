package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLite stores the config and payload JSON columns as TEXT; these helpers
// keep the Go-side types identical to the Postgres implementation.

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

func decodeConfig(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// -- Connections --

const sqliteConnectionColumns = `id, tenant_id, provider, instance, phone, status, qr_code, config, created_at, updated_at`

func (r *SQLiteRepository) UpsertConnection(ctx context.Context, conn Connection) (*Connection, error) {
	config, err := encodeJSON(conn.Config)
	if err != nil {
		return nil, err
	}
	status := conn.Status
	if status == "" {
		status = StatusCreated
	}

	const q = `
INSERT INTO connections (id, tenant_id, provider, instance, phone, status, config, updated_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, '{}'), CURRENT_TIMESTAMP)
ON CONFLICT (tenant_id, instance) DO UPDATE SET
    provider = excluded.provider,
    phone = COALESCE(excluded.phone, connections.phone),
    status = excluded.status,
    config = excluded.config,
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + sqliteConnectionColumns + `;
`
	row := r.db.QueryRowContext(ctx, q,
		randomUUID(),
		conn.TenantID,
		conn.Provider,
		conn.Instance,
		conn.Phone,
		status,
		config,
	)
	return scanSQLiteConnection(row)
}

func (r *SQLiteRepository) GetConnection(ctx context.Context, tenantID, instance string) (*Connection, error) {
	const q = `
SELECT ` + sqliteConnectionColumns + `
FROM connections
WHERE tenant_id = ? AND instance = ?
LIMIT 1;
`
	return scanSQLiteConnection(r.db.QueryRowContext(ctx, q, tenantID, instance))
}

func (r *SQLiteRepository) GetConnectionByInstance(ctx context.Context, providerID, instance string) (*Connection, error) {
	const q = `
SELECT ` + sqliteConnectionColumns + `
FROM connections
WHERE provider = ? AND instance = ?
LIMIT 1;
`
	return scanSQLiteConnection(r.db.QueryRowContext(ctx, q, providerID, instance))
}

func (r *SQLiteRepository) UpdateConnectionStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE connections SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) SetConnectionQR(ctx context.Context, id, qrCode string) error {
	const q = `UPDATE connections SET qr_code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, qrCode, id)
	if err != nil {
		return fmt.Errorf("set connection qr: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	raw, err := encodeJSON(msg.RawPayload)
	if err != nil {
		return nil, err
	}
	status := msg.Status
	if status == "" {
		status = MessageReceived
	}

	id := randomUUID()
	const q = `
INSERT INTO messages (id, connection_id, direction, remote_jid, message_id, kind, content, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q,
		id,
		msg.ConnectionID,
		msg.Direction,
		msg.RemoteJID,
		msg.MessageID,
		msg.Kind,
		msg.Content,
		status,
		raw,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	msg.Status = status
	return &msg, nil
}

func (r *SQLiteRepository) UpsertInboundMessage(ctx context.Context, msg Message) (*Message, error) {
	raw, err := encodeJSON(msg.RawPayload)
	if err != nil {
		return nil, err
	}

	const q = `
INSERT INTO messages (id, connection_id, direction, remote_jid, message_id, kind, content, status, raw_payload)
VALUES (?, ?, 'in', ?, ?, ?, ?, 'received', ?)
ON CONFLICT (connection_id, direction, message_id) DO UPDATE SET
    content = COALESCE(excluded.content, messages.content),
    updated_at = CURRENT_TIMESTAMP
RETURNING id;
`
	msg.Direction = "in"
	msg.Status = MessageReceived
	if err := r.db.QueryRowContext(ctx, q,
		randomUUID(),
		msg.ConnectionID,
		msg.RemoteJID,
		msg.MessageID,
		msg.Kind,
		msg.Content,
		raw,
	).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("upsert inbound message: %w", err)
	}
	return &msg, nil
}

func (r *SQLiteRepository) MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error) {
	const q = `
UPDATE messages
SET status = 'delivered', message_id = COALESCE(NULLIF(?, ''), message_id), updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'sent';
`
	res, err := r.db.ExecContext(ctx, q, providerMessageID, id)
	if err != nil {
		return false, fmt.Errorf("mark message delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) MarkMessageFailed(ctx context.Context, id, reason string) (bool, error) {
	const q = `
UPDATE messages
SET status = 'failed', fail_reason = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = 'sent';
`
	res, err := r.db.ExecContext(ctx, q, reason, id)
	if err != nil {
		return false, fmt.Errorf("mark message failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) UpdateInboundStatus(ctx context.Context, connectionID, messageID, status string) error {
	const q = `
UPDATE messages
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE connection_id = ? AND message_id = ? AND direction = 'in';
`
	if _, err := r.db.ExecContext(ctx, q, status, connectionID, messageID); err != nil {
		return fmt.Errorf("update inbound status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, connectionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, direction, remote_jid, message_id, kind, content, status, created_at
FROM messages
WHERE connection_id = ?
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, connectionID, limit)
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

// -- Webhook archive --

func (r *SQLiteRepository) InsertWebhookEvent(ctx context.Context, rec WebhookRecord) (bool, error) {
	payload, err := encodeJSON(rec.Payload)
	if err != nil {
		return false, err
	}

	const q = `
INSERT INTO webhook_events (id, provider, instance, event, dedup_key, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (dedup_key) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, randomUUID(), rec.Provider, rec.Instance, rec.Event, rec.DedupKey, payload)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanSQLiteConnection(row *sql.Row) (*Connection, error) {
	var c Connection
	var config sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Instance, &c.Phone, &c.Status, &c.QRCode, &config, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.Config = decodeConfig(config)
	return &c, nil
}
