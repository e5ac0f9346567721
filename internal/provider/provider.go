package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Canonical webhook event kinds. Every adapter normalizes its vendor
// payloads into one of these, never anything else.
const (
	EventMessage       = "message"
	EventMessageUpdate = "message_update"
	EventPresence      = "presence"
	EventConnection    = "connection"
	EventUnknown       = "unknown"
)

// Message kinds accepted by SendMessage.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindSticker  = "sticker"
)

// LogContext identifies one operation for structured logging. It is a plain
// value and has no lifecycle of its own.
type LogContext struct {
	TenantID      string
	Provider      string
	Instance      string
	CorrelationID string
}

// NewLogContext builds a LogContext with a fresh correlation id.
func NewLogContext(tenantID, providerID, instance string) LogContext {
	return LogContext{
		TenantID:      tenantID,
		Provider:      strings.ToLower(strings.TrimSpace(providerID)),
		Instance:      instance,
		CorrelationID: uuid.NewString(),
	}
}

// Args renders the context as slog key/value pairs.
func (l LogContext) Args() []any {
	args := make([]any, 0, 8)
	if l.TenantID != "" {
		args = append(args, "tenant", l.TenantID)
	}
	if l.Provider != "" {
		args = append(args, "provider", l.Provider)
	}
	if l.Instance != "" {
		args = append(args, "instance", l.Instance)
	}
	if l.CorrelationID != "" {
		args = append(args, "correlation_id", l.CorrelationID)
	}
	return args
}

// Context pairs the logger with the log context for one provider call. It
// carries no mutable state and is safe to copy.
type Context struct {
	logger *slog.Logger
	Log    LogContext
}

// NewContext wires a logger to a log context.
func NewContext(logger *slog.Logger, lc LogContext) Context {
	if logger == nil {
		logger = slog.Default()
	}
	return Context{logger: logger, Log: lc}
}

// Logger returns the logger pre-tagged with the log context fields.
func (c Context) Logger() *slog.Logger {
	return c.logger.With(c.Log.Args()...)
}

// ConnectionRef identifies one logical gateway session. It is immutable; a
// config change produces a new value via WithConfig.
type ConnectionRef struct {
	TenantID string
	Provider string
	Instance string
	Phone    string
	config   map[string]string
}

// NewConnectionRef builds a ConnectionRef. The provider id and config keys
// are lower-cased so vendor key spelling variants collapse to one form.
func NewConnectionRef(tenantID, providerID, instance, phone string, config map[string]string) ConnectionRef {
	cfg := make(map[string]string, len(config))
	for key, val := range config {
		cfg[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return ConnectionRef{
		TenantID: tenantID,
		Provider: strings.ToLower(strings.TrimSpace(providerID)),
		Instance: instance,
		Phone:    phone,
		config:   cfg,
	}
}

// ConfigValue returns the first non-empty config value among keys.
func (r ConnectionRef) ConfigValue(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(r.config[strings.ToLower(key)]); val != "" {
			return val
		}
	}
	return ""
}

// Config returns a copy of the config mapping.
func (r ConnectionRef) Config() map[string]string {
	out := make(map[string]string, len(r.config))
	for key, val := range r.config {
		out[key] = val
	}
	return out
}

// WithConfig returns a new ref with one config key replaced.
func (r ConnectionRef) WithConfig(key, value string) ConnectionRef {
	cfg := r.Config()
	cfg[strings.ToLower(strings.TrimSpace(key))] = value
	next := r
	next.config = cfg
	return next
}

// Capabilities describes a registered adapter.
type Capabilities struct {
	ID       string
	Versions []string
}

// SendMessageRequest describes one outbound send attempt.
type SendMessageRequest struct {
	Instance string
	Phone    string
	Kind     string
	Content  string
	Caption  string
	FileName string
}

// WebhookEvent is the canonical normalized event. Field names inside Data
// never vary by provider: remote_jid, content, from_me, message_id,
// timestamp, type, push_name, presence, status.
type WebhookEvent struct {
	Event    string
	Instance string
	Data     map[string]any
}

// UnknownEvent wraps an unrecognized payload without losing it.
func UnknownEvent(instance string, payload any) WebhookEvent {
	return WebhookEvent{
		Event:    EventUnknown,
		Instance: instance,
		Data:     map[string]any{"raw": payload},
	}
}

// Provider is the capability contract every gateway adapter implements.
// ParseWebhook is pure and never fails; unrecognized payloads degrade to an
// unknown event carrying the raw payload.
type Provider interface {
	Capabilities() Capabilities
	CreateInstance(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error)
	DeleteInstance(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error)
	Connect(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error)
	ConnectionState(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error)
	EnsureWebhook(ctx context.Context, pc Context, ref ConnectionRef, webhookURL string) (map[string]any, error)
	SendMessage(ctx context.Context, pc Context, ref ConnectionRef, req SendMessageRequest) (map[string]any, error)
	SendPresence(ctx context.Context, pc Context, ref ConnectionRef, remoteJID, presence string) (map[string]any, error)
	ParseWebhook(payload any) WebhookEvent
}
