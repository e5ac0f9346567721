package provider

import "context"

// Stub is the placeholder adapter for providers without a real
// implementation yet. Every capability fails with a fixed fatal
// not-implemented error so the registry never has a dispatch gap.
type Stub struct {
	id string
}

// NewStub creates a stub adapter reporting the given provider id.
func NewStub(id string) *Stub {
	return &Stub{id: id}
}

func (s *Stub) Capabilities() Capabilities {
	return Capabilities{ID: s.id}
}

func (s *Stub) CreateInstance(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error) {
	return nil, NotImplemented(s.id, "create_instance")
}

func (s *Stub) DeleteInstance(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error) {
	return nil, NotImplemented(s.id, "delete_instance")
}

func (s *Stub) Connect(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error) {
	return nil, NotImplemented(s.id, "connect")
}

func (s *Stub) ConnectionState(ctx context.Context, pc Context, ref ConnectionRef) (map[string]any, error) {
	return nil, NotImplemented(s.id, "get_connection_state")
}

func (s *Stub) EnsureWebhook(ctx context.Context, pc Context, ref ConnectionRef, webhookURL string) (map[string]any, error) {
	return nil, NotImplemented(s.id, "ensure_webhook")
}

func (s *Stub) SendMessage(ctx context.Context, pc Context, ref ConnectionRef, req SendMessageRequest) (map[string]any, error) {
	return nil, NotImplemented(s.id, "send_message")
}

func (s *Stub) SendPresence(ctx context.Context, pc Context, ref ConnectionRef, remoteJID, presence string) (map[string]any, error) {
	return nil, NotImplemented(s.id, "send_presence")
}

// ParseWebhook still never fails: unrecognized providers degrade to an
// unknown event carrying the raw payload.
func (s *Stub) ParseWebhook(payload any) WebhookEvent {
	return UnknownEvent("", payload)
}
