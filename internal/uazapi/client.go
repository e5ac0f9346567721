// Package uazapi adapts uazapi-family WhatsApp gateways. These gateways key
// everything on a per-instance token minted at init time, and their webhook
// payload shape changed across versions, so parsing runs through a detection
// cascade rather than a fixed schema.
package uazapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"wa-gateway/internal/extract"
	"wa-gateway/internal/provider"
)

// ProviderID identifies this adapter in the registry.
const ProviderID = "uazapi"

// Config holds environment-level defaults for the adapter.
type Config struct {
	BaseURL    string
	AdminToken string
}

// Client implements provider.Provider for uazapi-style gateways.
type Client struct {
	logger    *slog.Logger
	cfg       Config
	transport provider.Transport
}

// New creates a new uazapi adapter.
func New(cfg Config, logger *slog.Logger, transport provider.Transport) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		logger:    logger.With("component", "uazapi"),
		cfg:       cfg,
		transport: transport,
	}
}

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{ID: ProviderID, Versions: []string{"v2"}}
}

func (c *Client) baseURL(ref provider.ConnectionRef) string {
	if base := ref.ConfigValue("baseurl", "base_url", "serverurl"); base != "" {
		return strings.TrimRight(base, "/")
	}
	return c.cfg.BaseURL
}

// adminHeaders authorize instance lifecycle calls.
func (c *Client) adminHeaders(ref provider.ConnectionRef) map[string]string {
	token := ref.ConfigValue("admintoken", "admin_token")
	if token == "" {
		token = c.cfg.AdminToken
	}
	return map[string]string{"admintoken": token}
}

// instanceHeaders authorize per-session calls with the instance token.
func (c *Client) instanceHeaders(ref provider.ConnectionRef) map[string]string {
	return map[string]string{"token": ref.ConfigValue("token", "apikey", "instancetoken")}
}

// CreateInstance initializes a gateway instance and extracts the opaque
// instance token from wherever the response buried it.
func (c *Client) CreateInstance(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	body := map[string]any{
		"name":       ref.Instance,
		"systemName": ref.TenantID,
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/instance/init", c.adminHeaders(ref), body)
	if err != nil {
		return nil, err
	}

	token, ok := extract.Token(resp)
	if !ok {
		return nil, provider.NewError(ProviderID, "create_instance", "no instance token in response", false, nil)
	}
	pc.Logger().Info("instance created")
	return map[string]any{"instance_token": token, "raw": resp}, nil
}

// DeleteInstance removes the instance from the gateway.
func (c *Client) DeleteInstance(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	resp, err := c.transport.DoJSON(ctx, http.MethodDelete, c.baseURL(ref)+"/instance", c.instanceHeaders(ref), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": resp}, nil
}

// Connect starts the pairing flow and returns the QR payload once the
// gateway produced one. An empty QR during the pairing window is transient.
func (c *Client) Connect(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	body := map[string]any{}
	if ref.Phone != "" {
		body["phone"] = extract.Digits(ref.Phone)
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/instance/connect", c.instanceHeaders(ref), body)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"raw": resp}
	state := instanceStatus(resp)
	if state != "" {
		result["status"] = state
	}
	if qr, ok := extract.QRValue(resp); ok {
		result["qr_code"] = qr
		return result, nil
	}
	if state == "connected" || state == "open" {
		return result, nil
	}
	return nil, provider.NewError(ProviderID, "connect", "qr code not ready", true, nil)
}

// ConnectionState reports the gateway's view of the session.
func (c *Client) ConnectionState(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	resp, err := c.transport.DoJSON(ctx, http.MethodGet, c.baseURL(ref)+"/instance/status", c.instanceHeaders(ref), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": instanceStatus(resp), "raw": resp}, nil
}

// EnsureWebhook points the instance's event callbacks at webhookURL.
func (c *Client) EnsureWebhook(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, webhookURL string) (map[string]any, error) {
	body := map[string]any{
		"enabled":             true,
		"url":                 webhookURL,
		"events":              []string{"messages", "messages_update", "presence", "connection"},
		"excludeMessages":     []string{},
		"addUrlEvents":        false,
		"addUrlTypesMessages": false,
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/webhook", c.instanceHeaders(ref), body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": webhookURL, "raw": resp}, nil
}

// SendMessage dispatches one outbound message.
func (c *Client) SendMessage(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, req provider.SendMessageRequest) (map[string]any, error) {
	base := c.baseURL(ref)
	number := extract.Digits(req.Phone)

	var path string
	var body map[string]any
	switch req.Kind {
	case provider.KindText, "":
		path = "/send/text"
		body = map[string]any{"number": number, "text": req.Content}
	default:
		path = "/send/media"
		body = map[string]any{
			"number": number,
			"type":   req.Kind,
			"file":   req.Content,
		}
		if req.Caption != "" {
			body["text"] = req.Caption
		}
		if req.FileName != "" {
			body["docName"] = req.FileName
		}
	}

	resp, err := c.transport.DoJSON(ctx, http.MethodPost, base+path, c.instanceHeaders(ref), body)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"raw": resp}
	if id, ok := extract.MessageID(resp); ok {
		result["message_id"] = id
	}
	return result, nil
}

// SendPresence publishes a composing/recording indicator to a chat.
func (c *Client) SendPresence(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, remoteJID, presence string) (map[string]any, error) {
	body := map[string]any{
		"number":   extract.BareJID(remoteJID),
		"presence": presence,
		"delay":    1200,
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/message/presence", c.instanceHeaders(ref), body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": resp}, nil
}

// instanceStatus digs the session state out of status responses, which nest
// it under "instance" in some gateway versions and not in others.
func instanceStatus(resp any) string {
	m, ok := extract.AsMap(resp)
	if !ok {
		return ""
	}
	if nested, ok := extract.AsMap(m["instance"]); ok {
		if s := extract.FirstString(nested, "status", "state"); s != "" {
			return strings.ToLower(s)
		}
	}
	return strings.ToLower(extract.FirstString(m, "status", "state", "connection"))
}
