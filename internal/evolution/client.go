// Package evolution adapts Evolution-family WhatsApp gateways: instance
// lifecycle, webhook registration and message dispatch over their REST
// dialect, plus normalization of their webhook payloads.
package evolution

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"wa-gateway/internal/extract"
	"wa-gateway/internal/provider"
)

// ProviderID identifies this adapter in the registry.
const ProviderID = "evolution"

// Config holds environment-level defaults for the adapter. Per-connection
// values from ConnectionRef.Config take precedence.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client implements provider.Provider for Evolution-style gateways.
type Client struct {
	logger    *slog.Logger
	cfg       Config
	transport provider.Transport
}

// New creates a new Evolution adapter.
func New(cfg Config, logger *slog.Logger, transport provider.Transport) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		logger:    logger.With("component", "evolution"),
		cfg:       cfg,
		transport: transport,
	}
}

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{ID: ProviderID, Versions: []string{"v1", "v2"}}
}

func (c *Client) baseURL(ref provider.ConnectionRef) string {
	if base := ref.ConfigValue("baseurl", "base_url", "serverurl"); base != "" {
		return strings.TrimRight(base, "/")
	}
	return c.cfg.BaseURL
}

func (c *Client) headers(ref provider.ConnectionRef) map[string]string {
	key := ref.ConfigValue("token", "apikey", "admintoken")
	if key == "" {
		key = c.cfg.APIKey
	}
	return map[string]string{"apikey": key}
}

// CreateInstance registers the instance on the gateway and returns the
// instance token the gateway minted for it.
func (c *Client) CreateInstance(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	body := map[string]any{
		"instanceName": ref.Instance,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	if ref.Phone != "" {
		body["number"] = extract.Digits(ref.Phone)
	}

	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/instance/create", c.headers(ref), body)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"raw": resp}
	if token, ok := extract.Token(resp); ok {
		result["instance_token"] = token
	}
	pc.Logger().Info("instance created")
	return result, nil
}

// DeleteInstance logs the instance out and removes it from the gateway.
func (c *Client) DeleteInstance(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	base := c.baseURL(ref)
	headers := c.headers(ref)

	// Logout failures are not fatal; a never-connected instance has no
	// session to tear down.
	if _, err := c.transport.DoJSON(ctx, http.MethodDelete, base+"/instance/logout/"+ref.Instance, headers, nil); err != nil {
		pc.Logger().Warn("instance logout failed", "error", err)
	}

	resp, err := c.transport.DoJSON(ctx, http.MethodDelete, base+"/instance/delete/"+ref.Instance, headers, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": resp}, nil
}

// Connect asks the gateway for a pairing QR. During the pairing window the
// gateway frequently answers before a QR exists; that is a transient state.
func (c *Client) Connect(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	resp, err := c.transport.DoJSON(ctx, http.MethodGet, c.baseURL(ref)+"/instance/connect/"+ref.Instance, c.headers(ref), nil)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"raw": resp}
	state := stateOf(resp)
	if state != "" {
		result["status"] = state
	}
	if qr, ok := extract.QRValue(resp); ok {
		result["qr_code"] = qr
		return result, nil
	}
	if state == "open" || state == "connected" {
		return result, nil
	}
	return nil, provider.NewError(ProviderID, "connect", "qr code not ready", true, nil)
}

// ConnectionState reports the gateway's view of the session.
func (c *Client) ConnectionState(ctx context.Context, pc provider.Context, ref provider.ConnectionRef) (map[string]any, error) {
	resp, err := c.transport.DoJSON(ctx, http.MethodGet, c.baseURL(ref)+"/instance/connectionState/"+ref.Instance, c.headers(ref), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": stateOf(resp), "raw": resp}, nil
}

// EnsureWebhook points the gateway's event callbacks at webhookURL.
func (c *Client) EnsureWebhook(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, webhookURL string) (map[string]any, error) {
	body := map[string]any{
		"url":               webhookURL,
		"webhook_by_events": false,
		"events": []string{
			"MESSAGES_UPSERT",
			"MESSAGES_UPDATE",
			"PRESENCE_UPDATE",
			"CONNECTION_UPDATE",
		},
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/webhook/set/"+ref.Instance, c.headers(ref), body)
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
		path = "/message/sendText/" + ref.Instance
		body = map[string]any{"number": number, "text": req.Content}
	default:
		path = "/message/sendMedia/" + ref.Instance
		body = map[string]any{
			"number":    number,
			"mediatype": req.Kind,
			"media":     req.Content,
		}
		if req.Caption != "" {
			body["caption"] = req.Caption
		}
		if req.FileName != "" {
			body["fileName"] = req.FileName
		}
	}

	resp, err := c.transport.DoJSON(ctx, http.MethodPost, base+path, c.headers(ref), body)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"raw": resp}
	if id, ok := extract.MessageID(resp); ok {
		result["message_id"] = id
	}
	return result, nil
}

// SendPresence publishes a composing/paused indicator to a chat.
func (c *Client) SendPresence(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, remoteJID, presence string) (map[string]any, error) {
	body := map[string]any{
		"number":   extract.BareJID(remoteJID),
		"presence": presence,
		"delay":    1200,
	}
	resp, err := c.transport.DoJSON(ctx, http.MethodPost, c.baseURL(ref)+"/chat/sendPresence/"+ref.Instance, c.headers(ref), body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"raw": resp}, nil
}

// ParseWebhook normalizes an inbound payload; it never fails.
func (c *Client) ParseWebhook(payload any) provider.WebhookEvent {
	if evt, ok := Parse(payload); ok {
		return evt
	}
	return provider.UnknownEvent("", payload)
}

// stateOf digs the connection state out of the loosely-shaped status
// responses the gateway returns.
func stateOf(resp any) string {
	m, ok := extract.AsMap(resp)
	if !ok {
		return ""
	}
	if nested, ok := extract.AsMap(m["instance"]); ok {
		if s := extract.FirstString(nested, "state", "status", "connectionStatus"); s != "" {
			return strings.ToLower(s)
		}
	}
	return strings.ToLower(extract.FirstString(m, "state", "status", "connectionStatus"))
}
