package uazapi

import (
	"context"
	"log/slog"
	"testing"

	"wa-gateway/internal/provider"
)

type fakeTransport struct {
	responses map[string]any
	err       error
	calls     []transportCall
}

type transportCall struct {
	method  string
	url     string
	headers map[string]string
	body    any
}

func (t *fakeTransport) DoJSON(ctx context.Context, method, rawURL string, headers map[string]string, body any) (any, error) {
	t.calls = append(t.calls, transportCall{method: method, url: rawURL, headers: headers, body: body})
	if t.err != nil {
		return nil, t.err
	}
	if resp, ok := t.responses[rawURL]; ok {
		return resp, nil
	}
	return map[string]any{}, nil
}

func testClient(transport *fakeTransport) *Client {
	return New(Config{
		BaseURL:    "https://gw.example.com",
		AdminToken: "admin-secret",
	}, slog.New(slog.DiscardHandler), transport)
}

func testPC() provider.Context {
	return provider.NewContext(slog.New(slog.DiscardHandler), provider.NewLogContext("t1", ProviderID, "inst"))
}

func TestCreateInstanceExtractsToken(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/instance/init": map[string]any{
			"instance": map[string]any{
				"token": "Bearer Aa1Bb2Cc3Dd4Ee5Ff6Gg7Hh8Ii9Jj0Kk1Ll2Mm3",
			},
		},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", nil)

	result, err := client.CreateInstance(context.Background(), testPC(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["instance_token"] != "Aa1Bb2Cc3Dd4Ee5Ff6Gg7Hh8Ii9Jj0Kk1Ll2Mm3" {
		t.Fatalf("unexpected token %v", result["instance_token"])
	}

	call := transport.calls[0]
	if call.headers["admintoken"] != "admin-secret" {
		t.Fatalf("expected admin auth, got %v", call.headers)
	}
}

func TestCreateInstanceFailsWithoutToken(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/instance/init": map[string]any{"status": "ok"},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", nil)

	_, err := client.CreateInstance(context.Background(), testPC(), ref)
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.IsTransient(err) {
		t.Fatal("a tokenless response is not retryable")
	}
}

func TestConnectReturnsQR(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/instance/connect": map[string]any{
			"instance": map[string]any{
				"qrcode": "data:image/png;base64,iVBOR",
				"status": "connecting",
			},
		},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", map[string]string{"token": "abc"})

	result, err := client.Connect(context.Background(), testPC(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["qr_code"] != "data:image/png;base64,iVBOR" {
		t.Fatalf("unexpected qr %v", result["qr_code"])
	}

	call := transport.calls[0]
	if call.headers["token"] != "abc" {
		t.Fatalf("expected instance auth, got %v", call.headers)
	}
}

func TestConnectWithoutQRIsTransient(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/instance/connect": map[string]any{
			"instance": map[string]any{"status": "connecting"},
		},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", nil)

	_, err := client.Connect(context.Background(), testPC(), ref)
	if err == nil {
		t.Fatal("expected error while the qr is not ready")
	}
	if !provider.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestConnectAlreadyOpenSucceeds(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/instance/connect": map[string]any{
			"instance": map[string]any{"status": "connected"},
		},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", nil)

	result, err := client.Connect(context.Background(), testPC(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["status"] != "connected" {
		t.Fatalf("unexpected status %v", result["status"])
	}
}

func TestSendMessageRoutesTextAndMedia(t *testing.T) {
	transport := &fakeTransport{responses: map[string]any{
		"https://gw.example.com/send/text": map[string]any{
			"key": map[string]any{"id": "WAMID1"},
		},
	}}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", map[string]string{"token": "abc"})

	result, err := client.SendMessage(context.Background(), testPC(), ref, provider.SendMessageRequest{
		Phone:   "+55 11 99999-9999",
		Kind:    provider.KindText,
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["message_id"] != "WAMID1" {
		t.Fatalf("unexpected message id %v", result["message_id"])
	}

	call := transport.calls[0]
	body := call.body.(map[string]any)
	if body["number"] != "5511999999999" {
		t.Fatalf("expected digits-only number, got %v", body["number"])
	}

	if _, err := client.SendMessage(context.Background(), testPC(), ref, provider.SendMessageRequest{
		Phone:    "5511999999999",
		Kind:     provider.KindDocument,
		Content:  "https://files.example.com/a.pdf",
		Caption:  "the contract",
		FileName: "contract.pdf",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mediaCall := transport.calls[1]
	if mediaCall.url != "https://gw.example.com/send/media" {
		t.Fatalf("expected the media endpoint, got %s", mediaCall.url)
	}
	mediaBody := mediaCall.body.(map[string]any)
	if mediaBody["type"] != "document" || mediaBody["docName"] != "contract.pdf" {
		t.Fatalf("unexpected media body %v", mediaBody)
	}
}

func TestBaseURLOverrideFromConfig(t *testing.T) {
	transport := &fakeTransport{}
	client := testClient(transport)
	ref := provider.NewConnectionRef("t1", ProviderID, "inst", "", map[string]string{
		"baseurl": "https://tenant.example.com/",
		"token":   "abc",
	})

	if _, err := client.ConnectionState(context.Background(), testPC(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transport.calls[0].url != "https://tenant.example.com/instance/status" {
		t.Fatalf("unexpected url %s", transport.calls[0].url)
	}
}
