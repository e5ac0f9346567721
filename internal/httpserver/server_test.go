package httpserver

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http/httptest"
	"testing"

	"wa-gateway/internal/provider"
	"wa-gateway/internal/repo"
)

type fakeRepo struct {
	conn *repo.Connection
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }

func (f *fakeRepo) RunMigrations(ctx context.Context, filesystem fs.FS) error { return nil }

func (f *fakeRepo) UpsertConnection(ctx context.Context, conn repo.Connection) (*repo.Connection, error) {
	return &conn, nil
}

func (f *fakeRepo) GetConnection(ctx context.Context, tenantID, instance string) (*repo.Connection, error) {
	if f.conn != nil && f.conn.TenantID == tenantID && f.conn.Instance == instance {
		return f.conn, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) GetConnectionByInstance(ctx context.Context, providerID, instance string) (*repo.Connection, error) {
	if f.conn != nil && f.conn.Provider == providerID && f.conn.Instance == instance {
		return f.conn, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) UpdateConnectionStatus(ctx context.Context, id, status string) error { return nil }

func (f *fakeRepo) SetConnectionQR(ctx context.Context, id, qrCode string) error { return nil }

func (f *fakeRepo) InsertMessage(ctx context.Context, msg repo.Message) (*repo.Message, error) {
	return &msg, nil
}

func (f *fakeRepo) UpsertInboundMessage(ctx context.Context, msg repo.Message) (*repo.Message, error) {
	return &msg, nil
}

func (f *fakeRepo) MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error) {
	return true, nil
}

func (f *fakeRepo) MarkMessageFailed(ctx context.Context, id, reason string) (bool, error) {
	return true, nil
}

func (f *fakeRepo) UpdateInboundStatus(ctx context.Context, connectionID, messageID, status string) error {
	return nil
}

func (f *fakeRepo) ListRecentMessages(ctx context.Context, connectionID string, limit int) ([]repo.Message, error) {
	return nil, nil
}

func (f *fakeRepo) InsertWebhookEvent(ctx context.Context, rec repo.WebhookRecord) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T, repository repo.Repository) *Server {
	t.Helper()
	registry := provider.NewRegistry()
	return New(":0", slog.New(slog.DiscardHandler), nil, Dependencies{
		Repository: repository,
		Registry:   registry,
	}, Options{}, "")
}

func TestConnectionStateReturnsStoredQR(t *testing.T) {
	qr := "2@abcdef,ghijkl"
	srv := newTestServer(t, &fakeRepo{conn: &repo.Connection{
		ID:       "c1",
		TenantID: "t1",
		Provider: "fake",
		Instance: "inst",
		Status:   repo.StatusConnecting,
		QRCode:   &qr,
	}})

	req := httptest.NewRequest("GET", "/connections/t1/inst", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["qr_code"] != qr {
		t.Fatalf("expected the stored qr code in the response, got %v", body)
	}
	if body["status"] != repo.StatusConnecting {
		t.Fatalf("unexpected status %v", body["status"])
	}
}

func TestConnectionStateOmitsQRWhenAbsent(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{conn: &repo.Connection{
		ID:       "c1",
		TenantID: "t1",
		Provider: "fake",
		Instance: "inst",
		Status:   repo.StatusConnected,
	}})

	req := httptest.NewRequest("GET", "/connections/t1/inst", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, present := body["qr_code"]; present {
		t.Fatalf("expected no qr_code field, got %v", body)
	}
}

func TestConnectionStateUnknownInstance(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{})

	req := httptest.NewRequest("GET", "/connections/t1/missing", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
