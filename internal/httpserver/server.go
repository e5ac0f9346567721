package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wa-gateway/internal/cache"
	"wa-gateway/internal/extract"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/provider"
	"wa-gateway/internal/reconnect"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies exposes core services to the HTTP handlers.
type Dependencies struct {
	Repository repo.Repository
	Redis      *cache.Redis
	Registry   *provider.Registry
	Reconnect  *reconnect.Manager
	Sender     *worker.Sender
}

// Options tunes handler behavior.
type Options struct {
	// WebhookDedupTTL bounds how long a delivery's dedup key is remembered
	// in Redis. The database unique key backstops it forever.
	WebhookDedupTTL time.Duration
	// PublicBaseURL, when set, is used to register callback URLs with the
	// vendor during connection setup.
	PublicBaseURL string
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	opts       Options
	basePath   string
}

// New creates an HTTP server listening on addr with the gateway routes plus
// health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, opts Options, basePath string) *Server {
	if opts.WebhookDedupTTL <= 0 {
		opts.WebhookDedupTTL = 6 * time.Hour
	}

	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		opts:     opts,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /webhook/{provider}/{instance}", server.handleWebhook)
	mux.HandleFunc("POST /connections", server.handleCreateConnection)
	mux.HandleFunc("POST /connections/connect", server.handleConnect)
	mux.HandleFunc("GET /connections/{tenant}/{instance}", server.handleConnectionState)
	mux.HandleFunc("DELETE /connections/{tenant}/{instance}", server.handleDeleteConnection)
	mux.HandleFunc("GET /connections/{tenant}/{instance}/messages", server.handleRecentMessages)
	mux.HandleFunc("POST /messages/send", server.handleSendMessage)
	mux.HandleFunc("POST /presence", server.handleSendPresence)

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repository != nil {
		if err := s.deps.Repository.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Webhook ingestion --

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerID := strings.ToLower(r.PathValue("provider"))
	instance := r.PathValue("instance")

	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	// Vendors batch deliveries as arrays; each element is an independent
	// event with its own dedup key.
	items, ok := payload.([]any)
	if !ok {
		items = []any{payload}
	}

	p := s.deps.Registry.Get(providerID)
	processed := 0
	for _, item := range items {
		if s.ingestWebhookItem(r.Context(), p, providerID, instance, item) {
			processed++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "processed": processed})
}

func (s *Server) ingestWebhookItem(ctx context.Context, p provider.Provider, providerID, instance string, item any) bool {
	ev := p.ParseWebhook(item)
	if ev.Instance == "" {
		ev.Instance = instance
	}

	dedupKey := webhookDedupKey(providerID, ev.Instance, item)
	if s.deps.Redis != nil {
		first, err := s.deps.Redis.Dedup(ctx, "webhook:"+dedupKey, s.opts.WebhookDedupTTL)
		if err != nil {
			s.logger.Warn("webhook dedup check failed", "error", err, "provider", providerID)
		} else if !first {
			s.countDuplicate(providerID)
			return false
		}
	}

	first, err := s.deps.Repository.InsertWebhookEvent(ctx, repo.WebhookRecord{
		Provider: providerID,
		Instance: ev.Instance,
		Event:    ev.Event,
		DedupKey: dedupKey,
		Payload:  item,
	})
	if err != nil {
		s.logger.Error("archive webhook event failed", "error", err, "provider", providerID)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("webhook").Inc()
		}
		return false
	}
	if !first {
		s.countDuplicate(providerID)
		return false
	}

	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(providerID, ev.Event).Inc()
	}
	s.dispatchWebhookEvent(ctx, providerID, ev, item)
	return true
}

func (s *Server) dispatchWebhookEvent(ctx context.Context, providerID string, ev provider.WebhookEvent, raw any) {
	log := s.logger.With("provider", providerID, "instance", ev.Instance, "event", ev.Event)

	conn, err := s.deps.Repository.GetConnectionByInstance(ctx, providerID, ev.Instance)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("webhook for unknown connection")
		} else {
			log.Error("lookup connection failed", "error", err)
		}
		return
	}

	switch ev.Event {
	case provider.EventMessage:
		msg := repo.Message{
			ConnectionID: conn.ID,
			RemoteJID:    strField(ev.Data, "remote_jid"),
			MessageID:    strField(ev.Data, "message_id"),
			Kind:         stringOr(ev.Data["type"], provider.KindText),
			Content:      strField(ev.Data, "content"),
			RawPayload:   raw,
		}
		if _, err := s.deps.Repository.UpsertInboundMessage(ctx, msg); err != nil {
			log.Error("store inbound message failed", "error", err)
			return
		}
		log.Info("inbound message stored", "remote_jid", ev.Data["remote_jid"])
	case provider.EventMessageUpdate:
		messageID, _ := ev.Data["message_id"].(string)
		status, _ := ev.Data["status"].(string)
		if messageID == "" || status == "" {
			log.Warn("message update missing id or status")
			return
		}
		if err := s.deps.Repository.UpdateInboundStatus(ctx, conn.ID, messageID, status); err != nil {
			log.Error("update message status failed", "error", err)
		}
	case provider.EventConnection:
		status := connectionStatus(ev.Data["status"])
		if status == "" {
			return
		}
		if err := s.deps.Repository.UpdateConnectionStatus(ctx, conn.ID, status); err != nil {
			log.Error("update connection status failed", "error", err)
			return
		}
		log.Info("connection status updated", "status", status)
	case provider.EventPresence:
		log.Debug("presence update", "remote_jid", ev.Data["remote_jid"], "presence", ev.Data["presence"])
	default:
		log.Debug("unhandled webhook event")
	}
}

// -- Connection lifecycle --

type connectionRequest struct {
	TenantID string            `json:"tenant_id"`
	Provider string            `json:"provider"`
	Instance string            `json:"instance"`
	Phone    string            `json:"phone"`
	Config   map[string]string `json:"config"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Provider == "" || req.Instance == "" {
		http.Error(w, "tenant_id, provider and instance are required", http.StatusBadRequest)
		return
	}

	ref := provider.NewConnectionRef(req.TenantID, req.Provider, req.Instance, req.Phone, req.Config)
	pc := provider.NewContext(s.logger, provider.NewLogContext(req.TenantID, req.Provider, req.Instance))
	p := s.deps.Registry.Get(ref.Provider)

	result, err := p.CreateInstance(r.Context(), pc, ref)
	if err != nil {
		s.writeProviderError(w, pc, "create instance", err)
		return
	}

	// The vendor hands back an instance token on creation; persist it so
	// later calls can authenticate without the admin credential.
	config := ref.Config()
	if token, ok := extract.Token(result); ok {
		config["token"] = token
		ref = ref.WithConfig("token", token)
	}

	conn, err := s.deps.Repository.UpsertConnection(r.Context(), repo.Connection{
		TenantID: req.TenantID,
		Provider: ref.Provider,
		Instance: req.Instance,
		Phone:    optionalString(req.Phone),
		Status:   repo.StatusCreated,
		Config:   config,
	})
	if err != nil {
		s.logger.Error("store connection failed", "error", err)
		http.Error(w, "failed storing connection", http.StatusInternalServerError)
		return
	}

	if s.opts.PublicBaseURL != "" {
		webhookURL := fmt.Sprintf("%s/webhook/%s/%s", s.opts.PublicBaseURL, ref.Provider, req.Instance)
		if _, err := p.EnsureWebhook(r.Context(), pc, ref, webhookURL); err != nil {
			pc.Logger().Warn("webhook registration failed", "error", err, "url", webhookURL)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"connection_id": conn.ID,
		"status":        conn.Status,
		"provider":      conn.Provider,
		"result":        result,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	conn, ok := s.lookupConnection(w, r, req.TenantID, req.Instance)
	if !ok {
		return
	}

	ref := connectionRef(conn)
	pc := provider.NewContext(s.logger, provider.NewLogContext(conn.TenantID, conn.Provider, conn.Instance))
	p := s.deps.Registry.Get(conn.Provider)

	if err := s.deps.Repository.UpdateConnectionStatus(r.Context(), conn.ID, repo.StatusConnecting); err != nil {
		pc.Logger().Warn("mark connecting failed", "error", err)
	}

	result, err := s.deps.Reconnect.Connect(r.Context(), p, pc, ref)
	if err != nil {
		_ = s.deps.Repository.UpdateConnectionStatus(r.Context(), conn.ID, repo.StatusDisconnected)
		s.writeProviderError(w, pc, "connect", err)
		return
	}

	response := map[string]any{"connection_id": conn.ID, "result": result}

	if qr, ok := extract.QRValue(result); ok {
		if err := s.deps.Repository.SetConnectionQR(r.Context(), conn.ID, qr); err != nil {
			pc.Logger().Warn("store qr failed", "error", err)
		}
		if s.deps.Redis != nil {
			key := fmt.Sprintf("qr:%s:%s", conn.TenantID, conn.Instance)
			if err := s.deps.Redis.SetJSON(r.Context(), key, qr, 2*time.Minute); err != nil {
				pc.Logger().Warn("cache qr failed", "error", err)
			}
		}
		response["qr_code"] = qr
		response["status"] = repo.StatusConnecting
	} else {
		if err := s.deps.Repository.UpdateConnectionStatus(r.Context(), conn.ID, repo.StatusConnected); err != nil {
			pc.Logger().Warn("mark connected failed", "error", err)
		}
		response["status"] = repo.StatusConnected
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleConnectionState(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.lookupConnection(w, r, r.PathValue("tenant"), r.PathValue("instance"))
	if !ok {
		return
	}

	pc := provider.NewContext(s.logger, provider.NewLogContext(conn.TenantID, conn.Provider, conn.Instance))
	p := s.deps.Registry.Get(conn.Provider)

	live, err := p.ConnectionState(r.Context(), pc, connectionRef(conn))
	if err != nil {
		pc.Logger().Warn("live state lookup failed", "error", err)
	}

	// Prefer the short-lived cached QR from the last connect call, then
	// fall back to the persisted one.
	var qr string
	if s.deps.Redis != nil {
		key := fmt.Sprintf("qr:%s:%s", conn.TenantID, conn.Instance)
		if found, err := s.deps.Redis.GetJSON(r.Context(), key, &qr); err != nil {
			pc.Logger().Warn("cached qr lookup failed", "error", err)
		} else if !found {
			qr = ""
		}
	}
	if qr == "" && conn.QRCode != nil {
		qr = *conn.QRCode
	}

	resp := map[string]any{
		"connection_id": conn.ID,
		"status":        conn.Status,
		"phone":         conn.Phone,
		"live":          live,
	}
	if qr != "" {
		resp["qr_code"] = qr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.lookupConnection(w, r, r.PathValue("tenant"), r.PathValue("instance"))
	if !ok {
		return
	}

	pc := provider.NewContext(s.logger, provider.NewLogContext(conn.TenantID, conn.Provider, conn.Instance))
	p := s.deps.Registry.Get(conn.Provider)

	if _, err := p.DeleteInstance(r.Context(), pc, connectionRef(conn)); err != nil {
		s.writeProviderError(w, pc, "delete instance", err)
		return
	}
	if err := s.deps.Repository.UpdateConnectionStatus(r.Context(), conn.ID, repo.StatusDisconnected); err != nil {
		pc.Logger().Warn("mark disconnected failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"connection_id": conn.ID, "status": repo.StatusDisconnected})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.lookupConnection(w, r, r.PathValue("tenant"), r.PathValue("instance"))
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := s.deps.Repository.ListRecentMessages(r.Context(), conn.ID, limit)
	if err != nil {
		s.logger.Error("list messages failed", "error", err)
		http.Error(w, "failed listing messages", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, map[string]any{
			"id":         msg.ID,
			"direction":  msg.Direction,
			"remote_jid": msg.RemoteJID,
			"message_id": msg.MessageID,
			"type":       msg.Kind,
			"content":    msg.Content,
			"status":     msg.Status,
			"created_at": msg.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": conn.ID, "messages": items})
}

// -- Outbound --

type sendMessageRequest struct {
	TenantID string `json:"tenant_id"`
	Instance string `json:"instance"`
	Phone    string `json:"phone"`
	Kind     string `json:"type"`
	Content  string `json:"content"`
	Caption  string `json:"caption"`
	FileName string `json:"file_name"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Phone == "" || req.Content == "" {
		http.Error(w, "phone and content are required", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = provider.KindText
	}

	conn, ok := s.lookupConnection(w, r, req.TenantID, req.Instance)
	if !ok {
		return
	}

	record, err := s.deps.Repository.InsertMessage(r.Context(), repo.Message{
		ConnectionID: conn.ID,
		Direction:    "out",
		RemoteJID:    optionalString(req.Phone),
		Kind:         req.Kind,
		Content:      optionalString(req.Content),
		Status:       repo.MessageSent,
	})
	if err != nil {
		s.logger.Error("store outbound message failed", "error", err)
		http.Error(w, "failed storing message", http.StatusInternalServerError)
		return
	}

	task := worker.Task{
		Ref: connectionRef(conn),
		Request: provider.SendMessageRequest{
			Instance: conn.Instance,
			Phone:    req.Phone,
			Kind:     req.Kind,
			Content:  req.Content,
			Caption:  req.Caption,
			FileName: req.FileName,
		},
		MessageID: record.ID,
		Log:       provider.NewLogContext(conn.TenantID, conn.Provider, conn.Instance),
	}
	if err := s.deps.Sender.Enqueue(task); err != nil {
		if _, markErr := s.deps.Repository.MarkMessageFailed(r.Context(), record.ID, "send queue full"); markErr != nil {
			s.logger.Error("mark queue overflow failed", "error", markErr)
		}
		http.Error(w, "send queue full", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": record.ID, "status": repo.MessageSent})
}

type presenceRequest struct {
	TenantID  string `json:"tenant_id"`
	Instance  string `json:"instance"`
	RemoteJID string `json:"remote_jid"`
	Presence  string `json:"presence"`
}

func (s *Server) handleSendPresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.RemoteJID == "" || req.Presence == "" {
		http.Error(w, "remote_jid and presence are required", http.StatusBadRequest)
		return
	}

	conn, ok := s.lookupConnection(w, r, req.TenantID, req.Instance)
	if !ok {
		return
	}

	pc := provider.NewContext(s.logger, provider.NewLogContext(conn.TenantID, conn.Provider, conn.Instance))
	p := s.deps.Registry.Get(conn.Provider)

	result, err := p.SendPresence(r.Context(), pc, connectionRef(conn), req.RemoteJID, req.Presence)
	if err != nil {
		s.writeProviderError(w, pc, "send presence", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// -- Helpers --

func (s *Server) lookupConnection(w http.ResponseWriter, r *http.Request, tenantID, instance string) (*repo.Connection, bool) {
	if tenantID == "" || instance == "" {
		http.Error(w, "tenant_id and instance are required", http.StatusBadRequest)
		return nil, false
	}
	conn, err := s.deps.Repository.GetConnection(r.Context(), tenantID, instance)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			http.Error(w, "connection not found", http.StatusNotFound)
		} else {
			s.logger.Error("lookup connection failed", "error", err)
			http.Error(w, "failed loading connection", http.StatusInternalServerError)
		}
		return nil, false
	}
	return conn, true
}

// writeProviderError maps gateway errors onto HTTP statuses: transient
// upstream trouble becomes a 502 or 504, permanent rejections a 422.
func (s *Server) writeProviderError(w http.ResponseWriter, pc provider.Context, op string, err error) {
	pc.Logger().Error(op+" failed", "error", err)
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("http").Inc()
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrNotImplemented):
		status = http.StatusNotImplemented
	case provider.IsTransient(err):
		status = http.StatusBadGateway
	default:
		if _, typed := provider.AsError(err); typed {
			status = http.StatusUnprocessableEntity
		}
	}
	http.Error(w, err.Error(), status)
}

func connectionRef(conn *repo.Connection) provider.ConnectionRef {
	phone := ""
	if conn.Phone != nil {
		phone = *conn.Phone
	}
	return provider.NewConnectionRef(conn.TenantID, conn.Provider, conn.Instance, phone, conn.Config)
}

// webhookDedupKey hashes the delivery identity plus its serialized body.
// Serialization of a decoded JSON value is stable for identical payloads,
// so byte-level re-deliveries collapse to the same key.
func webhookDedupKey(providerID, instance string, item any) string {
	sum := sha256.New()
	sum.Write([]byte(providerID))
	sum.Write([]byte{0})
	sum.Write([]byte(instance))
	sum.Write([]byte{0})
	if data, err := json.Marshal(item); err == nil {
		sum.Write(data)
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func connectionStatus(v any) string {
	state, _ := v.(string)
	switch strings.ToLower(state) {
	case "open", "connected":
		return repo.StatusConnected
	case "connecting", "pairing":
		return repo.StatusConnecting
	case "close", "closed", "disconnected", "logged_out":
		return repo.StatusDisconnected
	default:
		return ""
	}
}

func (s *Server) countDuplicate(providerID string) {
	if s.metrics != nil {
		s.metrics.WebhookDuplicates.WithLabelValues(providerID).Inc()
	}
}

func strField(data map[string]any, key string) *string {
	if v, ok := data[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
