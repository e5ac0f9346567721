package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"wa-gateway/internal/provider"
)

type fakeStore struct {
	mu           sync.Mutex
	delivered    map[string]string
	failed       map[string]string
	sawCancelled bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		delivered: map[string]string{},
		failed:    map[string]string{},
	}
}

func (s *fakeStore) MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.sawCancelled = true
	}
	if _, done := s.delivered[id]; done {
		return false, nil
	}
	if _, done := s.failed[id]; done {
		return false, nil
	}
	s.delivered[id] = providerMessageID
	return true, nil
}

func (s *fakeStore) MarkMessageFailed(ctx context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.sawCancelled = true
	}
	if _, done := s.delivered[id]; done {
		return false, nil
	}
	if _, done := s.failed[id]; done {
		return false, nil
	}
	s.failed[id] = reason
	return true, nil
}

type sendProvider struct {
	*provider.Stub
	result map[string]any
	err    error
}

func (p *sendProvider) Capabilities() provider.Capabilities {
	return provider.Capabilities{ID: "fake"}
}

func (p *sendProvider) SendMessage(ctx context.Context, pc provider.Context, ref provider.ConnectionRef, req provider.SendMessageRequest) (map[string]any, error) {
	return p.result, p.err
}

func newSender(t *testing.T, p provider.Provider, store Store) *Sender {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register(p)
	return New(registry, store, slog.New(slog.DiscardHandler), nil, 8)
}

func testTask(id string) Task {
	return Task{
		Ref: provider.NewConnectionRef("t1", "fake", "inst", "", nil),
		Request: provider.SendMessageRequest{
			Instance: "inst",
			Phone:    "5511999999999",
			Kind:     provider.KindText,
			Content:  "hi",
		},
		MessageID: id,
		Log:       provider.NewLogContext("t1", "fake", "inst"),
	}
}

func TestSenderMarksDelivered(t *testing.T) {
	store := newFakeStore()
	p := &sendProvider{
		Stub:   provider.NewStub("fake"),
		result: map[string]any{"key": map[string]any{"id": "WAMID1"}},
	}
	sender := newSender(t, p, store)

	if err := sender.Enqueue(testTask("rec-1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	sender.Start(context.Background(), 1)
	sender.Stop()

	if store.delivered["rec-1"] != "WAMID1" {
		t.Fatalf("expected delivery with the provider id, got %v", store.delivered)
	}
	if len(store.failed) != 0 {
		t.Fatalf("unexpected failures %v", store.failed)
	}
}

func TestSenderMarksFailed(t *testing.T) {
	store := newFakeStore()
	p := &sendProvider{
		Stub: provider.NewStub("fake"),
		err:  provider.NewError("fake", "send_message", "number not on whatsapp", false, nil),
	}
	sender := newSender(t, p, store)

	if err := sender.Enqueue(testTask("rec-2")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	sender.Start(context.Background(), 1)
	sender.Stop()

	if len(store.delivered) != 0 {
		t.Fatalf("unexpected deliveries %v", store.delivered)
	}
	if reason := store.failed["rec-2"]; reason == "" {
		t.Fatal("expected a failure reason recorded")
	}
}

func TestSenderQueueOverflow(t *testing.T) {
	store := newFakeStore()
	p := &sendProvider{Stub: provider.NewStub("fake")}
	registry := provider.NewRegistry()
	registry.Register(p)
	sender := New(registry, store, slog.New(slog.DiscardHandler), nil, 1)

	if err := sender.Enqueue(testTask("a")); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := sender.Enqueue(testTask("b")); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSenderDrainsQueueOnStop(t *testing.T) {
	store := newFakeStore()
	p := &sendProvider{
		Stub:   provider.NewStub("fake"),
		result: map[string]any{"message_id": "X"},
	}
	sender := newSender(t, p, store)

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := sender.Enqueue(testTask(id)); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}
	sender.Start(context.Background(), 2)
	sender.Stop()

	if len(store.delivered) != 3 {
		t.Fatalf("expected all tasks settled, got %v", store.delivered)
	}
}

func TestSenderSettlesQueuedTasksAfterCancellation(t *testing.T) {
	store := newFakeStore()
	p := &sendProvider{
		Stub:   provider.NewStub("fake"),
		result: map[string]any{"message_id": "X"},
	}
	registry := provider.NewRegistry()
	registry.Register(p)
	sender := New(registry, store, slog.New(slog.DiscardHandler), nil, 32)

	ids := make([]string, 0, 32)
	for i := 0; i < 32; i++ {
		id := fmt.Sprintf("rec-%d", i)
		ids = append(ids, id)
		if err := sender.Enqueue(testTask(id)); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender.Start(ctx, 1)
	sender.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, id := range ids {
		_, delivered := store.delivered[id]
		_, failed := store.failed[id]
		if !delivered && !failed {
			t.Fatalf("task %s left unsettled after shutdown", id)
		}
	}
	if store.sawCancelled {
		t.Fatal("settlement ran on a cancelled context")
	}
}
