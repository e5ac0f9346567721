// Package worker runs the outbound send queue. Sends are accepted onto a
// bounded channel and drained by a fixed pool; every queued message record
// finishes as delivered or failed, exactly once.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"wa-gateway/internal/extract"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/provider"
)

// ErrQueueFull is returned by Enqueue when the send queue is at capacity.
var ErrQueueFull = errors.New("send queue full")

// Store is the slice of the repository the sender needs to settle records.
type Store interface {
	MarkMessageDelivered(ctx context.Context, id, providerMessageID string) (bool, error)
	MarkMessageFailed(ctx context.Context, id, reason string) (bool, error)
}

// Task is one queued outbound send. MessageID is the stored message record
// id the task settles when the send finishes.
type Task struct {
	Ref       provider.ConnectionRef
	Request   provider.SendMessageRequest
	MessageID string
	Log       provider.LogContext
}

// Sender drains queued send tasks through the provider registry.
type Sender struct {
	registry *provider.Registry
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	tasks chan Task
	wg    sync.WaitGroup
}

// New builds a Sender with the given queue capacity.
func New(registry *provider.Registry, store Store, logger *slog.Logger, m *metrics.Metrics, queueSize int) *Sender {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Sender{
		registry: registry,
		store:    store,
		logger:   logger.With("component", "sender"),
		metrics:  m,
		tasks:    make(chan Task, queueSize),
	}
}

// Enqueue adds a task without blocking. A full queue is the caller's signal
// to shed load.
func (s *Sender) Enqueue(task Task) error {
	select {
	case s.tasks <- task:
		if s.metrics != nil {
			s.metrics.SendQueueDepth.Set(float64(len(s.tasks)))
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. Workers exit when Stop closes the queue
// or ctx is cancelled.
func (s *Sender) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.run(ctx)
	}
}

// Stop closes the queue and waits for in-flight sends to settle.
func (s *Sender) Stop() {
	close(s.tasks)
	s.wg.Wait()
}

func (s *Sender) run(ctx context.Context) {
	defer s.wg.Done()
	// Workers drain to channel closure, not to ctx cancellation: every
	// accepted task must settle its record even when shutdown is already
	// underway. ctx only bounds the in-flight provider call.
	for task := range s.tasks {
		if s.metrics != nil {
			s.metrics.SendQueueDepth.Set(float64(len(s.tasks)))
		}
		s.process(ctx, task)
	}
}

func (s *Sender) process(ctx context.Context, task Task) {
	pc := provider.NewContext(s.logger, task.Log)
	log := pc.Logger()

	// Settlement writes outlive a cancelled shutdown context so records
	// never stay stuck in the sent state.
	settleCtx := context.WithoutCancel(ctx)

	p := s.registry.Get(task.Ref.Provider)
	result, err := p.SendMessage(ctx, pc, task.Ref, task.Request)
	if err != nil {
		log.Warn("send failed", "error", err, "message_record", task.MessageID)
		s.settleFailed(settleCtx, task, err)
		return
	}

	providerMessageID, _ := extract.MessageID(result)
	if providerMessageID == "" {
		if raw, ok := result["message_id"].(string); ok {
			providerMessageID = raw
		}
	}

	moved, err := s.store.MarkMessageDelivered(settleCtx, task.MessageID, providerMessageID)
	if err != nil {
		log.Error("mark delivered failed", "error", err, "message_record", task.MessageID)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("sender").Inc()
		}
		return
	}
	if moved && s.metrics != nil {
		s.metrics.OutboundMessages.WithLabelValues(task.Ref.Provider, "delivered").Inc()
	}
	log.Info("message delivered", "message_record", task.MessageID, "provider_message_id", providerMessageID)
}

func (s *Sender) settleFailed(ctx context.Context, task Task, sendErr error) {
	moved, err := s.store.MarkMessageFailed(ctx, task.MessageID, sendErr.Error())
	if err != nil {
		pc := provider.NewContext(s.logger, task.Log)
		pc.Logger().Error("mark failed failed", "error", err, "message_record", task.MessageID)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("sender").Inc()
		}
		return
	}
	if moved && s.metrics != nil {
		s.metrics.OutboundMessages.WithLabelValues(task.Ref.Provider, "failed").Inc()
	}
}
