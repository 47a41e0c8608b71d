package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ncolesummers/multi-research/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQueueFull is returned when no queue slot is free
	ErrQueueFull = errors.New("session queue is full")
	// ErrQueueNotRunning is returned when submitting to a stopped queue
	ErrQueueNotRunning = errors.New("session queue not running")
	// ErrAlreadyQueued is returned when a session is queued or running
	ErrAlreadyQueued = errors.New("session already queued")
	// ErrSessionNotActive is returned when cancelling a session that is neither queued nor running
	ErrSessionNotActive = errors.New("session is not running")
)

// SessionHandler runs one session to completion
type SessionHandler func(ctx context.Context, sessionID string) error

// SessionQueueConfig holds configuration for the session queue
type SessionQueueConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
	QueueSize     int `json:"queue_size"`
}

type queuedSession struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// SessionQueue runs submitted sessions on a fixed set of workers.
// Every session gets its own cancellable context derived from the queue's.
type SessionQueue struct {
	config  SessionQueueConfig
	handler SessionHandler
	queue   chan *queuedSession

	// Synchronization
	wg      sync.WaitGroup
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	// Sessions that are queued or running, by id
	activeMu sync.Mutex
	active   map[string]*queuedSession

	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewSessionQueue creates a session queue
func NewSessionQueue(cfg SessionQueueConfig, handler SessionHandler, telemetry *observability.Telemetry, metrics *observability.Metrics) (*SessionQueue, error) {
	if handler == nil {
		return nil, fmt.Errorf("session handler is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}
	if metrics == nil {
		var err error
		metrics, err = observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	return &SessionQueue{
		config:    cfg,
		handler:   handler,
		active:    make(map[string]*queuedSession),
		telemetry: telemetry,
		metrics:   metrics,
		logger:    observability.NewStructuredLogger("session_queue"),
	}, nil
}

// Start launches the workers. Cancelling ctx or calling Stop cancels
// every queued and running session.
func (q *SessionQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running.Load() {
		return fmt.Errorf("session queue already running")
	}

	_, span := q.telemetry.StartSpan(ctx, "session_queue.start",
		trace.WithAttributes(
			attribute.Int("max_concurrent", q.config.MaxConcurrent),
			attribute.Int("queue_size", q.config.QueueSize),
		),
	)
	defer span.End()

	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
			q.cancel()
		case <-q.ctx.Done():
		}
	}()
	q.queue = make(chan *queuedSession, q.config.QueueSize)

	for i := 0; i < q.config.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.running.Store(true)

	q.logger.Info(ctx, "Session queue started", map[string]interface{}{
		"workers":    q.config.MaxConcurrent,
		"queue_size": q.config.QueueSize,
	})
	return nil
}

// Stop stops accepting sessions, cancels the ones in flight and waits
// for the workers to drain or for ctx to expire.
func (q *SessionQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running.Load() {
		q.mu.Unlock()
		return fmt.Errorf("session queue not running")
	}
	q.running.Store(false)
	close(q.queue)
	q.cancel()
	q.mu.Unlock()

	q.logger.Info(ctx, "Stopping session queue")

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info(ctx, "All sessions stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn(ctx, "Timeout waiting for sessions to stop")
		return ctx.Err()
	}
}

// Submit queues a session. It never blocks.
func (q *SessionQueue) Submit(ctx context.Context, sessionID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running.Load() {
		return ErrQueueNotRunning
	}

	q.activeMu.Lock()
	if _, exists := q.active[sessionID]; exists {
		q.activeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, sessionID)
	}
	sessionCtx, cancel := context.WithCancel(q.ctx)
	item := &queuedSession{sessionID: sessionID, ctx: sessionCtx, cancel: cancel}
	q.active[sessionID] = item
	q.activeMu.Unlock()

	select {
	case q.queue <- item:
		q.metrics.SessionQueued(ctx, 1)
		q.logger.Debug(ctx, "Session submitted", map[string]interface{}{
			"session_id":  sessionID,
			"queue_depth": len(q.queue),
		})
		return nil
	default:
		q.release(item)
		return ErrQueueFull
	}
}

// Cancel cancels a queued or running session. A cancelled queued session
// still runs, and each of its providers fails as cancelled.
func (q *SessionQueue) Cancel(sessionID string) bool {
	q.activeMu.Lock()
	item, exists := q.active[sessionID]
	q.activeMu.Unlock()

	if !exists {
		return false
	}
	item.cancel()
	return true
}

// IsActive reports whether a session is queued or running
func (q *SessionQueue) IsActive(sessionID string) bool {
	q.activeMu.Lock()
	defer q.activeMu.Unlock()
	_, exists := q.active[sessionID]
	return exists
}

// Stats returns queue statistics
func (q *SessionQueue) Stats() map[string]interface{} {
	q.activeMu.Lock()
	active := len(q.active)
	q.activeMu.Unlock()

	q.mu.RLock()
	depth := len(q.queue)
	q.mu.RUnlock()

	return map[string]interface{}{
		"running":     q.running.Load(),
		"workers":     q.config.MaxConcurrent,
		"active":      active,
		"queue_depth": depth,
	}
}

func (q *SessionQueue) worker(id int) {
	defer q.wg.Done()

	for item := range q.queue {
		q.metrics.SessionQueued(context.Background(), -1)
		q.process(id, item)
	}
}

func (q *SessionQueue) process(workerID int, item *queuedSession) {
	defer q.release(item)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session handler panic: %v", r)
			q.logger.Error(item.ctx, "Panic recovered", err, map[string]interface{}{
				"worker_id":  workerID,
				"session_id": item.sessionID,
				"stack":      string(debug.Stack()),
			})
		}
	}()

	if err := q.handler(item.ctx, item.sessionID); err != nil {
		q.logger.Error(context.WithoutCancel(item.ctx), "Session failed", err, map[string]interface{}{
			"worker_id":  workerID,
			"session_id": item.sessionID,
		})
	}
}

func (q *SessionQueue) release(item *queuedSession) {
	item.cancel()
	q.activeMu.Lock()
	if q.active[item.sessionID] == item {
		delete(q.active, item.sessionID)
	}
	q.activeMu.Unlock()
}
