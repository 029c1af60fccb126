package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/config"
	"github.com/spec-kit/property-service/internal/service"
)

// NotificationWorker drains notification jobs into the queue on its own
// goroutine so request handlers never wait on Redis.
type NotificationWorker struct {
	service *service.NotificationService
	jobs    chan service.NotificationJob
	timeout time.Duration
	logger  *zap.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// StartNotificationWorker registers the notification fan-out with the event
// dispatcher and starts the enqueue loop.
func StartNotificationWorker(notificationService *service.NotificationService, cfg config.NotificationConfig, logger *zap.Logger) *NotificationWorker {
	if notificationService == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}
	w := &NotificationWorker{
		service: notificationService,
		jobs:    make(chan service.NotificationJob, buffer),
		timeout: cfg.EnqueueTimeout(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	notificationService.RegisterHandlers(w)
	return w
}

// Submit queues job without blocking. It returns false when the buffer is full
// or the worker has stopped.
func (w *NotificationWorker) Submit(job service.NotificationJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns how many jobs were refused.
func (w *NotificationWorker) Dropped() int64 {
	return w.dropped.Load()
}

// Stop refuses new jobs and waits until the buffered ones are enqueued or ctx
// ends.
func (w *NotificationWorker) Stop(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *NotificationWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.service.Deliver(ctx, job); err != nil {
			w.logger.Error("enqueue notification",
				zap.String("job", job.Name),
				zap.String("event_id", job.Event.ID),
				zap.Error(err))
		}
		cancel()
	}
}
