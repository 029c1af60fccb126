package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/property-service/internal/config"
	"github.com/spec-kit/property-service/internal/events"
	"github.com/spec-kit/property-service/internal/service"
)

// slowQueue takes delay per enqueue and blocks until release is closed when
// release is set.
type slowQueue struct {
	mu      sync.Mutex
	delay   time.Duration
	release chan struct{}
	names   []string
	sawDone bool
}

func (q *slowQueue) Enqueue(ctx context.Context, name string, _ any) (string, error) {
	if q.release != nil {
		<-q.release
	}
	time.Sleep(q.delay)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	if _, ok := ctx.Deadline(); ok {
		q.sawDone = true
	}
	return "job-" + name, nil
}

func (q *slowQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.names)
}

var webhookOnly = config.NotificationConfig{WebhookURL: "https://hooks.example.com/tickets", Queue: "notifications", BufferSize: 16, EnqueueTimeoutSeconds: 1}

func statusEvent(id string) events.Event {
	return events.Event{ID: id, Type: events.EventTicketStatusChanged, Resources: []events.ResourceRef{events.TicketRef("t-" + id)}}
}

func TestPublishDoesNotWaitForQueue(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	queue := &slowQueue{delay: 100 * time.Millisecond}
	ns := service.NewNotificationService(dispatcher, queue, nil, webhookOnly)
	w := StartNotificationWorker(ns, webhookOnly, nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := dispatcher.Publish(context.Background(), statusEvent(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("publishing 10 events took %s", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if queue.count() != 10 {
		t.Fatalf("enqueued = %d, want 10", queue.count())
	}
	if !queue.sawDone {
		t.Fatalf("enqueue should run with a bounded context")
	}
}

func TestWorkerDropsWhenBufferIsFull(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	queue := &slowQueue{release: make(chan struct{})}
	cfg := webhookOnly
	cfg.BufferSize = 1
	ns := service.NewNotificationService(dispatcher, queue, nil, cfg)
	w := StartNotificationWorker(ns, cfg, nil)

	// one job blocks inside Enqueue, one waits in the buffer, the rest drop
	for i := 0; i < 5; i++ {
		_ = dispatcher.Publish(context.Background(), statusEvent(string(rune('a'+i))))
		time.Sleep(5 * time.Millisecond)
	}
	if w.Dropped() < 3 {
		t.Fatalf("dropped = %d, want at least 3", w.Dropped())
	}
	close(queue.release)
	if err := w.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.Submit(service.NotificationJob{Name: "late"}) {
		t.Fatalf("submit after stop should be refused")
	}
}

func TestWorkerPublishesJobEnqueued(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	var mu sync.Mutex
	var jobs []events.Event
	dispatcher.Subscribe(events.EventJobEnqueued, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		jobs = append(jobs, e)
		return nil
	})
	queue := &slowQueue{}
	ns := service.NewNotificationService(dispatcher, queue, nil, webhookOnly)
	w := StartNotificationWorker(ns, webhookOnly, nil)

	_ = dispatcher.Publish(context.Background(), statusEvent("a"))
	if err := w.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(jobs) != 1 || jobs[0].Resources[0].ID != "job-ticket-status-changed" {
		t.Fatalf("job events = %+v", jobs)
	}
}
