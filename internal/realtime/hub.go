// Package realtime pushes domain events to browsers over server-sent events
// and turns them back into cache invalidations on the consuming side.
package realtime

import (
	"bufio"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/auth"
	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/events"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

// Hub fans dispatcher events out to connected SSE subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu        sync.Mutex
	subs      map[*subscription]struct{}
	closed    bool
	buffer    int
	heartbeat time.Duration
	dropped   atomic.Int64
	logger    *zap.Logger
}

type subscription struct {
	actor domain.Actor
	ch    chan events.Event
	once  sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewHub registers a hub on dispatcher.
func NewHub(dispatcher events.Dispatcher, buffer int, heartbeat time.Duration, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs:      make(map[*subscription]struct{}),
		buffer:    buffer,
		heartbeat: heartbeat,
		logger:    logger,
	}
	if dispatcher != nil {
		dispatcher.SubscribeAll(h.broadcast)
	}
	return h
}

// Subscribe returns a channel of the events actor may see and a function that
// releases it. The channel is closed on release or when the hub shuts down.
func (h *Hub) Subscribe(actor domain.Actor) (<-chan events.Event, func()) {
	sub := &subscription{actor: actor, ch: make(chan events.Event, h.buffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.close()
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) broadcast(_ context.Context, event events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !event.VisibleTo(sub.actor) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// Handler streams events to the caller until it disconnects or the hub
// closes.
func (h *Hub) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := auth.ActorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("missing actor")
		}
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		ch, release := h.Subscribe(actor)
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer release()
			h.stream(w, ch)
		})
		return nil
	}
}

// stream writes events and heartbeats to w until ch closes or a flush fails,
// which is how a disconnected client shows up.
func (h *Hub) stream(w *bufio.Writer, ch <-chan events.Event) {
	if err := writeComment(w, "connected"); err != nil || w.Flush() != nil {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.logger.Warn("encode sse event", zap.String("event_type", string(event.Type)), zap.Error(err))
				continue
			}
		case <-ticker.C:
			if err := writeComment(w, "keepalive"); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			h.logger.Debug("sse subscriber disconnected", zap.Error(err))
			return
		}
	}
}
