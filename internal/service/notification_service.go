package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/config"
	"github.com/spec-kit/property-service/internal/events"
)

// Enqueuer hands a job to a background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, data any) (string, error)
}

// NotificationService turns ticket events into delivery jobs for the worker
// fleet.
type NotificationService struct {
	dispatcher events.Dispatcher
	queue      Enqueuer
	logger     *zap.Logger
	cfg        config.NotificationConfig
	submitter  JobSubmitter
}

// NotificationJob is a delivery job built from one event, waiting to be
// enqueued.
type NotificationJob struct {
	Name     string
	Event    events.Event
	Channels []string
}

// JobSubmitter hands jobs to an asynchronous enqueuer. Submit must not block;
// it reports false when the job was not accepted.
type JobSubmitter interface {
	Submit(job NotificationJob) bool
}

// notificationJob is the payload consumed by the delivery worker.
type notificationJob struct {
	EventID    string               `json:"eventId"`
	EventType  events.EventType     `json:"eventType"`
	Resources  []events.ResourceRef `json:"resources"`
	ActorID    string               `json:"actorId"`
	Channels   []string             `json:"channels"`
	EmailFrom  string               `json:"emailFrom,omitempty"`
	WebhookURL string               `json:"webhookUrl,omitempty"`
	Payload    any                  `json:"payload,omitempty"`
}

// NewNotificationService creates the service. queue may be nil, in which case
// events are only logged.
func NewNotificationService(dispatcher events.Dispatcher, queue Enqueuer, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		queue:      queue,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events. Jobs go through submitter so event
// publishers never wait on the queue; a nil submitter enqueues inline.
func (n *NotificationService) RegisterHandlers(submitter JobSubmitter) {
	if n.dispatcher == nil {
		return
	}
	n.submitter = submitter
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketUpdated)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("event_id", event.ID), zap.Any("payload", event.Payload))
	return n.submit(ctx, NotificationJob{Name: "ticket-created", Event: event, Channels: n.channels(true)})
}

func (n *NotificationService) handleTicketUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("event_id", event.ID), zap.Any("payload", event.Payload))
	return n.submit(ctx, NotificationJob{Name: "ticket-status-changed", Event: event, Channels: n.channels(false)})
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketAssigned", zap.String("event_id", event.ID), zap.Any("payload", event.Payload))
	return n.submit(ctx, NotificationJob{Name: "ticket-assigned", Event: event, Channels: n.channels(true)})
}

// channels lists the delivery routes that are configured. Email goes out only
// for events a person has to act on.
func (n *NotificationService) channels(email bool) []string {
	var out []string
	if email && strings.TrimSpace(n.cfg.EmailFrom) != "" {
		out = append(out, "email")
	}
	if strings.TrimSpace(n.cfg.WebhookURL) != "" {
		out = append(out, "webhook")
	}
	return out
}

func (n *NotificationService) submit(ctx context.Context, job NotificationJob) error {
	if n.queue == nil || len(job.Channels) == 0 {
		return nil
	}
	if n.submitter == nil {
		return n.Deliver(ctx, job)
	}
	if !n.submitter.Submit(job) {
		n.logger.Warn("notification dropped",
			zap.String("job", job.Name),
			zap.String("event_id", job.Event.ID))
	}
	return nil
}

// Deliver enqueues job and announces it with a job.enqueued event.
func (n *NotificationService) Deliver(ctx context.Context, job NotificationJob) error {
	if n.queue == nil {
		return nil
	}
	event := job.Event
	id, err := n.queue.Enqueue(ctx, job.Name, notificationJob{
		EventID:    event.ID,
		EventType:  event.Type,
		Resources:  event.Resources,
		ActorID:    event.ActorID,
		Channels:   job.Channels,
		EmailFrom:  n.cfg.EmailFrom,
		WebhookURL: n.cfg.WebhookURL,
		Payload:    event.Payload,
	})
	if err != nil {
		return err
	}
	n.logger.Debug("notification enqueued",
		zap.String("job_id", id),
		zap.String("queue", n.cfg.Queue),
		zap.String("event_type", string(event.Type)))
	if n.dispatcher != nil {
		// job.* events are not subscribed here, so this cannot recurse.
		publish(ctx, n.dispatcher, n.logger, events.Event{
			Type:      events.EventJobEnqueued,
			Resources: []events.ResourceRef{{Type: "job", ID: id}},
			ActorID:   event.ActorID,
			ActorRole: event.ActorRole,
		})
	}
	return nil
}
