package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/events"
	"github.com/spec-kit/property-service/internal/repository"
	"github.com/spec-kit/property-service/internal/workflow"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

// TicketService coordinates single-ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	timeline   repository.TimelineRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	TimelineRepo repository.TimelineRepository
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	PropertyID  string
	TenancyID   *string
	Title       string
	Description string
	Category    string
	Priority    domain.TicketPriority
	Tags        []string
}

// TicketSearchInput describes listing filters.
type TicketSearchInput struct {
	Query        string
	PropertyID   *string
	ContractorID *string
	Category     *string
	Status       *domain.TicketStatus
	Priority     *domain.TicketPriority
	DateFrom     *time.Time
	DateTo       *time.Time
	SortBy       repository.SortField
	Descending   bool
	Page         int
	PageSize     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		timeline:   deps.TimelineRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateTicket opens a ticket on behalf of a tenant, landlord or ops user.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if actor.Role == domain.RoleContractor {
		return nil, apperrors.NewForbidden("contractors cannot raise tickets")
	}
	now := s.now().UTC()
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityStandard
	}
	ticket := &domain.Ticket{
		ID:            uuid.NewString(),
		PropertyID:    input.PropertyID,
		TenancyID:     input.TenancyID,
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		Category:      strings.TrimSpace(input.Category),
		Priority:      priority,
		Status:        domain.TicketStatusOpen,
		Tags:          dedupeTags(input.Tags),
		CreatedBy:     actor.ID,
		CreatedByRole: actor.Role,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created := domain.TimelineEvent{
		ID:          uuid.NewString(),
		TicketID:    ticket.ID,
		Type:        domain.TimelineCreated,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Description: "Ticket raised",
		CreatedAt:   now,
	}
	if err := s.tickets.Create(ctx, ticket, created); err != nil {
		return nil, apperrors.MapError(err)
	}
	publish(ctx, s.dispatcher, s.logger, events.Event{
		Type:      events.EventTicketCreated,
		Resources: []events.ResourceRef{events.TicketRef(ticket.ID), {Type: "property", ID: ticket.PropertyID}},
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Version:   ticket.Version,
		Scope:     events.TicketScope(ticket),
		Payload: events.TicketCreatedPayload{
			PropertyID: ticket.PropertyID,
			Priority:   ticket.Priority,
			Title:      ticket.Title,
		},
	})
	return ticket, nil
}

// GetTicket returns a ticket and its timeline if the actor may see it.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, []domain.TimelineEvent, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !canAccess(actor, ticket) {
		return nil, nil, apperrors.NewForbidden("access denied")
	}
	timeline, err := s.timeline.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return ticket, timeline, nil
}

// SearchTickets lists tickets visible to the actor.
func (s *TicketService) SearchTickets(ctx context.Context, actor domain.Actor, input TicketSearchInput) ([]domain.Ticket, int, error) {
	filter := repository.TicketFilter{
		Query:        input.Query,
		PropertyID:   input.PropertyID,
		ContractorID: input.ContractorID,
		Category:     input.Category,
		CreatedFrom:  input.DateFrom,
		CreatedTo:    input.DateTo,
		SortBy:       input.SortBy,
		Descending:   input.Descending,
		Limit:        input.PageSize,
		Offset:       (input.Page - 1) * input.PageSize,
	}
	if input.Status != nil {
		filter.Statuses = []domain.TicketStatus{*input.Status}
	}
	if input.Priority != nil {
		filter.Priorities = []domain.TicketPriority{*input.Priority}
	}
	applyActorScope(&filter, actor)
	tickets, total, err := s.tickets.Search(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.MapError(err)
	}
	return tickets, total, nil
}

// Transition moves a ticket to target through the workflow rules.
func (s *TicketService) Transition(ctx context.Context, actor domain.Actor, ticketID string, target domain.TicketStatus, note string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	expected := ticket.Version
	outcome, err := workflow.Transition(ticket, target, actor, note, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !outcome.Changed {
		return ticket, nil
	}
	if err := s.tickets.Update(ctx, ticket, expected, *outcome.Event); err != nil {
		return nil, mapWriteError(err, ticket.ID)
	}
	publish(ctx, s.dispatcher, s.logger, statusChangedEvent(actor, ticket, outcome.FromStatus, note))
	return ticket, nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func mapWriteError(err error, ticketID string) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflict("ticket was modified concurrently", map[string]any{"ticket_id": ticketID})
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

// canAccess scopes tenants to tickets they raised and contractors to tickets
// assigned to them. Landlord portfolio scoping lives with the property service.
func canAccess(actor domain.Actor, ticket *domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleOps, domain.RoleLandlord:
		return true
	case domain.RoleTenant:
		return ticket.CreatedBy == actor.ID
	case domain.RoleContractor:
		return ticket.ContractorID != nil && *ticket.ContractorID == actor.ID
	}
	return false
}

func applyActorScope(filter *repository.TicketFilter, actor domain.Actor) {
	switch actor.Role {
	case domain.RoleTenant:
		id := actor.ID
		filter.CreatedBy = &id
	case domain.RoleContractor:
		id := actor.ID
		filter.ContractorID = &id
	}
}

func statusChangedEvent(actor domain.Actor, ticket *domain.Ticket, from domain.TicketStatus, note string) events.Event {
	return events.Event{
		Type:      events.EventTicketStatusChanged,
		Resources: []events.ResourceRef{events.TicketRef(ticket.ID)},
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Version:   ticket.Version,
		Scope:     events.TicketScope(ticket),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: from,
			NewStatus: ticket.Status,
			Note:      note,
		},
	}
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event listener failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func dedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
