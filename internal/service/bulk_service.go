package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/events"
	"github.com/spec-kit/property-service/internal/idempotency"
	"github.com/spec-kit/property-service/internal/observability"
	"github.com/spec-kit/property-service/internal/repository"
	"github.com/spec-kit/property-service/internal/workflow"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

// BulkService applies one operation to a batch of tickets, isolating failures
// per ticket.
type BulkService struct {
	tickets    repository.TicketRepository
	store      idempotency.Store
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	maxItems   int
	ttl        time.Duration
	now        func() time.Time
}

// BulkDependencies bundles collaborators for the bulk service.
type BulkDependencies struct {
	TicketRepo       repository.TicketRepository
	IdempotencyStore idempotency.Store
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	MaxItems         int
	IdempotencyTTL   time.Duration
}

// BulkCommand is one bulk request.
type BulkCommand struct {
	Operation      domain.BulkOperation
	TicketIDs      []string
	Params         domain.BulkParams
	IdempotencyKey string
}

// BulkOutcome carries the result and its canonical JSON encoding. Replayed
// outcomes return the stored bytes untouched.
type BulkOutcome struct {
	Result   domain.BulkResult
	Body     json.RawMessage
	Replayed bool
}

// NewBulkService constructs the service.
func NewBulkService(deps BulkDependencies) *BulkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxItems := deps.MaxItems
	if maxItems <= 0 || maxItems > domain.MaxBulkItems {
		maxItems = domain.MaxBulkItems
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BulkService{
		tickets:    deps.TicketRepo,
		store:      deps.IdempotencyStore,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		maxItems:   maxItems,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Execute runs cmd. Item failures land in the result; only infrastructure
// failures and idempotency conflicts return an error.
func (s *BulkService) Execute(ctx context.Context, actor domain.Actor, cmd BulkCommand) (*BulkOutcome, error) {
	if n := len(cmd.TicketIDs); n == 0 || n > s.maxItems {
		return nil, apperrors.NewValidationError("invalid ticket batch", map[string]any{
			"ticketIds": fmt.Sprintf("must contain between 1 and %d ids", s.maxItems),
		})
	}

	if cmd.IdempotencyKey == "" {
		result, err := s.run(ctx, actor, cmd)
		if err != nil {
			return nil, err
		}
		return s.outcome(result)
	}

	if s.store == nil {
		return nil, apperrors.NewInternalError(errors.New("idempotency store not configured"))
	}
	fingerprint, err := idempotency.Fingerprint(actor.ID, actor.Role, cmd.Operation, cmd.TicketIDs, cmd.Params)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	key := actor.ID + ":" + cmd.IdempotencyKey

	replay, err := s.reserve(ctx, key, fingerprint)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	result, err := s.run(ctx, actor, cmd)
	if err != nil {
		s.abort(ctx, key, fingerprint, result)
		return nil, err
	}
	outcome, err := s.outcome(result)
	if err != nil {
		return nil, err
	}
	record := idempotency.Record{
		Fingerprint: fingerprint,
		State:       idempotency.StateCompleted,
		Response:    outcome.Body,
		CreatedAt:   s.now().UTC(),
	}
	// A failed write leaves the pending reservation in place until it expires,
	// so replays are refused rather than re-executed.
	if err := s.store.Put(context.WithoutCancel(ctx), key, record, s.ttl); err != nil {
		s.logger.Error("store idempotent result", zap.String("key", key), zap.Error(err))
	}
	return outcome, nil
}

// abort settles the reservation of a batch that hit an infrastructure error.
// A batch that committed nothing frees its key for a retry; one that committed
// part of its work keeps the key so it is never applied twice.
func (s *BulkService) abort(ctx context.Context, key, fingerprint string, partial domain.BulkResult) {
	ctx = context.WithoutCancel(ctx)
	if len(partial.OK) == 0 {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Error("release idempotency key", zap.String("key", key), zap.Error(err))
		}
		return
	}
	body, err := json.Marshal(partial)
	if err == nil {
		err = s.store.Put(ctx, key, idempotency.Record{
			Fingerprint: fingerprint,
			State:       idempotency.StateAborted,
			Response:    body,
			CreatedAt:   s.now().UTC(),
		}, s.ttl)
	}
	if err != nil {
		s.logger.Error("record aborted bulk", zap.String("key", key), zap.Error(err))
	}
}

// reserve claims key for this request. It returns a stored outcome when the key
// was already completed with the same fingerprint.
func (s *BulkService) reserve(ctx context.Context, key, fingerprint string) (*BulkOutcome, error) {
	pending := idempotency.Record{Fingerprint: fingerprint, State: idempotency.StatePending, CreatedAt: s.now().UTC()}
	for attempt := 0; attempt < 2; attempt++ {
		reserved, err := s.store.PutIfAbsent(ctx, key, pending, s.ttl)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if reserved {
			return nil, nil
		}
		existing, found, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if !found {
			// expired between the two calls
			continue
		}
		if existing.Fingerprint != fingerprint {
			return nil, apperrors.NewConflict("idempotency key reused with a different request", nil)
		}
		switch existing.State {
		case idempotency.StateCompleted:
		case idempotency.StateAborted:
			return nil, abortedConflict(existing.Response)
		default:
			return nil, apperrors.NewConflict("a request with this idempotency key is still in progress", nil)
		}
		var result domain.BulkResult
		if err := json.Unmarshal(existing.Response, &result); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		return &BulkOutcome{Result: result, Body: existing.Response, Replayed: true}, nil
	}
	return nil, apperrors.NewConflict("idempotency key is contended", nil)
}

// abortedConflict reports the tickets an earlier, failed attempt already
// changed so the caller can resubmit the rest under a new key.
func abortedConflict(stored json.RawMessage) error {
	var partial domain.BulkResult
	_ = json.Unmarshal(stored, &partial)
	applied := partial.OK
	if applied == nil {
		applied = []string{}
	}
	return apperrors.NewConflict("an earlier request with this idempotency key failed after applying some changes; retry with a new key",
		map[string]any{"applied": applied})
}

func (s *BulkService) outcome(result domain.BulkResult) (*BulkOutcome, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &BulkOutcome{Result: result, Body: body}, nil
}

// run applies cmd item by item. On an infrastructure error it returns the
// partial result gathered so far alongside the error.
func (s *BulkService) run(ctx context.Context, actor domain.Actor, cmd BulkCommand) (domain.BulkResult, error) {
	result := domain.NewBulkResult(len(cmd.TicketIDs))
	for _, id := range cmd.TicketIDs {
		code, err := s.applyOne(ctx, actor, cmd.Operation, id, cmd.Params)
		if err != nil {
			s.logger.Error("bulk operation aborted",
				zap.String("operation", string(cmd.Operation)),
				zap.String("actor_id", actor.ID),
				zap.String("ticket_id", id),
				zap.Int("applied", len(result.OK)),
				zap.Error(err))
			return result, apperrors.NewInternalError(fmt.Errorf("bulk %s on %s: %w", cmd.Operation, id, err))
		}
		if code != "" {
			result.Failed = append(result.Failed, domain.BulkItemFailure{ID: id, Error: code})
			continue
		}
		result.OK = append(result.OK, id)
	}
	s.metrics.RecordBulk(string(cmd.Operation), len(result.OK), len(result.Failed))
	s.logger.Info("bulk operation",
		zap.String("operation", string(cmd.Operation)),
		zap.String("actor_id", actor.ID),
		zap.Int("ok", len(result.OK)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// itemChange is the mutation planned for one ticket.
type itemChange struct {
	timeline []domain.TimelineEvent
	events   []events.Event
}

func (c *itemChange) empty() bool {
	return len(c.timeline) == 0
}

// applyOne returns a failure code for item-level problems and an error only
// for infrastructure failures.
func (s *BulkService) applyOne(ctx context.Context, actor domain.Actor, op domain.BulkOperation, id string, params domain.BulkParams) (domain.BulkItemErrorCode, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BulkErrNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if !canAccess(actor, ticket) {
		return domain.BulkErrForbidden, nil
	}

	expected := ticket.Version
	now := s.now().UTC()
	var change itemChange
	var code domain.BulkItemErrorCode

	switch op {
	case domain.BulkAssign:
		code = s.planAssign(ticket, actor, params, now, &change)
	case domain.BulkReassign:
		code = s.planReassign(ticket, actor, params, now, &change)
	case domain.BulkClose:
		code = s.planClose(ticket, actor, params, now, &change)
	case domain.BulkCategory:
		code = s.planCategory(ticket, actor, params, now, &change)
	case domain.BulkTag:
		code = s.planTags(ticket, actor, params, now, &change)
	case domain.BulkStatus:
		code = s.planTransition(ticket, actor, params.Status, params.ResolutionNote, now, &change)
	default:
		code = domain.BulkErrValidation
	}
	if code != "" || change.empty() {
		return code, nil
	}

	if err := s.tickets.Update(ctx, ticket, expected, change.timeline...); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			return domain.BulkErrConflict, nil
		case errors.Is(err, pgx.ErrNoRows):
			return domain.BulkErrNotFound, nil
		}
		return "", err
	}
	for _, event := range change.events {
		event.Version = ticket.Version
		event.Scope = events.TicketScope(ticket, event.Scope.ContractorIDs...)
		publish(ctx, s.dispatcher, s.logger, event)
	}
	return "", nil
}

func (s *BulkService) planTransition(ticket *domain.Ticket, actor domain.Actor, target domain.TicketStatus, note string, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	outcome, err := workflow.Transition(ticket, target, actor, note, now)
	if err != nil {
		return itemCode(err)
	}
	if outcome.Changed {
		change.timeline = append(change.timeline, *outcome.Event)
		change.events = append(change.events, statusChangedEvent(actor, ticket, outcome.FromStatus, note))
	}
	return ""
}

func (s *BulkService) planAssign(ticket *domain.Ticket, actor domain.Actor, params domain.BulkParams, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	if !canManage(actor) {
		return domain.BulkErrForbidden
	}
	if ticket.Status != domain.TicketStatusOpen && ticket.Status != domain.TicketStatusTriaged {
		return domain.BulkErrInvalidState
	}
	if ticket.ContractorID != nil {
		return domain.BulkErrValidation
	}
	if ticket.Status == domain.TicketStatusOpen {
		if code := s.planTransition(ticket, actor, domain.TicketStatusTriaged, "", now, change); code != "" {
			return code
		}
	}
	s.setContractor(ticket, actor, params.ContractorID, domain.TimelineAssigned, now, change)
	return ""
}

func (s *BulkService) planReassign(ticket *domain.Ticket, actor domain.Actor, params domain.BulkParams, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	if !canManage(actor) {
		return domain.BulkErrForbidden
	}
	if ticket.Status.IsTerminal() {
		return domain.BulkErrInvalidState
	}
	if ticket.ContractorID == nil || *ticket.ContractorID == params.ContractorID {
		return domain.BulkErrValidation
	}
	s.setContractor(ticket, actor, params.ContractorID, domain.TimelineReassigned, now, change)
	return ""
}

func (s *BulkService) setContractor(ticket *domain.Ticket, actor domain.Actor, contractorID string, kind domain.TimelineEventType, now time.Time, change *itemChange) {
	previous := ticket.ContractorID
	assignee := contractorID
	ticket.ContractorID = &assignee
	ticket.UpdatedAt = now
	change.timeline = append(change.timeline, newTimelineEvent(ticket.ID, kind, actor, "Assigned to contractor "+contractorID, now))
	change.events = append(change.events, events.Event{
		Type:      events.EventTicketAssigned,
		Resources: []events.ResourceRef{events.TicketRef(ticket.ID), {Type: "contractor", ID: contractorID}},
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Scope:     events.TicketScope(ticket, previousID(previous)),
		Payload: events.TicketAssignedPayload{
			OldContractorID: previous,
			ContractorID:    contractorID,
		},
	})
}

func (s *BulkService) planClose(ticket *domain.Ticket, actor domain.Actor, params domain.BulkParams, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	target, ok := workflow.CloseTarget(ticket.Status)
	if !ok {
		return domain.BulkErrInvalidState
	}
	return s.planTransition(ticket, actor, target, params.ResolutionNote, now, change)
}

func (s *BulkService) planCategory(ticket *domain.Ticket, actor domain.Actor, params domain.BulkParams, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	if !canManage(actor) {
		return domain.BulkErrForbidden
	}
	if ticket.Status.IsTerminal() {
		return domain.BulkErrInvalidState
	}
	if ticket.Category == params.Category {
		return ""
	}
	old := ticket.Category
	ticket.Category = params.Category
	ticket.UpdatedAt = now
	change.timeline = append(change.timeline, newTimelineEvent(ticket.ID, domain.TimelineCategoryChanged, actor,
		fmt.Sprintf("Category changed from %s to %s", old, params.Category), now))
	change.events = append(change.events, events.Event{
		Type:      events.EventTicketCategoryChanged,
		Resources: []events.ResourceRef{events.TicketRef(ticket.ID)},
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	return ""
}

func (s *BulkService) planTags(ticket *domain.Ticket, actor domain.Actor, params domain.BulkParams, now time.Time, change *itemChange) domain.BulkItemErrorCode {
	if !canManage(actor) {
		return domain.BulkErrForbidden
	}
	for _, tag := range params.AddTags {
		if ticket.HasTag(tag) {
			return domain.BulkErrValidation
		}
	}
	for _, tag := range params.RemoveTags {
		if !ticket.HasTag(tag) {
			return domain.BulkErrValidation
		}
	}
	remove := make(map[string]struct{}, len(params.RemoveTags))
	for _, tag := range params.RemoveTags {
		remove[tag] = struct{}{}
	}
	tags := make([]string, 0, len(ticket.Tags)+len(params.AddTags))
	for _, tag := range ticket.Tags {
		if _, drop := remove[tag]; !drop {
			tags = append(tags, tag)
		}
	}
	ticket.Tags = dedupeTags(append(tags, params.AddTags...))
	ticket.UpdatedAt = now
	change.timeline = append(change.timeline, newTimelineEvent(ticket.ID, domain.TimelineTagsChanged, actor,
		fmt.Sprintf("Tags added %v, removed %v", params.AddTags, params.RemoveTags), now))
	change.events = append(change.events, events.Event{
		Type:      events.EventTicketTagsChanged,
		Resources: []events.ResourceRef{events.TicketRef(ticket.ID)},
		ActorID:   actor.ID,
		ActorRole: actor.Role,
	})
	return ""
}

func previousID(contractorID *string) string {
	if contractorID == nil {
		return ""
	}
	return *contractorID
}

// canManage reports whether the actor may edit assignment and metadata.
func canManage(actor domain.Actor) bool {
	return actor.Role == domain.RoleLandlord || actor.Role == domain.RoleOps
}

func itemCode(err error) domain.BulkItemErrorCode {
	switch {
	case apperrors.HasCode(err, apperrors.CodeInvalidTransition):
		return domain.BulkErrInvalidState
	case apperrors.HasCode(err, apperrors.CodeForbidden):
		return domain.BulkErrForbidden
	}
	return domain.BulkErrValidation
}

func newTimelineEvent(ticketID string, kind domain.TimelineEventType, actor domain.Actor, description string, now time.Time) domain.TimelineEvent {
	return domain.TimelineEvent{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		Type:        kind,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Description: description,
		CreatedAt:   now,
	}
}
