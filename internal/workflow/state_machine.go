// Package workflow holds the ticket lifecycle rules.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/property-service/internal/domain"
	apperrors "github.com/spec-kit/property-service/pkg/util/errorutil"
)

type edge struct {
	from domain.TicketStatus
	to   domain.TicketStatus
}

// allowedTransitions maps each legal edge to the roles that may perform it.
var allowedTransitions = map[edge][]domain.Role{
	{domain.TicketStatusOpen, domain.TicketStatusTriaged}:         {domain.RoleLandlord, domain.RoleOps},
	{domain.TicketStatusTriaged, domain.TicketStatusQuoted}:       {domain.RoleContractor, domain.RoleOps},
	{domain.TicketStatusQuoted, domain.TicketStatusApproved}:      {domain.RoleLandlord, domain.RoleOps},
	{domain.TicketStatusApproved, domain.TicketStatusInProgress}:  {domain.RoleContractor, domain.RoleOps},
	{domain.TicketStatusInProgress, domain.TicketStatusCompleted}: {domain.RoleContractor, domain.RoleOps},
	{domain.TicketStatusCompleted, domain.TicketStatusAudited}:    {domain.RoleOps},
	{domain.TicketStatusOpen, domain.TicketStatusCancelled}:       {domain.RoleTenant, domain.RoleLandlord, domain.RoleOps},
	{domain.TicketStatusTriaged, domain.TicketStatusCancelled}:    {domain.RoleLandlord, domain.RoleOps},
	{domain.TicketStatusQuoted, domain.TicketStatusCancelled}:     {domain.RoleLandlord, domain.RoleOps},
	{domain.TicketStatusApproved, domain.TicketStatusCancelled}:   {domain.RoleLandlord, domain.RoleOps},
}

// IsAllowed reports whether from -> to is a legal edge, regardless of role.
func IsAllowed(from, to domain.TicketStatus) bool {
	_, ok := allowedTransitions[edge{from, to}]
	return ok
}

// CanPerform reports whether role may move a ticket along from -> to.
func CanPerform(role domain.Role, from, to domain.TicketStatus) bool {
	for _, allowed := range allowedTransitions[edge{from, to}] {
		if allowed == role {
			return true
		}
	}
	return false
}

// Outcome describes the effect of a transition on a ticket.
type Outcome struct {
	Changed    bool
	FromStatus domain.TicketStatus
	Event      *domain.TimelineEvent
}

// Transition applies target to ticket in place. Requesting the current status
// is a no-op success with no timeline event, so retried requests are safe.
func Transition(ticket *domain.Ticket, target domain.TicketStatus, actor domain.Actor, note string, now time.Time) (Outcome, error) {
	from := ticket.Status
	if from == target {
		return Outcome{FromStatus: from}, nil
	}
	if !IsAllowed(from, target) {
		return Outcome{FromStatus: from}, apperrors.NewInvalidTransition(string(from), string(target))
	}
	if !CanPerform(actor.Role, from, target) {
		return Outcome{FromStatus: from}, apperrors.NewForbidden(
			fmt.Sprintf("role %s cannot move ticket from %s to %s", actor.Role, from, target))
	}

	ticket.Status = target
	ticket.UpdatedAt = now
	if target.IsTerminal() {
		stamp := now
		ticket.TerminalAt = &stamp
	}

	description := note
	if description == "" {
		description = fmt.Sprintf("Status changed from %s to %s", from, target)
	}
	fromStatus, toStatus := from, target
	event := &domain.TimelineEvent{
		ID:          uuid.NewString(),
		TicketID:    ticket.ID,
		Type:        domain.TimelineStatusChanged,
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		Description: description,
		FromStatus:  &fromStatus,
		ToStatus:    &toStatus,
		CreatedAt:   now,
	}
	return Outcome{Changed: true, FromStatus: from, Event: event}, nil
}

// CloseTarget returns the terminal status a bulk close moves a ticket to.
// Only QUOTED, APPROVED and IN_PROGRESS tickets are closable.
func CloseTarget(status domain.TicketStatus) (domain.TicketStatus, bool) {
	switch status {
	case domain.TicketStatusQuoted, domain.TicketStatusApproved:
		return domain.TicketStatusCancelled, true
	case domain.TicketStatusInProgress:
		return domain.TicketStatusCompleted, true
	}
	return "", false
}
