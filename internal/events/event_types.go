package events

import (
	"strings"
	"time"

	"github.com/spec-kit/property-service/internal/domain"
)

// EventType enumerates supported event identifiers. Consumers match on the
// dotted prefix ("ticket.", "job.") to decide what to refresh.
type EventType string

const (
	EventTicketCreated         EventType = "ticket.created"
	EventTicketStatusChanged   EventType = "ticket.status_changed"
	EventTicketAssigned        EventType = "ticket.assigned"
	EventTicketCategoryChanged EventType = "ticket.category_changed"
	EventTicketTagsChanged     EventType = "ticket.tags_changed"
	EventJobEnqueued           EventType = "job.enqueued"
)

// HasPrefix reports whether the event type belongs to the given family.
func (t EventType) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(t), prefix)
}

// ResourceRef points at an entity affected by an event.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event represents a domain event emitted by services. Only the exported JSON
// fields go over the wire; Payload stays in process for local listeners.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Resources []ResourceRef `json:"resources"`
	ActorID   string        `json:"-"`
	ActorRole domain.Role   `json:"actorRole"`
	Version   int64         `json:"version"`
	At        time.Time     `json:"at"`
	Payload   interface{}   `json:"-"`
	Scope     Scope         `json:"-"`
}

// Scope names the non-manager actors allowed to see an event. An empty scope
// limits the event to managers.
type Scope struct {
	CreatedBy     string
	ContractorIDs []string
}

// TicketScope scopes an event to the ticket's requester and current
// contractor, plus any extra contractors such as a previous assignee.
func TicketScope(ticket *domain.Ticket, contractors ...string) Scope {
	scope := Scope{CreatedBy: ticket.CreatedBy}
	ids := append([]string{}, contractors...)
	if ticket.ContractorID != nil {
		ids = append(ids, *ticket.ContractorID)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		scope.ContractorIDs = append(scope.ContractorIDs, id)
	}
	return scope
}

// VisibleTo applies ticket visibility to events: ops see everything,
// landlords see ticket events, tenants and contractors only events scoped to
// them. Job events are ops only.
func (e Event) VisibleTo(actor domain.Actor) bool {
	if actor.Role == domain.RoleOps {
		return true
	}
	if !e.Type.HasPrefix("ticket.") {
		return false
	}
	switch actor.Role {
	case domain.RoleLandlord:
		return true
	case domain.RoleTenant:
		return e.Scope.CreatedBy != "" && e.Scope.CreatedBy == actor.ID
	case domain.RoleContractor:
		for _, id := range e.Scope.ContractorIDs {
			if id == actor.ID {
				return true
			}
		}
	}
	return false
}

// TicketRef builds the resource reference for a ticket.
func TicketRef(id string) ResourceRef {
	return ResourceRef{Type: "ticket", ID: id}
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Note      string              `json:"note,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldContractorID *string `json:"old_contractor_id,omitempty"`
	ContractorID    string  `json:"contractor_id"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	PropertyID string                `json:"property_id"`
	Priority   domain.TicketPriority `json:"priority"`
	Title      string                `json:"title"`
}
