package domain

import "time"

// TimelineEventType captures what happened in a timeline entry.
type TimelineEventType string

const (
	TimelineCreated         TimelineEventType = "CREATED"
	TimelineStatusChanged   TimelineEventType = "STATUS_CHANGED"
	TimelineAssigned        TimelineEventType = "ASSIGNED"
	TimelineReassigned      TimelineEventType = "REASSIGNED"
	TimelineCategoryChanged TimelineEventType = "CATEGORY_CHANGED"
	TimelineTagsChanged     TimelineEventType = "TAGS_CHANGED"
)

// TimelineEvent is an immutable record of a change on a ticket.
type TimelineEvent struct {
	ID          string
	TicketID    string
	Type        TimelineEventType
	ActorID     string
	ActorRole   Role
	Description string
	FromStatus  *TicketStatus
	ToStatus    *TicketStatus
	CreatedAt   time.Time
}
