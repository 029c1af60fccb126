package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for maintenance tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusTriaged    TicketStatus = "TRIAGED"
	TicketStatusQuoted     TicketStatus = "QUOTED"
	TicketStatusApproved   TicketStatus = "APPROVED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusCompleted  TicketStatus = "COMPLETED"
	TicketStatusAudited    TicketStatus = "AUDITED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// TicketStatuses lists the canonical statuses in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusTriaged,
	TicketStatusQuoted,
	TicketStatusApproved,
	TicketStatusInProgress,
	TicketStatusCompleted,
	TicketStatusAudited,
	TicketStatusCancelled,
}

// legacyStatusAliases maps statuses still sent by older clients and queue
// payloads onto the canonical set.
var legacyStatusAliases = map[string]TicketStatus{
	"ASSIGNED":       TicketStatusTriaged,
	"NEEDS_APPROVAL": TicketStatusQuoted,
	"SCHEDULED":      TicketStatusApproved,
	"REJECTED":       TicketStatusCancelled,
}

// ParseTicketStatus normalizes a raw status, resolving legacy aliases.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	val := strings.ToUpper(strings.TrimSpace(raw))
	for _, status := range TicketStatuses {
		if string(status) == val {
			return status, true
		}
	}
	if alias, ok := legacyStatusAliases[val]; ok {
		return alias, true
	}
	return "", false
}

// IsTerminal reports whether no further work happens on a ticket in this status.
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusCompleted, TicketStatusAudited, TicketStatusCancelled:
		return true
	}
	return false
}

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityStandard TicketPriority = "STANDARD"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityUrgent   TicketPriority = "URGENT"
)

var TicketPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityStandard,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityUrgent,
}

var legacyPriorityAliases = map[string]TicketPriority{
	"NORMAL":    TicketPriorityStandard,
	"EMERGENCY": TicketPriorityUrgent,
}

// ParseTicketPriority normalizes a raw priority, resolving legacy aliases.
func ParseTicketPriority(raw string) (TicketPriority, bool) {
	val := strings.ToUpper(strings.TrimSpace(raw))
	for _, p := range TicketPriorities {
		if string(p) == val {
			return p, true
		}
	}
	if alias, ok := legacyPriorityAliases[val]; ok {
		return alias, true
	}
	return "", false
}

// Ticket is a maintenance request raised against a property.
type Ticket struct {
	ID            string
	PropertyID    string
	TenancyID     *string
	ContractorID  *string
	Title         string
	Description   string
	Category      string
	Priority      TicketPriority
	Status        TicketStatus
	Tags          []string
	CreatedBy     string
	CreatedByRole Role
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TerminalAt    *time.Time
}

// HasTag reports whether tag is already on the ticket.
func (t *Ticket) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	if t.TenancyID != nil {
		v := *t.TenancyID
		cp.TenancyID = &v
	}
	if t.ContractorID != nil {
		v := *t.ContractorID
		cp.ContractorID = &v
	}
	if t.TerminalAt != nil {
		v := *t.TerminalAt
		cp.TerminalAt = &v
	}
	return &cp
}
