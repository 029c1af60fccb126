package dto

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/property-service/internal/domain"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxCategoryLength    = 64
	maxTagLength         = 32
	maxTagsPerTicket     = 20
	maxNoteLength        = 1000
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	PropertyID  string   `json:"propertyId"`
	TenancyID   *string  `json:"tenancyId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

// UnmarshalJSON accepts snake_case spellings from older clients.
func (r *CreateTicketRequest) UnmarshalJSON(data []byte) error {
	type plain CreateTicketRequest
	var aux struct {
		plain
		PropertyIDSnake string  `json:"property_id"`
		TenancyIDSnake  *string `json:"tenancy_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = CreateTicketRequest(aux.plain)
	if r.PropertyID == "" {
		r.PropertyID = aux.PropertyIDSnake
	}
	if r.TenancyID == nil {
		r.TenancyID = aux.TenancyIDSnake
	}
	return nil
}

// Validate checks the payload.
func (r *CreateTicketRequest) Validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(r.PropertyID) == "" {
		errs.Add("propertyId", "is required")
	}
	checkLength(errs, "title", strings.TrimSpace(r.Title), 3, maxTitleLength)
	checkLength(errs, "description", strings.TrimSpace(r.Description), 1, maxDescriptionLength)
	checkLength(errs, "category", strings.TrimSpace(r.Category), 1, maxCategoryLength)
	if r.Priority != "" {
		if _, ok := domain.ParseTicketPriority(r.Priority); !ok {
			errs.Add("priority", "is not a known priority")
		}
	}
	if len(r.Tags) > maxTagsPerTicket {
		errs.Add("tags", "must contain at most "+itoa(maxTagsPerTicket)+" tags")
	}
	validateTags(errs, "tags", r.Tags)
	return errs
}

// NormalizedPriority returns the canonical priority, empty when unset.
func (r *CreateTicketRequest) NormalizedPriority() domain.TicketPriority {
	p, _ := domain.ParseTicketPriority(r.Priority)
	return p
}

// TransitionRequest moves one ticket to a new status.
type TransitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// Validate checks the payload.
func (r *TransitionRequest) Validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(r.Status) == "" {
		errs.Add("status", "is required")
	} else if _, ok := domain.ParseTicketStatus(r.Status); !ok {
		errs.Add("status", "is not a known status")
	}
	checkLength(errs, "note", r.Note, 0, maxNoteLength)
	return errs
}

// Target returns the canonical status requested.
func (r *TransitionRequest) Target() domain.TicketStatus {
	status, _ := domain.ParseTicketStatus(r.Status)
	return status
}

// TicketResponse is the wire form of a ticket.
type TicketResponse struct {
	ID           string                `json:"id"`
	PropertyID   string                `json:"propertyId"`
	TenancyID    *string               `json:"tenancyId"`
	ContractorID *string               `json:"contractorId"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Category     string                `json:"category"`
	Priority     domain.TicketPriority `json:"priority"`
	Status       domain.TicketStatus   `json:"status"`
	Tags         []string              `json:"tags"`
	CreatedBy    string                `json:"createdBy"`
	Version      int64                 `json:"version"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
	TerminalAt   *time.Time            `json:"terminalAt"`
}

// TimelineEventResponse is one timeline entry.
type TimelineEventResponse struct {
	ID          string                   `json:"id"`
	Type        domain.TimelineEventType `json:"type"`
	ActorID     string                   `json:"actorId"`
	ActorRole   domain.Role              `json:"actorRole"`
	Description string                   `json:"description"`
	FromStatus  *domain.TicketStatus     `json:"fromStatus,omitempty"`
	ToStatus    *domain.TicketStatus     `json:"toStatus,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
}

// TicketDetailResponse is a ticket with its timeline.
type TicketDetailResponse struct {
	TicketResponse
	Timeline []TimelineEventResponse `json:"timeline"`
}

// TicketListResponse is one page of search results.
type TicketListResponse struct {
	Data     []TicketResponse `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TicketResponse{
		ID:           t.ID,
		PropertyID:   t.PropertyID,
		TenancyID:    t.TenancyID,
		ContractorID: t.ContractorID,
		Title:        t.Title,
		Description:  t.Description,
		Category:     t.Category,
		Priority:     t.Priority,
		Status:       t.Status,
		Tags:         tags,
		CreatedBy:    t.CreatedBy,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		TerminalAt:   t.TerminalAt,
	}
}

// NewTicketDetailResponse maps a ticket and its timeline.
func NewTicketDetailResponse(t *domain.Ticket, timeline []domain.TimelineEvent) TicketDetailResponse {
	items := make([]TimelineEventResponse, 0, len(timeline))
	for _, ev := range timeline {
		items = append(items, TimelineEventResponse{
			ID:          ev.ID,
			Type:        ev.Type,
			ActorID:     ev.ActorID,
			ActorRole:   ev.ActorRole,
			Description: ev.Description,
			FromStatus:  ev.FromStatus,
			ToStatus:    ev.ToStatus,
			CreatedAt:   ev.CreatedAt,
		})
	}
	return TicketDetailResponse{TicketResponse: NewTicketResponse(t), Timeline: items}
}

func validateTags(errs FieldErrors, field string, tags []string) {
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || len([]rune(tag)) > maxTagLength {
			errs.Add(field, "tags must be 1 to "+itoa(maxTagLength)+" characters")
			return
		}
		if _, dup := seen[tag]; dup {
			errs.Add(field, "tags must be unique")
			return
		}
		seen[tag] = struct{}{}
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
