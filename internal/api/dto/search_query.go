package dto

import (
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/property-service/internal/domain"
	"github.com/spec-kit/property-service/internal/repository"
	"github.com/spec-kit/property-service/internal/service"
)

const (
	minQueryLength  = 2
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps (page-1)*page_size far from int overflow.
	maxPage = 100000
)

// SearchQuery holds the raw query string of GET /tickets.
type SearchQuery struct {
	Q            string `query:"q"`
	Status       string `query:"status"`
	Priority     string `query:"priority"`
	Category     string `query:"category"`
	PropertyID   string `query:"property_id"`
	ContractorID string `query:"contractor_id"`
	DateFrom     string `query:"date_from"`
	DateTo       string `query:"date_to"`
	SortBy       string `query:"sort_by"`
	SortDir      string `query:"sort_dir"`
	Page         string `query:"page"`
	PageSize     string `query:"page_size"`
}

var sortFields = map[string]repository.SortField{
	"created_at": repository.SortCreatedAt,
	"updated_at": repository.SortUpdatedAt,
	"priority":   repository.SortPriority,
	"status":     repository.SortStatus,
	"title":      repository.SortTitle,
}

// Validate checks the query and returns the parsed search input.
func (q *SearchQuery) Validate() (service.TicketSearchInput, FieldErrors) {
	errs := FieldErrors{}
	input := service.TicketSearchInput{
		Query:    strings.TrimSpace(q.Q),
		SortBy:   repository.SortUpdatedAt,
		Page:     1,
		PageSize: defaultPageSize,
	}

	if input.Query != "" && len([]rune(input.Query)) < minQueryLength {
		errs.Add("q", "must be at least 2 characters")
	}
	if q.Status != "" {
		if status, ok := domain.ParseTicketStatus(q.Status); ok {
			input.Status = &status
		} else {
			errs.Add("status", "is not a known status")
		}
	}
	if q.Priority != "" {
		if priority, ok := domain.ParseTicketPriority(q.Priority); ok {
			input.Priority = &priority
		} else {
			errs.Add("priority", "is not a known priority")
		}
	}
	input.Category = optional(q.Category)
	input.PropertyID = optional(q.PropertyID)
	input.ContractorID = optional(q.ContractorID)

	from, fromErr := parseDate(q.DateFrom, false)
	if fromErr != nil {
		errs.Add("date_from", "must be YYYY-MM-DD or RFC3339")
	}
	to, toErr := parseDate(q.DateTo, true)
	if toErr != nil {
		errs.Add("date_to", "must be YYYY-MM-DD or RFC3339")
	}
	if from != nil && to != nil && from.After(*to) {
		errs.Add("date_from", "must not be after date_to")
	}
	input.DateFrom, input.DateTo = from, to

	if q.SortBy != "" {
		field, ok := sortFields[q.SortBy]
		if !ok {
			errs.Add("sort_by", "must be one of created_at, updated_at, priority, status, title")
		}
		input.SortBy = field
	}
	switch strings.ToLower(q.SortDir) {
	case "", "desc":
		input.Descending = true
	case "asc":
	default:
		errs.Add("sort_dir", "must be asc or desc")
	}

	if q.Page != "" {
		page, err := strconv.Atoi(q.Page)
		if err != nil || page < 1 || page > maxPage {
			errs.Add("page", "must be between 1 and 100000")
		}
		input.Page = page
	}
	if q.PageSize != "" {
		size, err := strconv.Atoi(q.PageSize)
		if err != nil || size < 1 || size > maxPageSize {
			errs.Add("page_size", "must be between 1 and 100")
		}
		input.PageSize = size
	}
	return input, errs
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// parseDate accepts a calendar date or an RFC3339 timestamp. A bare date used
// as an upper bound covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
