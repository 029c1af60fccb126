package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/property-service/internal/domain"
)

// MemoryStore keeps tickets and their timeline in process. It backs the
// service when no database is configured and is used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tickets  map[string]*domain.Ticket
	timeline map[string][]domain.TimelineEvent
}

var (
	_ TicketRepository   = (*MemoryStore)(nil)
	_ TimelineRepository = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]*domain.Ticket),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

func (m *MemoryStore) Create(_ context.Context, ticket *domain.Ticket, events ...domain.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tickets[ticket.ID]; exists {
		return ErrVersionConflict
	}
	m.tickets[ticket.ID] = ticket.Clone()
	m.timeline[ticket.ID] = append(m.timeline[ticket.ID], events...)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, ticket *domain.Ticket, expectedVersion int64, events ...domain.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	ticket.Version = expectedVersion + 1
	m.tickets[ticket.ID] = ticket.Clone()
	m.timeline[ticket.ID] = append(m.timeline[ticket.ID], events...)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ticket, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ticket.Clone(), nil
}

func (m *MemoryStore) ListByTicket(_ context.Context, ticketID string) ([]domain.TimelineEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TimelineEvent(nil), m.timeline[ticketID]...), nil
}

func (m *MemoryStore) Search(_ context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	m.mu.RLock()
	matched := make([]domain.Ticket, 0, len(m.tickets))
	for _, ticket := range m.tickets {
		if matchesFilter(ticket, filter) {
			matched = append(matched, *ticket.Clone())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		cmp := compareTickets(&a, &b, filter.SortBy)
		if cmp == 0 {
			return a.ID < b.ID
		}
		if filter.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	total := len(matched)
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= total {
		return []domain.Ticket{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matchesFilter(ticket *domain.Ticket, filter TicketFilter) bool {
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		if !strings.Contains(strings.ToLower(ticket.Title), q) && !strings.Contains(strings.ToLower(ticket.Description), q) {
			return false
		}
	}
	if filter.CreatedBy != nil && ticket.CreatedBy != *filter.CreatedBy {
		return false
	}
	if filter.PropertyID != nil && ticket.PropertyID != *filter.PropertyID {
		return false
	}
	if filter.ContractorID != nil && (ticket.ContractorID == nil || *ticket.ContractorID != *filter.ContractorID) {
		return false
	}
	if filter.Category != nil && ticket.Category != *filter.Category {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, ticket.Priority) {
		return false
	}
	if filter.CreatedFrom != nil && ticket.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedTo != nil && ticket.CreatedAt.After(*filter.CreatedTo) {
		return false
	}
	return true
}

func compareTickets(a, b *domain.Ticket, field SortField) int {
	switch field {
	case SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortTitle:
		return strings.Compare(a.Title, b.Title)
	case SortStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case SortPriority:
		return priorityRank(a.Priority) - priorityRank(b.Priority)
	default:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
}

func priorityRank(p domain.TicketPriority) int {
	for i, candidate := range domain.TicketPriorities {
		if candidate == p {
			return i + 1
		}
	}
	return 0
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, p domain.TicketPriority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
