package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/property-service/internal/domain"
)

// ErrVersionConflict is returned when a ticket changed between read and write.
var ErrVersionConflict = errors.New("ticket version conflict")

// SortField enumerates sortable ticket columns.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortPriority  SortField = "priority"
	SortStatus    SortField = "status"
	SortTitle     SortField = "title"
)

// TicketFilter captures search parameters.
type TicketFilter struct {
	Query        string
	CreatedBy    *string
	PropertyID   *string
	ContractorID *string
	Category     *string
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	SortBy       SortField
	Descending   bool
	Limit        int
	Offset       int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket, events ...domain.TimelineEvent) error
	// Update writes ticket if its stored version still equals expectedVersion,
	// bumping the version and appending events in the same transaction.
	Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events ...domain.TimelineEvent) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Search(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, property_id, tenancy_id, contractor_id, title, description, category, priority,
               status, tags, created_by, created_by_role, version, created_at, updated_at, terminal_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, events ...domain.TimelineEvent) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO tickets (id, property_id, tenancy_id, contractor_id, title, description, category, priority,
            status, tags, created_by, created_by_role, version, created_at, updated_at, terminal_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
		if _, err := tx.Exec(ctx, query,
			ticket.ID,
			ticket.PropertyID,
			ticket.TenancyID,
			ticket.ContractorID,
			ticket.Title,
			ticket.Description,
			ticket.Category,
			ticket.Priority,
			ticket.Status,
			ticket.Tags,
			ticket.CreatedBy,
			ticket.CreatedByRole,
			ticket.Version,
			ticket.CreatedAt,
			ticket.UpdatedAt,
			ticket.TerminalAt,
		); err != nil {
			return err
		}
		return insertTimeline(ctx, tx, events)
	})
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, expectedVersion int64, events ...domain.TimelineEvent) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE tickets SET contractor_id=$1, title=$2, description=$3, category=$4, priority=$5,
            status=$6, tags=$7, terminal_at=$8, updated_at=$9, version=version+1
        WHERE id=$10 AND version=$11
        RETURNING version`
		err := tx.QueryRow(ctx, query,
			ticket.ContractorID,
			ticket.Title,
			ticket.Description,
			ticket.Category,
			ticket.Priority,
			ticket.Status,
			ticket.Tags,
			ticket.TerminalAt,
			ticket.UpdatedAt,
			ticket.ID,
			expectedVersion,
		).Scan(&ticket.Version)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrStale(ctx, tx, ticket.ID)
		}
		if err != nil {
			return err
		}
		return insertTimeline(ctx, tx, events)
	})
}

func (r *ticketRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}
	return ErrVersionConflict
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) Search(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.PropertyID != nil {
		args = append(args, *filter.PropertyID)
		clauses = append(clauses, fmt.Sprintf("property_id=$%d", len(args)))
	}
	if filter.ContractorID != nil {
		args = append(args, *filter.ContractorID)
		clauses = append(clauses, fmt.Sprintf("contractor_id=$%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s, id LIMIT %d OFFSET %d`,
		ticketColumns, where, orderClause(filter.SortBy, filter.Descending), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *ticket)
	}
	return result, total, rows.Err()
}

func orderClause(field SortField, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch field {
	case SortCreatedAt, SortStatus, SortTitle:
		return string(field) + " " + dir
	case SortPriority:
		return `CASE priority WHEN 'LOW' THEN 1 WHEN 'STANDARD' THEN 2 WHEN 'MEDIUM' THEN 3
                WHEN 'HIGH' THEN 4 WHEN 'URGENT' THEN 5 ELSE 0 END ` + dir
	default:
		return "updated_at " + dir
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.PropertyID,
		&ticket.TenancyID,
		&ticket.ContractorID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.Tags,
		&ticket.CreatedBy,
		&ticket.CreatedByRole,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.TerminalAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
