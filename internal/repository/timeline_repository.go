package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/property-service/internal/domain"
)

// TimelineRepository reads the append-only ticket timeline. Writes happen
// through TicketRepository so they share the ticket's transaction.
type TimelineRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TimelineEvent, error)
}

type timelineRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineRepository builds repository.
func NewTimelineRepository(pool *pgxpool.Pool) TimelineRepository {
	return &timelineRepository{pool: pool}
}

func insertTimeline(ctx context.Context, tx pgx.Tx, events []domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	const query = `
        INSERT INTO ticket_timeline (id, ticket_id, event_type, actor_id, actor_role, description, from_status, to_status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.TicketID,
			event.Type,
			event.ActorID,
			event.ActorRole,
			event.Description,
			event.FromStatus,
			event.ToStatus,
			event.CreatedAt,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *timelineRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TimelineEvent, error) {
	const query = `
        SELECT id, ticket_id, event_type, actor_id, actor_role, description, from_status, to_status, created_at
        FROM ticket_timeline WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.Type,
			&event.ActorID,
			&event.ActorRole,
			&event.Description,
			&event.FromStatus,
			&event.ToStatus,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
