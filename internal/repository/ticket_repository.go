package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/revision-checker/internal/models"
)

// TicketRepository persists tracker tickets that bind users to assignments.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository constructs the repository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// CreateIfNotExists inserts the ticket unless its id is already known and
// reports whether a row was written.
func (r *TicketRepository) CreateIfNotExists(ctx context.Context, ticket *models.Ticket) (bool, error) {
	const query = `INSERT INTO tickets (id, course, username, assignment_id)
VALUES (:id, :course, :username, :assignment_id)
ON CONFLICT (id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, ticket)
	if err != nil {
		return false, fmt.Errorf("create ticket %d: %w", ticket.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create ticket %d: %w", ticket.ID, err)
	}
	return affected > 0, nil
}
