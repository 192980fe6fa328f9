package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/revision-checker/internal/models"
)

// ErrStateConflict is returned when a conditional state update finds the
// revision in a different state than expected.
var ErrStateConflict = errors.New("revision state changed concurrently")

// ErrInvalidTransition is returned for state changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("revision state transition not allowed")

// supersedableStates lists the states selection may move to obsolete.
var supersedableStates = models.StatesLeadingTo(models.RevisionStateObsolete)

// RevisionRepository persists revisions and their check lifecycle.
type RevisionRepository struct {
	db *sqlx.DB
}

// NewRevisionRepository constructs the repository.
func NewRevisionRepository(db *sqlx.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// GetLastSyncedRevision returns the highest known revision number, 0 when empty.
func (r *RevisionRepository) GetLastSyncedRevision(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(id), 0) FROM revisions`
	var id int64
	if err := r.db.GetContext(ctx, &id, query); err != nil {
		return 0, fmt.Errorf("get last synced revision: %w", err)
	}
	return id, nil
}

// AddRevision inserts a new revision in state new. Re-adding a known id is a no-op.
func (r *RevisionRepository) AddRevision(ctx context.Context, rev *models.Revision) error {
	if rev.State == "" {
		rev.State = models.RevisionStateNew
	}
	const query = `INSERT INTO revisions (id, username, assignment_id, solution_id, message, state)
VALUES (:id, :username, :assignment_id, :solution_id, :message, :state)
ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, rev); err != nil {
		return fmt.Errorf("add revision %d: %w", rev.ID, err)
	}
	return nil
}

// GetByID loads the full revision row.
func (r *RevisionRepository) GetByID(ctx context.Context, id int64) (*models.Revision, error) {
	const query = `SELECT id, username, assignment_id, solution_id, message, state, check_result, created_at, updated_at
FROM revisions WHERE id = $1`
	var rev models.Revision
	if err := r.db.GetContext(ctx, &rev, query, id); err != nil {
		return nil, fmt.Errorf("get revision %d: %w", id, err)
	}
	return &rev, nil
}

// ResetCheckingState demotes every revision left in checking by an interrupted
// run to failed and returns how many were reset.
func (r *RevisionRepository) ResetCheckingState(ctx context.Context) (int64, error) {
	const query = `UPDATE revisions SET state = 'failed', updated_at = NOW() WHERE state = 'checking'`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reset checking revisions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset checking revisions: %w", err)
	}
	return affected, nil
}

// ResetAssignmentCheckingState demotes revisions of one assignment left in
// checking to failed. Other assignments' in-flight checks are untouched.
func (r *RevisionRepository) ResetAssignmentCheckingState(ctx context.Context, assignmentID int64) (int64, error) {
	const query = `UPDATE revisions SET state = 'failed', updated_at = NOW() WHERE state = 'checking' AND assignment_id = $1`
	res, err := r.db.ExecContext(ctx, query, assignmentID)
	if err != nil {
		return 0, fmt.Errorf("reset checking revisions of assignment %d: %w", assignmentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset checking revisions of assignment %d: %w", assignmentID, err)
	}
	return affected, nil
}

// GetState returns the current state of a revision.
func (r *RevisionRepository) GetState(ctx context.Context, id int64) (models.RevisionState, error) {
	const query = `SELECT state FROM revisions WHERE id = $1`
	var state models.RevisionState
	if err := r.db.GetContext(ctx, &state, query, id); err != nil {
		return "", fmt.Errorf("get revision %d state: %w", id, err)
	}
	return state, nil
}

// TransitionState moves a revision from one state to another only if it is
// still in from.
func (r *RevisionRepository) TransitionState(ctx context.Context, id int64, from, to models.RevisionState) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("revision %d %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	const query = `UPDATE revisions SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("transition revision %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition revision %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("transition revision %d from %s: %w", id, from, ErrStateConflict)
	}
	return nil
}

// GetCheckResult returns the stored check result, nil if the revision was never checked.
func (r *RevisionRepository) GetCheckResult(ctx context.Context, id int64) (*models.CheckResult, error) {
	const query = `SELECT check_result FROM revisions WHERE id = $1`
	var result *models.CheckResult
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&result); err != nil {
		return nil, fmt.Errorf("get revision %d check result: %w", id, err)
	}
	return result, nil
}

// SetCheckResult overwrites the stored check result.
func (r *RevisionRepository) SetCheckResult(ctx context.Context, id int64, result models.CheckResult) error {
	const query = `UPDATE revisions SET check_result = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, result, id)
	if err != nil {
		return fmt.Errorf("set revision %d check result: %w", id, err)
	}
	return expectOneRow(res, fmt.Sprintf("set revision %d check result", id))
}

// GetUser returns the owner of a revision.
func (r *RevisionRepository) GetUser(ctx context.Context, id int64) (string, error) {
	const query = `SELECT username FROM revisions WHERE id = $1`
	var user string
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return "", fmt.Errorf("get revision %d user: %w", id, err)
	}
	return user, nil
}

// GetData returns the owner and the solution snapshot of a revision.
func (r *RevisionRepository) GetData(ctx context.Context, id int64) (string, []byte, error) {
	const query = `SELECT r.username, b.blob FROM revisions r JOIN blobs b ON b.id = r.solution_id WHERE r.id = $1`
	var row struct {
		User     string `db:"username"`
		Solution []byte `db:"blob"`
	}
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return "", nil, fmt.Errorf("get revision %d data: %w", id, err)
	}
	return row.User, row.Solution, nil
}

// ListAssignmentRevisions returns the revisions of an assignment that belong to
// a ticket holder, newest first.
func (r *RevisionRepository) ListAssignmentRevisions(ctx context.Context, assignmentID int64) ([]models.RevisionCandidate, error) {
	const query = `SELECT DISTINCT ON (r.id) r.id, r.username, r.state, t.id AS ticket_id
FROM revisions r JOIN tickets t ON t.username = r.username AND t.assignment_id = r.assignment_id
WHERE r.assignment_id = $1 ORDER BY r.id DESC, t.id ASC`
	var candidates []models.RevisionCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list assignment %d revisions: %w", assignmentID, err)
	}
	return candidates, nil
}

// MarkObsolete moves the given revisions to obsolete unless they already left
// the supersedable states.
func (r *RevisionRepository) MarkObsolete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `UPDATE revisions SET state = 'obsolete', updated_at = NOW() WHERE id = ANY($1) AND state = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, pq.Array(ids), pq.Array(stateNames(supersedableStates)))
	if err != nil {
		return 0, fmt.Errorf("mark revisions obsolete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark revisions obsolete: %w", err)
	}
	return affected, nil
}

// GetReportableSolutions lists checked revisions of an assignment with their tickets.
func (r *RevisionRepository) GetReportableSolutions(ctx context.Context, assignmentID int64) ([]models.ReportableRevision, error) {
	const query = `SELECT DISTINCT ON (r.id) r.id, t.id AS ticket_id
FROM revisions r JOIN tickets t ON t.username = r.username AND t.assignment_id = r.assignment_id
WHERE r.assignment_id = $1 AND r.state = 'checked' ORDER BY r.id ASC, t.id ASC`
	var rows []models.ReportableRevision
	if err := r.db.SelectContext(ctx, &rows, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list reportable revisions of assignment %d: %w", assignmentID, err)
	}
	return rows, nil
}

func stateNames(states []models.RevisionState) []string {
	names := make([]string, 0, len(states))
	for _, state := range states {
		names = append(names, string(state))
	}
	return names
}

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
