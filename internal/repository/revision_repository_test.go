package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-checker/internal/models"
)

func newRevisionMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRevisionRepositoryGetLastSyncedRevision(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(id), 0) FROM revisions")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))

	id, err := repo.GetLastSyncedRevision(context.Background())
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryAddRevisionDefaultsToNew(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectExec("INSERT INTO revisions .* ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs(int64(12), "alice", int64(3), "deadbeef", nil, models.RevisionStateNew).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rev := &models.Revision{ID: 12, User: "alice", AssignmentID: 3, SolutionID: "deadbeef"}
	require.NoError(t, repo.AddRevision(context.Background(), rev))
	assert.Equal(t, models.RevisionStateNew, rev.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryResetCheckingState(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE revisions SET state = 'failed', updated_at = NOW() WHERE state = 'checking'")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	reset, err := repo.ResetCheckingState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryGetState(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM revisions WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("failed"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM revisions WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnError(sql.ErrNoRows)

	state, err := repo.GetState(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.RevisionStateFailed, state)

	_, err = repo.GetState(context.Background(), 6)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryResetAssignmentCheckingState(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE revisions SET state = 'failed', updated_at = NOW() WHERE state = 'checking' AND assignment_id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reset, err := repo.ResetAssignmentCheckingState(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryTransitionStateConflict(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	query := regexp.QuoteMeta("UPDATE revisions SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3")
	mock.ExpectExec(query).
		WithArgs(models.RevisionStateReported, int64(4), models.RevisionStateChecked).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs(models.RevisionStateReported, int64(4), models.RevisionStateChecked).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.TransitionState(context.Background(), 4, models.RevisionStateChecked, models.RevisionStateReported))
	err := repo.TransitionState(context.Background(), 4, models.RevisionStateChecked, models.RevisionStateReported)
	assert.True(t, errors.Is(err, ErrStateConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryTransitionStateRejectsForbiddenChange(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	err := repo.TransitionState(context.Background(), 4, models.RevisionStateReported, models.RevisionStateObsolete)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	err = repo.TransitionState(context.Background(), 4, models.RevisionStateNew, models.RevisionStateChecked)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryCheckResult(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	query := regexp.QuoteMeta("SELECT check_result FROM revisions WHERE id = $1")
	mock.ExpectQuery(query).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"check_result"}).AddRow(nil))
	mock.ExpectQuery(query).WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"check_result"}).
			AddRow([]byte(`{"common_header_contents": null, "smoke_tests": {"exit_code": 0, "tests": []}, "tests": {"exit_code": 1, "tests": [["t1.cpp", [["run", 1, null, null]], null]]}}`)))

	result, err := repo.GetCheckResult(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = repo.GetCheckResult(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Tests.Tests, 1)
	assert.Equal(t, "t1.cpp", result.Tests.Tests[0].FileName)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE revisions SET check_result = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs(sqlmock.AnyArg(), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetCheckResult(context.Background(), 2, *result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryGetData(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.username, b.blob FROM revisions r JOIN blobs b ON b.id = r.solution_id WHERE r.id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"username", "blob"}).AddRow("bob", []byte("int main() {}")))

	user, solution, err := repo.GetData(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
	assert.Equal(t, []byte("int main() {}"), solution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT id, username, assignment_id, solution_id, message, state, check_result, created_at, updated_at").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "assignment_id", "solution_id", "message", "state", "check_result", "created_at", "updated_at"}).
			AddRow(int64(8), "carol", int64(1), "abc", "fix tests", "checked", nil, now, now))

	rev, err := repo.GetByID(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "carol", rev.User)
	assert.Equal(t, models.RevisionStateChecked, rev.State)
	require.NotNil(t, rev.Message)
	assert.Equal(t, "fix tests", *rev.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryListAssignmentRevisions(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectQuery("SELECT DISTINCT ON \\(r.id\\) r.id, r.username, r.state, t.id AS ticket_id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "state", "ticket_id"}).
			AddRow(int64(3), "u2", "new", int64(20)).
			AddRow(int64(2), "u1", "failed", int64(10)).
			AddRow(int64(1), "u1", "new", int64(10)))

	candidates, err := repo.ListAssignmentRevisions(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, int64(3), candidates[0].ID)
	assert.Equal(t, "u1", candidates[1].User)
	assert.Equal(t, models.RevisionStateFailed, candidates[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryMarkObsolete(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	affected, err := repo.MarkObsolete(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, affected)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE revisions SET state = 'obsolete', updated_at = NOW() WHERE id = ANY($1) AND state = ANY($2)")).
		WithArgs(pq.Array([]int64{1}), pq.Array([]string{"new", "checked", "failed"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err = repo.MarkObsolete(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisionRepositoryGetReportableSolutions(t *testing.T) {
	db, mock, cleanup := newRevisionMock(t)
	defer cleanup()
	repo := NewRevisionRepository(db)

	mock.ExpectQuery("WHERE r.assignment_id = \\$1 AND r.state = 'checked'").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ticket_id"}).AddRow(int64(4), int64(40)))

	rows, err := repo.GetReportableSolutions(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []models.ReportableRevision{{RevisionID: 4, TicketID: 40}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
