package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/revision-checker/internal/dto"
	"github.com/noah-isme/revision-checker/internal/models"
	"github.com/noah-isme/revision-checker/internal/repository"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

type revisionRepoStub struct {
	revisions     map[int64]*models.Revision
	reportable    []models.ReportableRevision
	transitionErr error
	added         []*models.Revision
}

func (s *revisionRepoStub) GetLastSyncedRevision(ctx context.Context) (int64, error) {
	var last int64
	for id := range s.revisions {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (s *revisionRepoStub) AddRevision(ctx context.Context, rev *models.Revision) error {
	s.added = append(s.added, rev)
	s.revisions[rev.ID] = rev
	return nil
}

func (s *revisionRepoStub) GetByID(ctx context.Context, id int64) (*models.Revision, error) {
	rev, ok := s.revisions[id]
	if !ok {
		return nil, fmt.Errorf("get revision %d: %w", id, sql.ErrNoRows)
	}
	return rev, nil
}

func (s *revisionRepoStub) GetState(ctx context.Context, id int64) (models.RevisionState, error) {
	rev, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return rev.State, nil
}

func (s *revisionRepoStub) TransitionState(ctx context.Context, id int64, from, to models.RevisionState) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.revisions[id].State = to
	return nil
}

func (s *revisionRepoStub) GetReportableSolutions(ctx context.Context, assignmentID int64) ([]models.ReportableRevision, error) {
	return s.reportable, nil
}

type ticketRepoStub struct {
	known map[int64]bool
}

func (s *ticketRepoStub) CreateIfNotExists(ctx context.Context, ticket *models.Ticket) (bool, error) {
	if s.known[ticket.ID] {
		return false, nil
	}
	s.known[ticket.ID] = true
	return true, nil
}

func newRevisionServiceFixture() (*RevisionService, *revisionRepoStub, *blobStoreStub) {
	repo := &revisionRepoStub{revisions: map[int64]*models.Revision{
		5: {ID: 5, User: "alice", State: models.RevisionStateChecked},
		6: {ID: 6, User: "bob", State: models.RevisionStateFailed},
	}}
	blobs := newBlobStoreStub()
	svc := NewRevisionService(repo, &ticketRepoStub{known: map[int64]bool{}}, NewBlobService(blobs, nil, nil, nil), nil, nil)
	return svc, repo, blobs
}

func TestRevisionServiceMarkReported(t *testing.T) {
	svc, repo, _ := newRevisionServiceFixture()

	require.NoError(t, svc.MarkReported(context.Background(), 5, &models.JWTClaims{Login: "reporter"}))
	assert.Equal(t, models.RevisionStateReported, repo.revisions[5].State)
}

func TestRevisionServiceMarkReportedRequiresChecked(t *testing.T) {
	svc, repo, _ := newRevisionServiceFixture()

	err := svc.MarkReported(context.Background(), 6, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.Equal(t, models.RevisionStateFailed, repo.revisions[6].State)

	err = svc.MarkReported(context.Background(), 99, nil)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRevisionServiceMarkReportedConflict(t *testing.T) {
	svc, repo, _ := newRevisionServiceFixture()
	repo.transitionErr = fmt.Errorf("transition revision 5: %w", repository.ErrStateConflict)

	err := svc.MarkReported(context.Background(), 5, nil)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestRevisionServiceIngest(t *testing.T) {
	svc, repo, blobs := newRevisionServiceFixture()

	rev, err := svc.Ingest(context.Background(), dto.IngestRevisionRequest{ID: 7, User: "carol", AssignmentID: 1, Solution: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, models.BlobID([]byte("abc")), rev.SolutionID)
	assert.Equal(t, models.RevisionStateNew, rev.State)
	assert.Len(t, repo.added, 1)
	assert.Len(t, blobs.blobs, 1)

	status, err := svc.SyncStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), status.LastSyncedRevision)
}

func TestRevisionServiceIngestValidation(t *testing.T) {
	svc, _, _ := newRevisionServiceFixture()
	_, err := svc.Ingest(context.Background(), dto.IngestRevisionRequest{ID: 7, AssignmentID: 1, Solution: []byte("abc")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestRevisionServiceRegisterTicket(t *testing.T) {
	svc, _, _ := newRevisionServiceFixture()
	req := dto.RegisterTicketRequest{ID: 101, Course: "cpp", User: "alice", AssignmentID: 1}

	created, err := svc.RegisterTicket(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.RegisterTicket(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRevisionServiceReportableNeverNil(t *testing.T) {
	svc, _, _ := newRevisionServiceFixture()
	rows, err := svc.Reportable(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}
