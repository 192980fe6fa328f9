package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-checker/internal/dto"
	"github.com/noah-isme/revision-checker/internal/models"
	"github.com/noah-isme/revision-checker/internal/repository"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

type revisionRepository interface {
	GetLastSyncedRevision(ctx context.Context) (int64, error)
	AddRevision(ctx context.Context, rev *models.Revision) error
	GetByID(ctx context.Context, id int64) (*models.Revision, error)
	GetState(ctx context.Context, id int64) (models.RevisionState, error)
	TransitionState(ctx context.Context, id int64, from, to models.RevisionState) error
	GetReportableSolutions(ctx context.Context, assignmentID int64) ([]models.ReportableRevision, error)
}

type ticketRepository interface {
	CreateIfNotExists(ctx context.Context, ticket *models.Ticket) (bool, error)
}

// RevisionService serves the ingestion and reporting collaborators.
type RevisionService struct {
	revisions revisionRepository
	tickets   ticketRepository
	blobs     BlobWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRevisionService constructs the service.
func NewRevisionService(revisions revisionRepository, tickets ticketRepository, blobs BlobWriter, validate *validator.Validate, logger *zap.Logger) *RevisionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevisionService{revisions: revisions, tickets: tickets, blobs: blobs, validator: validate, logger: logger}
}

// SyncStatus reports the newest revision already ingested.
func (s *RevisionService) SyncStatus(ctx context.Context) (*dto.SyncStatus, error) {
	last, err := s.revisions.GetLastSyncedRevision(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read sync status")
	}
	return &dto.SyncStatus{LastSyncedRevision: last}, nil
}

// Ingest stores the solution snapshot and registers the revision as new.
func (s *RevisionService) Ingest(ctx context.Context, req dto.IngestRevisionRequest) (*models.Revision, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revision payload")
	}
	solutionID, err := s.blobs.Store(ctx, req.Solution)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store solution")
	}
	rev := &models.Revision{
		ID:           req.ID,
		User:         req.User,
		AssignmentID: req.AssignmentID,
		SolutionID:   solutionID,
		Message:      req.Message,
		State:        models.RevisionStateNew,
	}
	if err := s.revisions.AddRevision(ctx, rev); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add revision")
	}
	s.logger.Info("revision ingested", zap.Int64("revision_id", rev.ID), zap.String("user", rev.User), zap.String("solution_id", solutionID))
	return rev, nil
}

// RegisterTicket records a ticket; known ticket ids are left untouched.
func (s *RevisionService) RegisterTicket(ctx context.Context, req dto.RegisterTicketRequest) (bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ticket payload")
	}
	created, err := s.tickets.CreateIfNotExists(ctx, &models.Ticket{
		ID:           req.ID,
		Course:       req.Course,
		User:         req.User,
		AssignmentID: req.AssignmentID,
	})
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register ticket")
	}
	return created, nil
}

// Get returns a revision with its latest check result.
func (s *RevisionService) Get(ctx context.Context, id int64) (*models.Revision, error) {
	rev, err := s.revisions.GetByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	return rev, nil
}

// Reportable lists checked revisions awaiting a human report.
func (s *RevisionService) Reportable(ctx context.Context, assignmentID int64) ([]models.ReportableRevision, error) {
	rows, err := s.revisions.GetReportableSolutions(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reportable revisions")
	}
	if rows == nil {
		rows = []models.ReportableRevision{}
	}
	return rows, nil
}

// MarkReported records that the result of a checked revision was published.
func (s *RevisionService) MarkReported(ctx context.Context, id int64, actor *models.JWTClaims) error {
	state, err := s.revisions.GetState(ctx, id)
	if err != nil {
		return s.translate(err, id)
	}
	if state != models.RevisionStateChecked {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("revision %d is %s, only checked revisions can be reported", id, state))
	}
	if err := s.revisions.TransitionState(ctx, id, state, models.RevisionStateReported); err != nil {
		return s.translate(err, id)
	}
	fields := []zap.Field{zap.Int64("revision_id", id)}
	if actor != nil {
		fields = append(fields, zap.String("actor", actor.Login))
	}
	s.logger.Info("revision reported", fields...)
	return nil
}

func (s *RevisionService) translate(err error, id int64) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("revision %d not found", id))
	case errors.Is(err, repository.ErrStateConflict):
		return appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, fmt.Sprintf("revision %d changed state concurrently", id))
	case errors.Is(err, repository.ErrInvalidTransition):
		return appErrors.Wrap(err, appErrors.ErrInvalidState.Code, appErrors.ErrInvalidState.Status, fmt.Sprintf("revision %d cannot change to the requested state", id))
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to access revision")
	}
}
