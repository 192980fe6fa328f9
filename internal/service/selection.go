package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/revision-checker/internal/models"
)

// CandidateStore lists selection candidates and retires superseded revisions.
type CandidateStore interface {
	ListAssignmentRevisions(ctx context.Context, assignmentID int64) ([]models.RevisionCandidate, error)
	MarkObsolete(ctx context.Context, ids []int64) (int64, error)
}

// SelectCheckable orders the revisions that need a check. Only the newest
// revision of every user is considered; older revisions that are still new,
// failed or checked are returned as superseded. Checkable ids come back in
// ascending order with new revisions ahead of failed ones.
func SelectCheckable(candidates []models.RevisionCandidate) (checkable, superseded []int64) {
	ordered := make([]models.RevisionCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })

	seen := make(map[string]struct{}, len(ordered))
	latest := make([]models.RevisionCandidate, 0, len(ordered))
	for _, candidate := range ordered {
		if _, ok := seen[candidate.User]; ok {
			if supersedable(candidate.State) {
				superseded = append(superseded, candidate.ID)
			}
			continue
		}
		seen[candidate.User] = struct{}{}
		latest = append(latest, candidate)
	}

	sort.Slice(latest, func(i, j int) bool { return latest[i].ID < latest[j].ID })
	pending := make([]models.RevisionCandidate, 0, len(latest))
	for _, candidate := range latest {
		if candidate.State.Checkable() {
			pending = append(pending, candidate)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].State == models.RevisionStateNew && pending[j].State != models.RevisionStateNew
	})

	checkable = make([]int64, 0, len(pending))
	for _, candidate := range pending {
		checkable = append(checkable, candidate.ID)
	}
	return checkable, superseded
}

func supersedable(state models.RevisionState) bool {
	return models.CanTransition(state, models.RevisionStateObsolete)
}

// SelectionService computes the checkable revisions of an assignment.
type SelectionService struct {
	store  CandidateStore
	logger *zap.Logger
}

// NewSelectionService constructs the service.
func NewSelectionService(store CandidateStore, logger *zap.Logger) *SelectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelectionService{store: store, logger: logger}
}

// CheckableRevisions marks superseded revisions obsolete and returns the ids
// still waiting for a check, head first.
func (s *SelectionService) CheckableRevisions(ctx context.Context, assignmentID int64) ([]int64, error) {
	candidates, err := s.store.ListAssignmentRevisions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	checkable, superseded := SelectCheckable(candidates)
	if len(superseded) > 0 {
		marked, err := s.store.MarkObsolete(ctx, superseded)
		if err != nil {
			return nil, err
		}
		s.logger.Sugar().Infow("superseded revisions marked obsolete",
			"assignment_id", assignmentID, "revisions", superseded, "marked", marked)
	}
	return checkable, nil
}
