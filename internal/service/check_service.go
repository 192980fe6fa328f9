package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-checker/internal/models"
	"github.com/noah-isme/revision-checker/internal/repository"
	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

// RevisionStore is the revision state access the check pipeline needs.
type RevisionStore interface {
	ResetCheckingState(ctx context.Context) (int64, error)
	ResetAssignmentCheckingState(ctx context.Context, assignmentID int64) (int64, error)
	GetState(ctx context.Context, id int64) (models.RevisionState, error)
	TransitionState(ctx context.Context, id int64, from, to models.RevisionState) error
	GetCheckResult(ctx context.Context, id int64) (*models.CheckResult, error)
	SetCheckResult(ctx context.Context, id int64, result models.CheckResult) error
	GetData(ctx context.Context, id int64) (string, []byte, error)
}

// AssignmentReader loads assignment reference data.
type AssignmentReader interface {
	GetByID(ctx context.Context, id int64) (*models.Assignment, error)
}

// RevisionSelector returns the revisions of an assignment awaiting a check, head first.
type RevisionSelector interface {
	CheckableRevisions(ctx context.Context, assignmentID int64) ([]int64, error)
}

// CheckRunner executes one check on the worker.
type CheckRunner interface {
	RunCheck(ctx context.Context, req CheckRequest) (*models.CheckResult, error)
}

// DiagnosticsWriter keeps raw harness output that could not be parsed.
type DiagnosticsWriter interface {
	Save(filename string, data []byte) (string, error)
}

// CheckOutcome is the result of checking one revision: either a decoded
// Result or the Failure that prevented one.
type CheckOutcome struct {
	Result  *models.CheckResult
	Failure error
}

// CheckServiceConfig tunes the coordinator.
type CheckServiceConfig struct {
	// MaxAttemptsPerCycle bounds checks of the same revision within one cycle.
	// Zero means unbounded.
	MaxAttemptsPerCycle int
}

// CheckService drives check cycles: select, run, diff and persist, one
// revision at a time.
type CheckService struct {
	revisions   RevisionStore
	assignments AssignmentReader
	selector    RevisionSelector
	runner      CheckRunner
	decoder     *ArtifactDecoder
	diagnostics DiagnosticsWriter
	metrics     *MetricsService
	cfg         CheckServiceConfig
	logger      *zap.Logger
}

// NewCheckService wires the coordinator. diagnostics and metrics may be nil.
func NewCheckService(
	revisions RevisionStore,
	assignments AssignmentReader,
	selector RevisionSelector,
	runner CheckRunner,
	decoder *ArtifactDecoder,
	diagnostics DiagnosticsWriter,
	metrics *MetricsService,
	cfg CheckServiceConfig,
	logger *zap.Logger,
) *CheckService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckService{
		revisions:   revisions,
		assignments: assignments,
		selector:    selector,
		runner:      runner,
		decoder:     decoder,
		diagnostics: diagnostics,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

// Recover demotes revisions of every assignment left in checking by an
// interrupted process. It must run before any cycle starts.
func (s *CheckService) Recover(ctx context.Context) error {
	reset, err := s.revisions.ResetCheckingState(ctx)
	if err != nil {
		return fmt.Errorf("reset checking revisions: %w", err)
	}
	if reset > 0 {
		s.logger.Sugar().Warnw("interrupted checks demoted to failed", "revisions", reset)
	}
	return nil
}

// Cycle returns the scheduler work for one assignment.
func (s *CheckService) Cycle(assignmentID int64) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.RunCycle(ctx, assignmentID)
	}
}

// RunCycle checks revisions of the assignment until none is eligible. Failed
// checks are recorded on the revision; storage errors abort the cycle.
func (s *CheckService) RunCycle(ctx context.Context, assignmentID int64) error {
	log := s.logger.With(zap.String("cycle_id", uuid.NewString()), zap.Int64("assignment_id", assignmentID))
	log.Info("started checking solutions")

	if err := s.recoverAssignment(ctx, log, assignmentID); err != nil {
		return err
	}
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("load assignment %d: %w", assignmentID, err)
	}

	attempts := make(map[int64]int)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.selector.CheckableRevisions(ctx, assignmentID)
		if err != nil {
			return fmt.Errorf("select checkable revisions: %w", err)
		}
		id, ok := s.next(ids, attempts)
		if !ok {
			if len(ids) == 0 {
				log.Info("all available solutions checked")
			} else {
				log.Sugar().Warnw("retry budget exhausted for this cycle", "pending", ids, "max_attempts", s.cfg.MaxAttemptsPerCycle)
			}
			return nil
		}
		log.Sugar().Infow("need to check solutions", "pending", ids, "revision_id", id)
		attempts[id]++
		if err := s.checkRevision(ctx, log, assignment, id); err != nil {
			return err
		}
	}
}

// recoverAssignment demotes checks of this assignment left behind by an
// aborted cycle. Cycles of one assignment never overlap, so nothing of it is in
// flight here.
func (s *CheckService) recoverAssignment(ctx context.Context, log *zap.Logger, assignmentID int64) error {
	reset, err := s.revisions.ResetAssignmentCheckingState(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("reset checking revisions of assignment %d: %w", assignmentID, err)
	}
	if reset > 0 {
		log.Sugar().Warnw("aborted checks demoted to failed", "revisions", reset)
	}
	return nil
}

func (s *CheckService) next(ids []int64, attempts map[int64]int) (int64, bool) {
	for _, id := range ids {
		if s.cfg.MaxAttemptsPerCycle <= 0 || attempts[id] < s.cfg.MaxAttemptsPerCycle {
			return id, true
		}
	}
	return 0, false
}

func (s *CheckService) checkRevision(ctx context.Context, log *zap.Logger, assignment *models.Assignment, id int64) error {
	log = log.With(zap.Int64("revision_id", id))
	state, err := s.revisions.GetState(ctx, id)
	if err != nil {
		return fmt.Errorf("get revision %d state: %w", id, err)
	}
	log.Info("checking revision", zap.String("state", string(state)))
	if !state.Checkable() {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("revision %d is %s, not checkable", id, state))
	}
	if err := s.revisions.TransitionState(ctx, id, state, models.RevisionStateChecking); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			log.Warn("revision changed state before check, reselecting", zap.Error(err))
			return nil
		}
		return fmt.Errorf("mark revision %d checking: %w", id, err)
	}

	start := time.Now()
	user, outcome, err := s.execute(ctx, assignment, id)
	if err != nil {
		return err
	}
	next, err := s.persist(ctx, id, outcome)
	if err != nil {
		return err
	}
	duration := time.Since(start)
	s.metrics.ObserveCheck(next, duration)

	if outcome.Failure != nil {
		log.Error("check of revision failed", zap.Error(outcome.Failure), zap.Duration("duration", duration))
		s.saveDiagnostics(log, assignment, user, id, outcome.Failure)
		return nil
	}
	log.Info("revision checked", zap.String("state", string(next)),
		zap.Strings("failing_tests", FailingTests(outcome.Result)), zap.Duration("duration", duration))
	return nil
}

// execute returns a Failure outcome for problems of the check itself and an
// error for storage problems or cancellation.
func (s *CheckService) execute(ctx context.Context, assignment *models.Assignment, id int64) (string, CheckOutcome, error) {
	user, solution, err := s.revisions.GetData(ctx, id)
	if err != nil {
		return "", CheckOutcome{}, fmt.Errorf("get revision %d data: %w", id, err)
	}

	result, err := s.runner.RunCheck(ctx, CheckRequest{
		User:             user,
		RevisionID:       id,
		Solution:         solution,
		AssignmentName:   assignment.Name,
		SolutionFileName: assignment.SolutionFile,
		TestsDir:         assignment.TestsDir,
		CommonHeaderPath: assignment.CommonHeader,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return user, CheckOutcome{}, ctxErr
	}
	if err != nil {
		return user, CheckOutcome{Failure: err}, nil
	}

	if err := s.decoder.Decode(ctx, result); err != nil {
		var parseErr *ResultParseError
		if errors.As(err, &parseErr) {
			return user, CheckOutcome{Failure: err}, nil
		}
		return user, CheckOutcome{}, fmt.Errorf("store artifacts of revision %d: %w", id, err)
	}
	return user, CheckOutcome{Result: result}, nil
}

func (s *CheckService) persist(ctx context.Context, id int64, outcome CheckOutcome) (models.RevisionState, error) {
	if outcome.Failure != nil {
		if err := s.revisions.TransitionState(ctx, id, models.RevisionStateChecking, models.RevisionStateFailed); err != nil {
			return "", fmt.Errorf("mark revision %d failed: %w", id, err)
		}
		return models.RevisionStateFailed, nil
	}

	previous, err := s.revisions.GetCheckResult(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get previous result of revision %d: %w", id, err)
	}
	next := DecideState(previous, *outcome.Result)
	if err := s.revisions.SetCheckResult(ctx, id, *outcome.Result); err != nil {
		return "", fmt.Errorf("save result of revision %d: %w", id, err)
	}
	if err := s.revisions.TransitionState(ctx, id, models.RevisionStateChecking, next); err != nil {
		return "", fmt.Errorf("mark revision %d %s: %w", id, next, err)
	}
	return next, nil
}

func (s *CheckService) saveDiagnostics(log *zap.Logger, assignment *models.Assignment, user string, id int64, failure error) {
	var parseErr *ResultParseError
	if s.diagnostics == nil || !errors.As(failure, &parseErr) || len(parseErr.Stderr) == 0 {
		return
	}
	name := fmt.Sprintf("%s/%s/%d-%s.stderr.log", assignment.Name, user, id, time.Now().UTC().Format("20060102T150405Z"))
	saved, err := s.diagnostics.Save(name, parseErr.Stderr)
	if err != nil {
		log.Warn("saving harness stderr failed", zap.Error(err))
		return
	}
	log.Info("harness stderr saved", zap.String("file", saved))
}
