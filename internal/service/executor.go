package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/revision-checker/internal/models"
	"github.com/noah-isme/revision-checker/pkg/remote"
)

// CheckRequest describes one revision to run through the harness.
type CheckRequest struct {
	User             string `validate:"required"`
	RevisionID       int64  `validate:"gt=0"`
	Solution         []byte
	AssignmentName   string `validate:"required"`
	SolutionFileName string `validate:"required"`
	TestsDir         string `validate:"required"`
	CommonHeaderPath string `validate:"required"`
}

// ExecutorConfig holds harness invocation settings.
type ExecutorConfig struct {
	HarnessCommand string
	Parallelism    int
	WorkRoot       string
}

// Executor stages a solution on the worker and runs the test harness there.
type Executor struct {
	dialer    remote.Dialer
	cfg       ExecutorConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExecutor constructs an executor.
func NewExecutor(dialer remote.Dialer, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = "check"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{dialer: dialer, cfg: cfg, validator: validator.New(), logger: logger}
}

// RunCheck runs the harness for req and returns its parsed result. Output that
// carries no result yields *ResultParseError.
func (e *Executor) RunCheck(ctx context.Context, req CheckRequest) (*models.CheckResult, error) {
	if err := e.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid check request: %w", err)
	}
	log := e.logger.Sugar().With("user", req.User, "revision_id", req.RevisionID)

	conn, err := e.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close() //nolint:errcheck

	dataDir := path.Join(e.cfg.WorkRoot, req.AssignmentName, req.User, strconv.FormatInt(req.RevisionID, 10))
	solutionFile := path.Join(dataDir, req.SolutionFileName)
	if _, err := remote.Run(ctx, conn, "mkdir -p "+remote.Quote(dataDir), nil); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", dataDir, err)
	}
	if _, err := remote.Run(ctx, conn, "cat > "+remote.Quote(solutionFile), bytes.NewReader(req.Solution)); err != nil {
		return nil, fmt.Errorf("upload %s: %w", solutionFile, err)
	}

	cmd := e.harnessCommand(req, dataDir, solutionFile)
	log.Debugw("starting harness", "command", cmd)
	proc, err := conn.Start(cmd, nil)
	if err != nil {
		return nil, fmt.Errorf("start harness: %w", err)
	}
	defer proc.Close() //nolint:errcheck
	stop := context.AfterFunc(ctx, func() { _ = proc.Close() })
	defer stop()

	start := time.Now()
	var stderr bytes.Buffer
	var exitCode int
	g := new(errgroup.Group)
	g.Go(func() error {
		scanner := bufio.NewScanner(proc.Stdout())
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			log.Debugw("harness stdout", "line", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Warnw("harness stdout not line oriented, discarding", "error", err)
			_, err = io.Copy(io.Discard, proc.Stdout())
			return err
		}
		log.Debug("harness stdout closed")
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, proc.Stderr())
		return err
	})
	g.Go(func() error {
		var err error
		exitCode, err = proc.Wait()
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("harness interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("harness session: %w", err)
	}
	log.Debugw("harness finished", "exit_code", exitCode, "stderr_bytes", stderr.Len(), "duration", time.Since(start))

	result, err := ParseCheckResult(stderr.Bytes())
	if err != nil {
		log.Errorw("harness produced no result", "error", err, "exit_code", exitCode, "stderr", stderr.String())
		return nil, err
	}
	return result, nil
}

func (e *Executor) harnessCommand(req CheckRequest, dataDir, solutionFile string) string {
	return fmt.Sprintf("%s %s --tests-dir %s -p %d --logs %s --common-header %s --ci-mode | tee -i -a %s",
		e.cfg.HarnessCommand,
		remote.Quote(solutionFile),
		remote.Quote(req.TestsDir),
		e.cfg.Parallelism,
		remote.Quote(path.Join(dataDir, "logs")),
		remote.Quote(req.CommonHeaderPath),
		remote.Quote(path.Join(dataDir, "out.log")),
	)
}
