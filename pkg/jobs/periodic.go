package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMaxConsecutiveErrors = 20

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("periodic scheduler already started")
	// ErrNotStarted is returned by Stop on an idle scheduler.
	ErrNotStarted = errors.New("periodic scheduler not started")
	// ErrCycleTimeout marks a cycle that exceeded PeriodicConfig.Timeout.
	ErrCycleTimeout = errors.New("periodic cycle timed out")
)

// Work is a unit of work invoked once per cycle.
type Work func(ctx context.Context) error

// CycleObserver receives the outcome of every finished cycle.
type CycleObserver interface {
	ObserveCycle(name string, err error, duration time.Duration, consecutiveErrors int)
}

// PeriodicConfig tunes a Periodic scheduler.
type PeriodicConfig struct {
	// DelayFirstCycle sleeps one period before the first invocation.
	DelayFirstCycle bool
	// MaxConsecutiveErrors is the failure streak that switches the loop to
	// CrashloopPeriod. Defaults to 20.
	MaxConsecutiveErrors int
	// CrashloopPeriod defaults to five periods.
	CrashloopPeriod time.Duration
	// Timeout bounds a single cycle; zero disables it.
	Timeout  time.Duration
	Logger   *zap.Logger
	Observer CycleObserver
}

// Periodic repeatedly invokes a Work on an interval until stopped. Failed cycles
// are logged and counted, never propagated.
type Periodic struct {
	name                 string
	work                 Work
	period               time.Duration
	crashloopPeriod      time.Duration
	timeout              time.Duration
	maxConsecutiveErrors int
	delayFirstCycle      bool
	logger               *zap.Logger
	observer             CycleObserver

	mu                sync.Mutex
	cancel            context.CancelFunc
	done              chan struct{}
	consecutiveErrors int
}

// NewPeriodic builds a scheduler for work running every period.
func NewPeriodic(name string, work Work, period time.Duration, cfg PeriodicConfig) *Periodic {
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if cfg.CrashloopPeriod <= 0 {
		cfg.CrashloopPeriod = 5 * period
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Periodic{
		name:                 name,
		work:                 work,
		period:               period,
		crashloopPeriod:      cfg.CrashloopPeriod,
		timeout:              cfg.Timeout,
		maxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		delayFirstCycle:      cfg.DelayFirstCycle,
		logger:               cfg.Logger,
		observer:             cfg.Observer,
	}
}

// Name returns the scheduler name used in logs and metrics.
func (p *Periodic) Name() string {
	return p.name
}

// Start launches the background loop.
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done)
	p.logger.Sugar().Infow("periodic scheduler started", "scheduler", p.name, "period", p.period)
	return nil
}

// Stop cancels the loop and blocks until the running cycle has unwound.
func (p *Periodic) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.cancel = nil
	p.done = nil
	p.consecutiveErrors = 0
	p.mu.Unlock()
	p.logger.Sugar().Infow("periodic scheduler stopped", "scheduler", p.name)
	return nil
}

// ConsecutiveErrors reports the current failure streak.
func (p *Periodic) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrors
}

func (p *Periodic) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if p.delayFirstCycle && !sleep(ctx, p.period) {
		return
	}
	for {
		delay := p.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

// runCycle invokes the work once and returns the delay before the next cycle.
func (p *Periodic) runCycle(ctx context.Context) time.Duration {
	start := time.Now()
	err := p.invoke(ctx)
	duration := time.Since(start)
	if ctx.Err() != nil {
		return 0
	}

	p.mu.Lock()
	if err == nil {
		p.consecutiveErrors = 0
	} else {
		p.consecutiveErrors++
	}
	count := p.consecutiveErrors
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveCycle(p.name, err, duration, count)
	}
	if err == nil {
		return p.period
	}

	p.logger.Sugar().Errorw("periodic cycle failed", "scheduler", p.name, "consecutive_errors", count, "error", err)
	if count < p.maxConsecutiveErrors {
		return p.period
	}
	if count == p.maxConsecutiveErrors {
		p.logger.Sugar().Errorw("maximum consecutive errors reached, slowing down",
			"scheduler", p.name, "max_consecutive_errors", p.maxConsecutiveErrors, "crashloop_period", p.crashloopPeriod)
	}
	return p.crashloopPeriod
}

func (p *Periodic) invoke(ctx context.Context) (err error) {
	cycleCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s cycle: %v", p.name, r)
		}
	}()

	err = p.work(cycleCtx)
	if err != nil && ctx.Err() == nil && errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrCycleTimeout, p.timeout, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
