/*
scheduler.go - Automated pay-run scheduler

PURPOSE:
  Periodically marks approved payroll records as paid once their period
  has closed. This is the "pay day" step: approval stays a human decision,
  payment of approved records happens on schedule.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Selects approved records whose period ended before now
  - Uses the engine's bulk mark_paid transition, so a record paid by a
    concurrent request is reported as skipped, not paid twice
  - Logs and counts every run (payroll_payrun_* metrics)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour, PAYRUN_INTERVAL)
  - Enabled: Whether scheduler is active (default: false, PAYRUN_ENABLED)

USAGE:
  scheduler := NewPayRunScheduler(engine, logger, metrics)
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunPayRun endpoint (manual run)
  - payroll/lifecycle.go: Transition
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

// PayRunScheduler pays approved records of closed periods.
type PayRunScheduler struct {
	Engine        *payroll.Engine
	CheckInterval time.Duration
	Enabled       bool
	Clock         func() time.Time

	logger  *zap.Logger
	metrics *Metrics

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// PayRun is the outcome of one pass.
type PayRun struct {
	RanAt   time.Time
	Checked int
	Result  payroll.BulkResult
}

// NewPayRunScheduler creates a new scheduler.
func NewPayRunScheduler(engine *payroll.Engine, logger *zap.Logger, metrics *Metrics) *PayRunScheduler {
	return &PayRunScheduler{
		Engine:        engine,
		CheckInterval: time.Hour,
		Clock:         func() time.Time { return time.Now().UTC() },
		logger:        logger.Named("payrun"),
		metrics:       metrics,
	}
}

// Start begins the scheduler.
func (s *PayRunScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("pay-run scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("pay-run scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *PayRunScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("pay-run scheduler stopped")
}

func (s *PayRunScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.runLogged(ctx)

	for {
		select {
		case <-ticker.C:
			s.runLogged(ctx)
		case <-stop:
			return
		}
	}
}

func (s *PayRunScheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("pay-run failed", zap.Error(err))
	}
}

// RunOnce pays every approved record whose period ended before now.
func (s *PayRunScheduler) RunOnce(ctx context.Context) (PayRun, error) {
	now := s.Clock()
	run := PayRun{RanAt: now}

	approved, err := s.Engine.List(ctx, payroll.RecordFilter{Status: []payroll.RecordStatus{payroll.StatusApproved}})
	if err != nil {
		s.metrics.payRuns.WithLabelValues("error").Inc()
		return run, err
	}
	run.Checked = len(approved)

	var due []payroll.RecordID
	for _, rec := range approved {
		if !now.Before(rec.Period.End()) {
			due = append(due, rec.ID)
		}
	}

	run.Result, err = s.Engine.Transition(ctx, payroll.ActionMarkPaid, due...)
	if err != nil {
		s.metrics.payRuns.WithLabelValues("error").Inc()
		return run, err
	}
	s.metrics.observeTransition(run.Result)
	s.metrics.payRunPaid.Add(float64(len(run.Result.Succeeded)))
	s.metrics.payRuns.WithLabelValues("ok").Inc()

	if len(due) > 0 {
		s.logger.Info("pay-run completed",
			zap.Int("checked", run.Checked),
			zap.Int("paid", len(run.Result.Succeeded)),
			zap.Int("skipped", len(run.Result.Skipped)),
			zap.Int("failed", len(run.Result.Failed)))
	}
	return run, nil
}

// NextRunTime returns when the next scheduled check will occur.
func (s *PayRunScheduler) NextRunTime() time.Time {
	return s.Clock().Add(s.CheckInterval)
}
