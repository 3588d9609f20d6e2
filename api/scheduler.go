/*
scheduler.go - Periodic consistency audit

PURPOSE:
  Runs the ledger's replay audit in the background so a drifted counter
  is detected even when nobody calls POST /api/audit.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - A violation is already logged at error level with alert=true and
    counted by the Orchestrator; the scheduler keeps the last report

CONFIGURATION:
  - Interval: How often to audit (AUDIT_INTERVAL, default 1h)
  - Enabled:  Whether the scheduler is active (interval > 0)

USAGE:
  scheduler := NewAuditScheduler(orch, time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: The audit itself
  - handlers.go: RunAudit endpoint (manual audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/chronos-ledger/ledger"
)

// Auditor runs the replay audit.
type Auditor interface {
	Audit(ctx context.Context) (ledger.AuditReport, error)
}

// AuditScheduler audits the ledger on a fixed interval.
type AuditScheduler struct {
	Auditor  Auditor
	Interval time.Duration
	Enabled  bool
	// Timeout bounds a single audit run.
	Timeout time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.Mutex
	last   AuditStatus
}

// AuditStatus is the outcome of the most recent scheduled audit.
type AuditStatus struct {
	Report ledger.AuditReport
	Err    error
	Runs   int
}

// NewAuditScheduler creates a scheduler. A non-positive interval disables it.
func NewAuditScheduler(a Auditor, interval time.Duration, log zerolog.Logger) *AuditScheduler {
	return &AuditScheduler{
		Auditor:  a,
		Interval: interval,
		Enabled:  interval > 0,
		Timeout:  time.Minute,
		log:      log,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.Interval).Msg("audit scheduler started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info().Msg("audit scheduler stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()
	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow audits immediately and records the result.
func (s *AuditScheduler) RunNow() (ledger.AuditReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	report, err := s.Auditor.Audit(ctx)
	if err != nil && !ledger.IsDefect(err) {
		s.log.Warn().Err(err).Msg("scheduled audit failed")
	}

	s.lastMu.Lock()
	s.last = AuditStatus{Report: report, Err: err, Runs: s.last.Runs + 1}
	s.lastMu.Unlock()
	return report, err
}

func (s *AuditScheduler) Status() AuditStatus {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}
