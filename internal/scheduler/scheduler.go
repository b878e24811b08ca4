package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/securestore"
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// SweepResult summarizes one deep verification sweep
type SweepResult struct {
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Backups   securestore.BackupReport `json:"backups"`
	ChainOK   bool                     `json:"chain_ok"`
	ChainErr  string                   `json:"chain_err,omitempty"`
	Passed    bool                     `json:"passed"`
}

// Reporter receives sweep failures as generic security events. The
// integrity monitor satisfies this.
type Reporter interface {
	ReportSecurityEvent(kind alarm.EventKind, detail string)
}

// sweepEventKind is not a mutation, so sweep reports never count
// toward the monitor's modification frequency heuristic.
const sweepEventKind = alarm.EventKind("verification_sweep")

// Sweeper periodically verifies every backup slot and the tamper log
// chain. The live alarm set gets validated every monitor cycle; the
// chain underneath it only gets read during recovery, so decay there
// would otherwise stay invisible until the worst moment.
type Sweeper struct {
	schedule *Schedule
	store    *securestore.Store
	chain    *tamperlog.Chain // optional
	reporter Reporter         // optional
	log      *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	lastPass bool
}

// NewSweeper creates a deep verification sweeper
func NewSweeper(schedule *Schedule, store *securestore.Store, chain *tamperlog.Chain, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		schedule: schedule,
		store:    store,
		chain:    chain,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// SetReporter wires sweep failures into a security event consumer
func (s *Sweeper) SetReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// Start begins scheduled sweeping. Idempotent.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop stops scheduled sweeping. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// Status returns the last run time, whether it passed, and the next
// scheduled run.
func (s *Sweeper) Status() (lastRun time.Time, passed bool, nextRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lastRun = s.lastRun
	passed = s.lastPass
	if s.running {
		after := s.lastRun
		if after.IsZero() {
			after = time.Now()
		}
		nextRun = s.schedule.NextRun(after)
	}
	return
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	nextRun := s.schedule.NextRun(time.Now())
	s.log.Info("deep verification sweeper started",
		zap.String("schedule", s.schedule.String()),
		zap.Time("next_run", nextRun))

	for {
		wait := time.Until(nextRun)
		if wait < 0 {
			wait = time.Second
		}

		select {
		case <-s.stop:
			return
		case <-time.After(wait):
			result := s.Sweep(context.Background())

			s.mu.Lock()
			s.lastRun = time.Now()
			s.lastPass = result.Passed
			s.mu.Unlock()

			nextRun = s.schedule.NextRun(time.Now())
		}
	}
}

// Sweep runs one full verification pass: every backup slot through the
// full validation stack, plus the tamper log chain.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	start := time.Now()
	result := SweepResult{StartedAt: start.UTC(), ChainOK: true}

	report, err := s.store.VerifyBackups(ctx)
	if err != nil {
		s.log.Error("backup verification sweep failed", zap.Error(err))
		result.Duration = time.Since(start)
		return result
	}
	result.Backups = report

	if s.chain != nil {
		if err := s.chain.VerifyChain(); err != nil {
			result.ChainOK = false
			result.ChainErr = err.Error()
		}
	}

	result.Passed = report.Invalid == 0 && result.ChainOK
	result.Duration = time.Since(start)

	if result.Passed {
		s.log.Info("deep verification sweep passed",
			zap.Int("backups_checked", report.Checked),
			zap.Duration("duration", result.Duration))
		return result
	}

	s.log.Warn("deep verification sweep found problems",
		zap.Int("invalid_backups", report.Invalid),
		zap.Bool("chain_ok", result.ChainOK))

	s.mu.Lock()
	r := s.reporter
	s.mu.Unlock()
	if r != nil {
		if report.Invalid > 0 {
			r.ReportSecurityEvent(sweepEventKind,
				fmt.Sprintf("deep sweep: %d of %d backup slots failed validation", report.Invalid, report.Checked))
		}
		if !result.ChainOK {
			r.ReportSecurityEvent(sweepEventKind,
				"deep sweep: tamper log chain verification failed: "+result.ChainErr)
		}
	}
	return result
}
