// Package monitor is the continuous integrity monitor over the secure
// alarm storage layer. It runs periodic validation cycles, classifies
// issues, tracks metrics and history, triggers automatic recovery for
// critical findings, and broadcasts tamper events to subscribers.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"github.com/alarmvault/alarmvault/internal/securestore"
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// Defaults, overridable via options
const (
	DefaultInterval      = 30 * time.Second
	DefaultHistoryCap    = 100
	DefaultTrackedCap    = 512
	DefaultUpdateWindow  = 10 * time.Minute
	DefaultFreqThreshold = 10
	DefaultFreqWindow    = 60 * time.Second

	eventRingCap    = 1000
	recoveryChanCap = 16
)

// trackedAlarm is the per-alarm change detection state. Process
// lifetime only; never persisted.
type trackedAlarm struct {
	hash      string
	firstSeen time.Time
	lastSeen  time.Time
}

// Monitor is the long-lived integrity coordinator. Construct with New,
// release with Destroy.
type Monitor struct {
	store *securestore.Store
	log   *zap.Logger
	audit *tamperlog.Chain // optional mirror for tamper events

	interval      time.Duration
	owner         string
	historyCap    int
	trackedCap    int
	updateWindow  time.Duration
	freqThreshold int
	freqWindow    time.Duration
	now           func() time.Time

	// checkMu is the single-flight guard: overlapping checks would
	// both attempt recovery, which is idempotent but wasteful
	checkMu sync.Mutex

	mu            sync.Mutex
	running       bool
	destroyed     bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
	state         CheckState
	history       []CheckResult
	lastResult    *CheckResult
	events        []TamperEvent
	metrics       Metrics
	durationTotal time.Duration
	tracked       map[string]*trackedAlarm
	sanctioned    map[string]time.Time
	subscribers   map[int]func(TamperEvent)
	recoverySubs  map[int]func(TamperEvent)
	nextSubID     int
	recoveryCh    chan TamperEvent
	mutations     []time.Time
	lastSuspicion time.Time
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval sets the periodic check interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithOwner sets the owner identifier used for periodic checks
func WithOwner(ownerID string) Option {
	return func(m *Monitor) { m.owner = ownerID }
}

// WithHistoryCap bounds the check history ring
func WithHistoryCap(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historyCap = n
		}
	}
}

// WithTrackedCap bounds the change-detection map
func WithTrackedCap(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.trackedCap = n
		}
	}
}

// WithUpdateWindow sets the legitimate-update grace window
func WithUpdateWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.updateWindow = d
		}
	}
}

// WithFrequencyHeuristic tunes the suspicious-activity detector:
// more than threshold mutation events inside window raises an alert.
func WithFrequencyHeuristic(threshold int, window time.Duration) Option {
	return func(m *Monitor) {
		if threshold > 0 {
			m.freqThreshold = threshold
		}
		if window > 0 {
			m.freqWindow = window
		}
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithAuditLog mirrors tamper events into the persistent tamper log
func WithAuditLog(chain *tamperlog.Chain) Option {
	return func(m *Monitor) { m.audit = chain }
}

// New creates an integrity monitor over the given secure store
func New(store *securestore.Store, log *zap.Logger, opts ...Option) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		store:         store,
		log:           log,
		interval:      DefaultInterval,
		historyCap:    DefaultHistoryCap,
		trackedCap:    DefaultTrackedCap,
		updateWindow:  DefaultUpdateWindow,
		freqThreshold: DefaultFreqThreshold,
		freqWindow:    DefaultFreqWindow,
		now:           time.Now,
		state:         StateIdle,
		tracked:       make(map[string]*trackedAlarm),
		sanctioned:    make(map[string]time.Time),
		subscribers:   make(map[int]func(TamperEvent)),
		recoverySubs:  make(map[int]func(TamperEvent)),
		recoveryCh:    make(chan TamperEvent, recoveryChanCap),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic check loop. A second Start without an
// intervening Stop returns ErrMonitorRunning.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return apperrors.ErrMonitorClosed
	}
	if m.running {
		m.mu.Unlock()
		return apperrors.ErrMonitorRunning
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(stop)

	m.log.Info("integrity monitoring started", zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels future ticks. Idempotent. An in-flight check is not
// aborted; callers must tolerate one trailing completion.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("integrity monitoring stopped")
}

func (m *Monitor) run(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// First cycle immediately so a freshly started monitor has state
	m.tick()

	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-stop:
			return
		}
	}
}

func (m *Monitor) tick() {
	if _, err := m.PerformIntegrityCheck(context.Background(), m.owner); err != nil {
		// An overlapping manual check holds the single-flight lock;
		// skipping a tick is fine
		m.log.Debug("periodic check skipped", zap.Error(err))
	}
}

// Destroy stops the monitor and clears subscribers, the change
// detection map and the in-memory rings. Further checks fail with
// ErrMonitorClosed.
func (m *Monitor) Destroy() {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	m.subscribers = make(map[int]func(TamperEvent))
	m.recoverySubs = make(map[int]func(TamperEvent))
	m.tracked = make(map[string]*trackedAlarm)
	m.sanctioned = make(map[string]time.Time)
	m.history = nil
	m.events = nil
	m.mutations = nil
	m.lastResult = nil
	m.state = StateIdle
}

// State returns the current position in the check state machine
func (m *Monitor) State() CheckState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Owner returns the owner identifier periodic checks run under
func (m *Monitor) Owner() string {
	return m.owner
}

// Running reports whether the periodic loop is active
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// MonitoringActive implements securestore.StatusSource
func (m *Monitor) MonitoringActive() bool {
	return m.Running()
}

// LastCheckTime implements securestore.StatusSource
func (m *Monitor) LastCheckTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics.LastCheckTime
}

// Metrics returns a snapshot of the running counters
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// ResetMetrics clears the running counters
func (m *Monitor) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = Metrics{}
	m.durationTotal = 0
}

// History returns the newest check results, up to limit (0 means all)
func (m *Monitor) History(limit int) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	start := len(m.history) - limit
	out := make([]CheckResult, limit)
	copy(out, m.history[start:])
	return out
}

// Events returns the newest tamper events, up to limit (0 means all)
func (m *Monitor) Events(limit int) []TamperEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	start := len(m.events) - limit
	out := make([]TamperEvent, limit)
	copy(out, m.events[start:])
	return out
}

// NoteSanctionedDeletion marks an alarm id as legitimately deleted so
// its disappearance is not flagged as tampering. This is the explicit
// removal path for the change-detection map.
func (m *Monitor) NoteSanctionedDeletion(alarmID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sanctioned[alarmID] = m.now()
}

func (m *Monitor) setState(s CheckState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.log.Debug("monitor state", zap.String("state", string(s)))
}
