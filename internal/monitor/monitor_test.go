package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"github.com/alarmvault/alarmvault/internal/kv"
	"github.com/alarmvault/alarmvault/internal/securestore"
)

// Key layout constants mirrored from the storage layer's documented
// key ownership
const (
	primaryKey      = "alarms:primary"
	backupKeyPrefix = "alarms:backup:"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	monitor *Monitor
	store   *securestore.Store
	kv      *kv.MemoryStore
	clock   *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	secret, err := crypto.GenerateDeviceSecret()
	require.NoError(t, err)
	enc, err := crypto.NewEncryptor(secret)
	require.NoError(t, err)
	signer, err := crypto.NewSigner()
	require.NoError(t, err)

	mem := kv.NewMemory()
	clock := newFakeClock()
	store := securestore.New(mem, enc, signer, zap.NewNop(), securestore.WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m := New(store, zap.NewNop(), opts...)
	t.Cleanup(m.Destroy)

	store.SetNotifier(m)
	store.SetStatusSource(m)

	return &testEnv{monitor: m, store: store, kv: mem, clock: clock}
}

func (env *testEnv) seedAlarms(t *testing.T, owner string) []alarm.Alarm {
	t.Helper()
	base := env.clock.Now()
	alarms := []alarm.Alarm{
		{ID: "a1", Time: "06:30", Label: "Run", Days: []int{1, 3, 5}, Enabled: true,
			CreatedAt: base, UpdatedAt: base},
		{ID: "a2", Time: "07:00", Label: "Work", Days: []int{1, 2, 3, 4, 5}, Enabled: true,
			CreatedAt: base, UpdatedAt: base},
		{ID: "a3", Time: "09:30", Label: "Weekend", Days: []int{0, 6}, Enabled: false,
			CreatedAt: base, UpdatedAt: base},
	}
	_, err := env.store.StoreAlarms(context.Background(), alarms, owner)
	require.NoError(t, err)
	return alarms
}

func TestCleanCheck(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlarms(t, "u1")

	result, err := env.monitor.PerformIntegrityCheck(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Issues)
	assert.Equal(t, StateClean, result.FinalState)
	assert.NotEmpty(t, result.CheckID)

	metrics := env.monitor.Metrics()
	assert.EqualValues(t, 1, metrics.TotalChecks)
	assert.EqualValues(t, 0, metrics.FailedChecks)
	assert.Equal(t, result.Timestamp, metrics.LastCheckTime)
}

func TestEmptyStoreIsClean(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.monitor.PerformIntegrityCheck(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestConsistencyPassFlagsBadTime(t *testing.T) {
	env := newTestEnv(t)
	base := env.clock.Now()
	bad := []alarm.Alarm{{
		ID: "bad", Time: "25:99", Days: []int{1}, Enabled: true,
		CreatedAt: base, UpdatedAt: base,
	}}

	issues := env.monitor.consistencyPass(bad)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueDataCorruption, issues[0].Type)
	assert.True(t, issues[0].Severity.AtLeast(SeverityHigh))

	sched := env.monitor.schedulingPass(bad)
	require.Len(t, sched, 1)
	assert.True(t, sched[0].Severity.AtLeast(SeverityHigh))
}

func TestTimestampPass(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	future := []alarm.Alarm{{
		ID: "f1", Time: "06:00", Days: []int{1}, CreatedAt: now.Add(time.Hour), UpdatedAt: now.Add(time.Hour),
	}}
	issues := env.monitor.timestampPass(future, now)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueTimestampAnomaly, issues[0].Type)

	backwards := []alarm.Alarm{{
		ID: "b1", Time: "06:00", Days: []int{1}, CreatedAt: now, UpdatedAt: now.Add(-time.Hour),
	}}
	issues = env.monitor.timestampPass(backwards, now)
	require.Len(t, issues, 1)
}

func TestInjectionPass(t *testing.T) {
	env := newTestEnv(t)
	base := env.clock.Now()
	tainted := []alarm.Alarm{{
		ID: "x1", Time: "06:00", Label: `<script>alert(1)</script>`, Days: []int{1},
		CreatedAt: base, UpdatedAt: base,
	}}

	issues := env.monitor.injectionPass(tainted)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueUnauthorizedAccess, issues[0].Type)
	assert.Equal(t, SeverityHigh, issues[0].Severity)
	assert.Equal(t, []string{"x1"}, issues[0].AffectedAlarmIDs)
}

func TestUnauthorizedModificationDetected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := env.seedAlarms(t, "u1")

	// First cycle learns the hashes
	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// Rewrite one alarm without bumping UpdatedAt, well past the
	// legitimate-update window
	env.clock.Advance(time.Hour)
	alarms[0].Label = "Tampered"
	_, err = env.store.StoreAlarms(ctx, alarms, "u1")
	require.NoError(t, err)

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)

	found := false
	for _, issue := range result.Issues {
		if issue.Type == IssueUnauthorizedAccess && contains(issue.AffectedAlarmIDs, "a1") {
			found = true
			assert.Equal(t, SeverityHigh, issue.Severity)
		}
	}
	assert.True(t, found, "expected unauthorized modification issue for a1")
}

func TestLegitimateUpdateWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := env.seedAlarms(t, "u1")

	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// A change with a fresh UpdatedAt inside the window is legitimate
	env.clock.Advance(5 * time.Minute)
	alarms[1].Label = "Renamed by the user"
	alarms[1].UpdatedAt = env.clock.Now()
	_, err = env.store.StoreAlarms(ctx, alarms, "u1")
	require.NoError(t, err)

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.IsValid, "fresh UpdatedAt inside the window should not be flagged: %+v", result.Issues)
}

func TestUnauthorizedDeletionDetected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := env.seedAlarms(t, "u1")

	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// Drop a2 with no deletion signal
	remaining := []alarm.Alarm{alarms[0], alarms[2]}
	_, err = env.store.StoreAlarms(ctx, remaining, "u1")
	require.NoError(t, err)

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, SeverityCritical, result.Severity)

	// Critical issue gated an automatic recovery attempt; the set is
	// non-empty so it counts as successful
	metrics := env.monitor.Metrics()
	assert.EqualValues(t, 1, metrics.RecoveryAttempts)
	assert.EqualValues(t, 1, metrics.SuccessfulRecoveries)
	assert.Equal(t, StateRecovered, result.FinalState)
}

func TestSanctionedDeletionNotFlagged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := env.seedAlarms(t, "u1")

	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	env.monitor.NoteSanctionedDeletion("a2")
	remaining := []alarm.Alarm{alarms[0], alarms[2]}
	_, err = env.store.StoreAlarms(ctx, remaining, "u1")
	require.NoError(t, err)

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.IsValid, "sanctioned deletion should not be flagged: %+v", result.Issues)
}

func TestCorruptedStoreTriggersRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAlarms(t, "u1")
	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// Corrupt the primary; a valid backup remains, so the storage
	// layer recovers during the monitor's read
	blob, ok, err := env.kv.Get(ctx, primaryKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.kv.Set(ctx, primaryKey, "spoiled"+blob[7:]))

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.IsValid, "store-level recovery should leave a clean set: %+v", result.Issues)

	// The ad-hoc tamper signal still reached the monitor
	metrics := env.monitor.Metrics()
	assert.GreaterOrEqual(t, metrics.TamperAttempts, int64(1))
	events := env.monitor.Events(0)
	require.NotEmpty(t, events)
	assert.Equal(t, TamperDetected, events[0].Type)
}

func TestRecoveryFailurePath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAlarms(t, "u1")
	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// Destroy primary and every backup: recovery has nothing left
	keys, err := env.kv.Keys(ctx)
	require.NoError(t, err)
	for _, key := range keys {
		require.NoError(t, env.kv.Set(ctx, key, "garbage"))
	}

	var failures []TamperEvent
	env.monitor.Subscribe(func(e TamperEvent) {
		failures = append(failures, e)
	})

	result, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, StateRecoveryFailed, result.FinalState)

	metrics := env.monitor.Metrics()
	assert.EqualValues(t, 1, metrics.RecoveryAttempts)
	assert.EqualValues(t, 0, metrics.SuccessfulRecoveries)
	assert.NotEmpty(t, failures)
}

func TestSingleFlight(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlarms(t, "u1")
	ctx := context.Background()

	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	env.monitor.checkMu.Lock()
	defer env.monitor.checkMu.Unlock()

	snapshot, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrCheckInFlight)
	// The concurrent caller gets the previous result snapshot
	assert.NotEmpty(t, snapshot.CheckID)
}

func TestHistoryRing(t *testing.T) {
	env := newTestEnv(t, WithHistoryCap(5))
	env.seedAlarms(t, "")
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := env.monitor.PerformIntegrityCheck(ctx, "")
		require.NoError(t, err)
	}

	history := env.monitor.History(0)
	assert.Len(t, history, 5)

	limited := env.monitor.History(2)
	assert.Len(t, limited, 2)
	assert.Equal(t, history[4].CheckID, limited[1].CheckID)
}

func TestFrequencyHeuristic(t *testing.T) {
	env := newTestEnv(t, WithFrequencyHeuristic(3, time.Minute))

	var mu sync.Mutex
	var suspicious []TamperEvent
	env.monitor.Subscribe(func(e TamperEvent) {
		if e.Severity == SeverityMedium && e.Type == TamperDetected {
			mu.Lock()
			suspicious = append(suspicious, e)
			mu.Unlock()
		}
	})

	for i := 0; i < 6; i++ {
		env.monitor.ReportSecurityEvent(alarm.EventUpdated, "rapid mutation")
		env.clock.Advance(time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, suspicious, 1, "suspicious activity should be rate-limited to one per window")
	assert.Contains(t, suspicious[0].Description, "suspicious activity")
}

func TestNonMutationEventsDoNotFeedHeuristic(t *testing.T) {
	env := newTestEnv(t, WithFrequencyHeuristic(3, time.Minute))

	fired := false
	env.monitor.Subscribe(func(e TamperEvent) {
		if e.Severity == SeverityMedium {
			fired = true
		}
	})

	for i := 0; i < 10; i++ {
		env.monitor.ReportSecurityEvent(alarm.EventSnoozed, "snooze spam")
	}
	assert.False(t, fired)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	env := newTestEnv(t)

	count := 0
	unsub := env.monitor.Subscribe(func(TamperEvent) { count++ })

	env.monitor.ReportSecurityEvent(alarm.EventCreated, "one")
	unsub()
	env.monitor.ReportSecurityEvent(alarm.EventCreated, "two")

	assert.Equal(t, 1, count)
}

func TestRecoveryChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := env.seedAlarms(t, "u1")

	_, err := env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	// Unauthorized deletion drives the critical -> recovery path
	_, err = env.store.StoreAlarms(ctx, alarms[:2], "u1")
	require.NoError(t, err)
	_, err = env.monitor.PerformIntegrityCheck(ctx, "u1")
	require.NoError(t, err)

	select {
	case event := <-env.monitor.RecoveryEvents():
		assert.Equal(t, DataRecovered, event.Type)
	default:
		t.Fatal("expected a recovery event on the channel")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t, WithInterval(time.Hour))
	env.seedAlarms(t, "")

	require.NoError(t, env.monitor.Start())
	assert.ErrorIs(t, env.monitor.Start(), apperrors.ErrMonitorRunning)
	assert.True(t, env.monitor.MonitoringActive())

	env.monitor.Stop()
	env.monitor.Stop()
	assert.False(t, env.monitor.MonitoringActive())

	// Restart works after a clean stop
	require.NoError(t, env.monitor.Start())
	env.monitor.Stop()
}

func TestDestroy(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlarms(t, "")
	ctx := context.Background()

	_, err := env.monitor.PerformIntegrityCheck(ctx, "")
	require.NoError(t, err)

	env.monitor.Destroy()

	_, err = env.monitor.PerformIntegrityCheck(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrMonitorClosed)
	assert.ErrorIs(t, env.monitor.Start(), apperrors.ErrMonitorClosed)
	assert.Empty(t, env.monitor.History(0))
	assert.Empty(t, env.monitor.Events(0))
}

func TestResetMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seedAlarms(t, "")
	ctx := context.Background()

	_, err := env.monitor.PerformIntegrityCheck(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, env.monitor.Metrics().TotalChecks)

	env.monitor.ResetMetrics()
	assert.EqualValues(t, 0, env.monitor.Metrics().TotalChecks)
	assert.Zero(t, env.monitor.Metrics().AverageCheckDuration)
}

func TestTrackedMapEviction(t *testing.T) {
	env := newTestEnv(t, WithTrackedCap(2))
	ctx := context.Background()
	base := env.clock.Now()

	alarms := make([]alarm.Alarm, 4)
	for i := range alarms {
		alarms[i] = alarm.Alarm{
			ID: string(rune('a' + i)), Time: "06:00", Days: []int{1},
			CreatedAt: base, UpdatedAt: base,
		}
	}
	_, err := env.store.StoreAlarms(ctx, alarms, "")
	require.NoError(t, err)

	_, err = env.monitor.PerformIntegrityCheck(ctx, "")
	require.NoError(t, err)

	env.monitor.mu.Lock()
	defer env.monitor.mu.Unlock()
	assert.LessOrEqual(t, len(env.monitor.tracked), 2)
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
