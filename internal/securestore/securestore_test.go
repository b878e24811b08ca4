package securestore

import (
	"context"
	"path/filepath"
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
	"github.com/alarmvault/alarmvault/internal/tamperlog"
)

// fakeClock hands out strictly increasing timestamps so backup
// ordering is deterministic in tests.
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
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type testEnv struct {
	store *Store
	kv    *kv.MemoryStore
	clock *fakeClock
	audit *tamperlog.Chain
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	secret, err := crypto.GenerateDeviceSecret()
	require.NoError(t, err)
	enc, err := crypto.NewEncryptor(secret)
	require.NoError(t, err)
	signer, err := crypto.NewSigner()
	require.NoError(t, err)
	audit, err := tamperlog.New(filepath.Join(t.TempDir(), "tamperlog.json"))
	require.NoError(t, err)

	mem := kv.NewMemory()
	clock := newFakeClock()
	store := New(mem, enc, signer, zap.NewNop(), WithAuditLog(audit), WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })

	return &testEnv{store: store, kv: mem, clock: clock, audit: audit}
}

func testAlarms(base time.Time) []alarm.Alarm {
	mk := func(id, at, label string, days []int) alarm.Alarm {
		return alarm.Alarm{
			ID:        id,
			Time:      at,
			Label:     label,
			Days:      days,
			Enabled:   true,
			Active:    true,
			VoiceMood: alarm.MoodMotivational,
			Sound:     "classic-bell",
			CreatedAt: base,
			UpdatedAt: base,
		}
	}
	return []alarm.Alarm{
		mk("a1", "06:30", "Early run", []int{1, 3, 5}),
		mk("a2", "07:00", "Work", []int{1, 2, 3, 4, 5}),
		mk("a3", "09:30", "Weekend", []int{0, 6}),
	}
}

// corruptPrimary flips one byte of the stored encrypted blob
func corruptPrimary(t *testing.T, env *testEnv, offset int) {
	t.Helper()
	ctx := context.Background()
	blob, ok, err := env.kv.Get(ctx, primaryKey)
	require.NoError(t, err)
	require.True(t, ok)

	raw := []byte(blob)
	idx := offset % len(raw)
	if raw[idx] == 'A' {
		raw[idx] = 'B'
	} else {
		raw[idx] = 'A'
	}
	require.NoError(t, env.kv.Set(ctx, primaryKey, string(raw)))
}

func alarmIDs(alarms []alarm.Alarm) []string {
	ids := make([]string, len(alarms))
	for i, a := range alarms {
		ids[i] = a.ID
	}
	return ids
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := testAlarms(env.clock.Current())

	receipt, err := env.store.StoreAlarms(ctx, alarms, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.AlarmCount)
	assert.NotEmpty(t, receipt.Checksum)
	assert.NotEmpty(t, receipt.BackupID)
	assert.Equal(t, 1, receipt.BackupCount)
	assert.Zero(t, receipt.SanitizedFields)

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimary, result.Outcome)
	assert.False(t, result.Recovered)
	assert.Zero(t, result.DroppedRecords)
	require.Len(t, result.Alarms, 3)
	assert.Equal(t, alarmIDs(alarms), alarmIDs(result.Alarms))
	for i := range alarms {
		assert.Equal(t, alarms[i].Time, result.Alarms[i].Time)
		assert.Equal(t, alarms[i].Label, result.Alarms[i].Label)
		assert.Equal(t, alarms[i].Days, result.Alarms[i].Days)
	}
}

func TestRetrieveFirstRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.store.RetrieveAlarms(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	assert.Empty(t, result.Alarms)
	assert.NoError(t, result.FailureClass)
}

func TestStoreSanitizesInjection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alarms := testAlarms(env.clock.Current())
	alarms[0].Label = `<script>alert(1)</script>Wake up`

	receipt, err := env.store.StoreAlarms(ctx, alarms, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.SanitizedFields)

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, result.Alarms, 3)
	assert.Equal(t, "Wake up", result.Alarms[0].Label)
	assert.False(t, crypto.ContainsInjection(result.Alarms[0].Label))
}

func TestStoreRejectsStructurallyInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alarms := testAlarms(env.clock.Current())
	alarms[1].Time = "25:99"

	_, err := env.store.StoreAlarms(ctx, alarms, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStructuralCorruption)
	assert.Contains(t, err.Error(), "a2")
}

func TestChecksumSensitivity(t *testing.T) {
	env := newTestEnv(t)
	alarms := testAlarms(env.clock.Current())

	original, err := computeChecksum(alarms)
	require.NoError(t, err)

	mutated := make([]alarm.Alarm, len(alarms))
	copy(mutated, alarms)
	mutated[1].Time = "07:05"
	changed, err := computeChecksum(mutated)
	require.NoError(t, err)
	assert.NotEqual(t, original, changed)

	mutated[1].Time = alarms[1].Time
	reverted, err := computeChecksum(mutated)
	require.NoError(t, err)
	assert.Equal(t, original, reverted)
}

func TestOwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)

	result, err := env.store.RetrieveAlarms(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, result.Outcome)
	assert.Empty(t, result.Alarms)
	assert.ErrorIs(t, result.FailureClass, apperrors.ErrOwnershipMismatch)
}

func TestOwnershipNeverResolvedByBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// u1's data sits in primary and in a valid backup
	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)

	// u2 is denied on the primary; the valid backup must not be
	// substituted either
	result, err := env.store.RetrieveAlarms(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, result.Outcome)

	// And when the primary is corrupt, recovery for u2 must reject
	// u1's backups rather than hand them over
	corruptPrimary(t, env, 42)
	result, err = env.store.RetrieveAlarms(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupted, result.Outcome)
	assert.Empty(t, result.Alarms)
}

func TestBackupRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
		require.NoError(t, err)
	}

	status, err := env.store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, maxBackups, status.BackupCount)

	// The retained slots are the 5 newest
	backups, undecryptable, err := env.store.loadBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, undecryptable)
	require.Len(t, backups, maxBackups)
	for i := 1; i < len(backups); i++ {
		assert.True(t, backups[i-1].record.Created.After(backups[i].record.Created),
			"backups not ordered newest first")
	}
}

func TestRecoveryFromCorruptPrimary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := testAlarms(env.clock.Current())

	_, err := env.store.StoreAlarms(ctx, alarms, "u1")
	require.NoError(t, err)

	corruptPrimary(t, env, 100)

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecovered, result.Outcome)
	assert.True(t, result.Recovered)
	assert.Equal(t, alarmIDs(alarms), alarmIDs(result.Alarms))

	// Recovery re-persists: the next read validates cleanly
	result, err = env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimary, result.Outcome)
}

func TestRecoveryPrefersNewestBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Five stores with distinguishable labels; B5 is newest
	for i := 0; i < 5; i++ {
		alarms := testAlarms(env.clock.Current())
		alarms[0].Label = string(rune('A' + i))
		_, err := env.store.StoreAlarms(ctx, alarms, "u1")
		require.NoError(t, err)
	}

	corruptPrimary(t, env, 7)

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeRecovered, result.Outcome)
	assert.Equal(t, "E", result.Alarms[0].Label)
}

func TestTamperResilience(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := testAlarms(env.clock.Current())

	// No matter which byte flips, the result is either a recovered
	// identical set or an empty list - never corrupted data
	for _, offset := range []int{0, 3, 17, 64, 200, 511} {
		_, err := env.store.StoreAlarms(ctx, alarms, "u1")
		require.NoError(t, err)

		corruptPrimary(t, env, offset)

		result, err := env.store.RetrieveAlarms(ctx, "u1")
		require.NoError(t, err)
		switch result.Outcome {
		case OutcomeRecovered:
			assert.Equal(t, alarmIDs(alarms), alarmIDs(result.Alarms))
		case OutcomePrimary:
			// Flip landed in padding that still decoded; data validated
			assert.Equal(t, alarmIDs(alarms), alarmIDs(result.Alarms))
		case OutcomeCorrupted:
			assert.Empty(t, result.Alarms)
		default:
			t.Fatalf("unexpected outcome %q for offset %d", result.Outcome, offset)
		}
	}
}

func TestRecoveryExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)

	// Corrupt the primary and every backup slot
	corruptPrimary(t, env, 9)
	keys, err := env.kv.Keys(ctx)
	require.NoError(t, err)
	for _, key := range keys {
		if isBackupKey(key) {
			require.NoError(t, env.kv.Set(ctx, key, "garbage"))
		}
	}

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupted, result.Outcome)
	assert.Empty(t, result.Alarms)
	assert.Error(t, result.FailureClass)
}

func TestTamperSignalRaised(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var mu sync.Mutex
	var signals []TamperSignal
	env.store.SetNotifier(notifierFunc(func(sig TamperSignal) {
		mu.Lock()
		signals = append(signals, sig)
		mu.Unlock()
	}))

	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)
	corruptPrimary(t, env, 50)

	_, err = env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, signals)
	kind := signals[0].Kind
	assert.Contains(t, []SignalKind{
		SignalDecryptionFailure, SignalSignatureInvalid,
		SignalIntegrityTokenInvalid, SignalChecksumMismatch,
	}, kind)
}

type notifierFunc func(TamperSignal)

func (f notifierFunc) NotifyTamper(sig TamperSignal) { f(sig) }

func TestEventsTier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events := []alarm.Event{
		{ID: "e1", AlarmID: "a1", Kind: alarm.EventCreated, At: env.clock.Current()},
		{ID: "e2", AlarmID: "a1", Kind: alarm.EventTriggered, At: env.clock.Current().Add(time.Minute)},
	}
	require.NoError(t, env.store.StoreAlarmEvents(ctx, events, "u1"))

	result, err := env.store.RetrieveAlarmEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimary, result.Outcome)
	require.Len(t, result.Events, 2)
	assert.Equal(t, "e1", result.Events[0].ID)

	// Corrupt the event blob: no recovery tier, just an empty list
	blob, ok, err := env.kv.Get(ctx, eventsKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.kv.Set(ctx, eventsKey, blob[:len(blob)-4]+"AAAA"))

	result, err = env.store.RetrieveAlarmEvents(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupted, result.Outcome)
	assert.Empty(t, result.Events)
}

func TestEventsCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events := make([]alarm.Event, maxStoredEvents+20)
	base := env.clock.Current()
	for i := range events {
		events[i] = alarm.Event{
			ID:      crypto.NewUniqueToken(),
			AlarmID: "a1",
			Kind:    alarm.EventSnoozed,
			At:      base.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, env.store.StoreAlarmEvents(ctx, events, ""))

	result, err := env.store.RetrieveAlarmEvents(ctx, "")
	require.NoError(t, err)
	assert.Len(t, result.Events, maxStoredEvents)
	// Newest retained
	assert.Equal(t, events[len(events)-1].ID, result.Events[len(result.Events)-1].ID)
}

func TestClearAllData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)
	require.NoError(t, env.store.StoreAlarmEvents(ctx, []alarm.Event{
		{ID: "e1", AlarmID: "a1", Kind: alarm.EventCreated, At: env.clock.Current()},
	}, "u1"))

	require.NoError(t, env.store.ClearAllData(ctx))

	status, err := env.store.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.HasPrimary)
	assert.False(t, status.HasEvents)
	assert.Zero(t, status.BackupCount)

	result, err := env.store.RetrieveAlarms(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
}

func TestVerifyBackups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
		require.NoError(t, err)
	}

	report, err := env.store.VerifyBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Valid)
	assert.Zero(t, report.Invalid)

	// Corrupt one slot; the sweep finds it without touching the rest
	keys, err := env.kv.Keys(ctx)
	require.NoError(t, err)
	for _, key := range keys {
		if isBackupKey(key) {
			require.NoError(t, env.kv.Set(ctx, key, "not-a-backup"))
			break
		}
	}

	report, err = env.store.VerifyBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Valid)
	assert.Equal(t, 1, report.Invalid)
	assert.Len(t, report.Failures, 1)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.StoreAlarms(ctx, testAlarms(env.clock.Current()), "u1")
	require.NoError(t, err)
	require.NoError(t, env.store.ClearAllData(ctx))

	entries := env.audit.Entries(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "store", entries[0].Kind)
	assert.Equal(t, "clear", entries[1].Kind)
	// Owner identifiers are fingerprinted, never stored raw
	assert.NotEqual(t, "u1", entries[0].OwnerID)
	require.NoError(t, env.audit.VerifyChain())
}

func TestRetrieveDropsMalformedRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alarms := testAlarms(env.clock.Current())

	_, err := env.store.StoreAlarms(ctx, alarms, "")
	require.NoError(t, err)

	// Decay one stored record in place, re-sign and re-encrypt so only
	// the structural revalidation can catch it
	blob, ok, err := env.kv.Get(ctx, primaryKey)
	require.NoError(t, err)
	require.True(t, ok)
	var payload signedPayload
	require.NoError(t, env.store.enc.Decrypt(blob, &payload))

	payload.Data.Alarms[2].Time = "99:99"
	checksum, err := computeChecksum(payload.Data.Alarms)
	require.NoError(t, err)
	payload.Data.Checksum = checksum
	payload.Signature, err = env.store.signData(&payload.Data)
	require.NoError(t, err)
	payload.IntegrityToken = integrityToken(&payload.Data)
	reblob, err := env.store.enc.Encrypt(payload)
	require.NoError(t, err)
	require.NoError(t, env.kv.Set(ctx, primaryKey, reblob))

	result, err := env.store.RetrieveAlarms(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomePrimary, result.Outcome)
	assert.Equal(t, 1, result.DroppedRecords)
	assert.Len(t, result.Alarms, 2)
}
