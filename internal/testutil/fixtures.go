package testutil

import (
	"context"
	"fmt"
	mrand "math/rand"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alarmvault/alarmvault/internal/alarm"
	"github.com/alarmvault/alarmvault/internal/crypto"
	"github.com/alarmvault/alarmvault/internal/kv"
	"github.com/alarmvault/alarmvault/internal/securestore"
)

// NewAlarm builds a valid alarm with sensible defaults
func NewAlarm(id string) alarm.Alarm {
	now := time.Now().Add(-time.Hour)
	return alarm.Alarm{
		ID:        id,
		Time:      "07:30",
		Label:     "alarm " + id,
		Days:      []int{1, 2, 3, 4, 5},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAlarms builds n valid alarms with distinct ids and times
func NewAlarms(n int) []alarm.Alarm {
	alarms := make([]alarm.Alarm, n)
	for i := range alarms {
		a := NewAlarm(fmt.Sprintf("alarm-%d", i))
		a.Time = fmt.Sprintf("%02d:%02d", 6+(i%18), (i*7)%60)
		alarms[i] = a
	}
	return alarms
}

// RandomAlarm builds a valid alarm from a seeded source
func RandomAlarm(r *mrand.Rand, id string) alarm.Alarm {
	a := NewAlarm(id)
	a.Time = fmt.Sprintf("%02d:%02d", r.Intn(24), r.Intn(60))
	days := make([]int, 0, 7)
	for d := 0; d < 7; d++ {
		if r.Intn(2) == 1 {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = []int{r.Intn(7)}
	}
	a.Days = days
	a.Enabled = r.Intn(4) != 0
	return a
}

// StoreFixture is a fully wired secure store over the in-memory
// backend, ready for integration tests.
type StoreFixture struct {
	KV     *kv.MemoryStore
	Store  *securestore.Store
	Signer *crypto.Signer
}

// NewStoreFixture builds a secure store on a memory backend. Cleanup
// is registered on t.
func NewStoreFixture(t *testing.T) *StoreFixture {
	t.Helper()

	mem := kv.NewMemory()
	enc, err := crypto.NewEncryptor("testutil-device-secret")
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	signer, err := crypto.NewSigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store := securestore.New(mem, enc, signer, zap.NewNop())
	t.Cleanup(func() { store.Close() })

	return &StoreFixture{KV: mem, Store: store, Signer: signer}
}

// CorruptPrimary flips bytes in the stored primary payload
func (f *StoreFixture) CorruptPrimary(t *testing.T) {
	t.Helper()
	if !f.KV.Corrupt("alarms:primary", flipBytes) {
		t.Fatal("no primary payload to corrupt")
	}
}

// CorruptBackups flips bytes in every backup slot
func (f *StoreFixture) CorruptBackups(t *testing.T) {
	t.Helper()
	keys, err := f.KV.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, key := range keys {
		if strings.HasPrefix(key, "alarms:backup:") {
			f.KV.Corrupt(key, flipBytes)
			n++
		}
	}
	if n == 0 {
		t.Fatal("no backup slots to corrupt")
	}
}

func flipBytes(v string) string {
	b := []byte(v)
	for i := len(b) / 2; i < len(b)/2+8 && i < len(b); i++ {
		b[i] ^= 0xff
	}
	return string(b)
}
