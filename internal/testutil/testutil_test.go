package testutil

import (
	"context"
	"testing"
	"time"
)

func TestNewAlarmsAreValid(t *testing.T) {
	now := time.Now()
	for _, a := range NewAlarms(10) {
		if err := a.Validate(now); err != nil {
			t.Errorf("alarm %s invalid: %v", a.ID, err)
		}
	}
}

func TestRandomAlarmsAreValid(t *testing.T) {
	r := NewRand(GetTestSeed(t))
	now := time.Now()
	for i := 0; i < 50; i++ {
		a := RandomAlarm(r, "r1")
		if err := a.Validate(now); err != nil {
			t.Errorf("random alarm invalid (%+v): %v", a, err)
		}
	}
}

func TestStoreFixtureRoundTrip(t *testing.T) {
	f := NewStoreFixture(t)

	if _, err := f.Store.StoreAlarms(context.Background(), NewAlarms(3), "owner"); err != nil {
		t.Fatal(err)
	}
	result, err := f.Store.RetrieveAlarms(context.Background(), "owner")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Alarms) != 3 {
		t.Fatalf("got %d alarms, want 3", len(result.Alarms))
	}
}
