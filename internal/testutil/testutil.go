// Package testutil provides shared test fixtures for alarmvault tests:
// deterministic seeding, alarm factories, and a fully wired secure
// store over the in-memory backend.
package testutil

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"os"
	"testing"
)

// GetTestSeed returns a seed for deterministic testing.
// It checks ALARMVAULT_TEST_SEED first, otherwise generates a random
// seed. The seed is logged so failures can be reproduced.
func GetTestSeed(t *testing.T) int64 {
	t.Helper()

	if seedStr := os.Getenv("ALARMVAULT_TEST_SEED"); seedStr != "" {
		var seed int64
		if _, err := fmt.Sscanf(seedStr, "%d", &seed); err == nil {
			t.Logf("Using seed from ALARMVAULT_TEST_SEED: %d", seed)
			return seed
		}
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("Failed to generate random seed: %v", err)
	}
	seed := n.Int64()
	t.Logf("Generated test seed: %d (set ALARMVAULT_TEST_SEED=%d to reproduce)", seed, seed)
	return seed
}

// NewRand returns a seeded source for fixture generation
func NewRand(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed))
}
