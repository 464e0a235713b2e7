package testutil

import (
	"testing"
	"time"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/store"
)

// Epoch is the start time used by fake clocks in tests.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewFakeClock returns a fake clock starting at Epoch.
func NewFakeClock() *clock.FakeClock {
	return clock.Fake(Epoch)
}
