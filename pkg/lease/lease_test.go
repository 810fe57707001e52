package lease

import (
	"errors"
	"testing"
	"time"

	"github.com/lastwatch/uptime-core/pkg/config"
	"github.com/lastwatch/uptime-core/pkg/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(&config.Config{Database: config.DatabaseConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAcquire_SucceedsWhenUnheld(t *testing.T) {
	db := testDB(t)
	repo := db.LeaseRepository()

	now := time.Unix(1_700_000_000, 0)
	if err := Acquire(repo, "scheduler:tick", now, 55); err != nil {
		t.Fatalf("expected acquisition to succeed, got %v", err)
	}
}

func TestAcquire_FailsWhileHeld(t *testing.T) {
	db := testDB(t)
	repo := db.LeaseRepository()

	now := time.Unix(1_700_000_000, 0)
	if err := Acquire(repo, "scheduler:tick", now, 55); err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}

	again := now.Add(10 * time.Second)
	err := Acquire(repo, "scheduler:tick", again, 55)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestAcquire_SucceedsAfterExpiry(t *testing.T) {
	db := testDB(t)
	repo := db.LeaseRepository()

	now := time.Unix(1_700_000_000, 0)
	if err := Acquire(repo, "rollup:daily", now, 600); err != nil {
		t.Fatalf("first acquisition failed: %v", err)
	}

	later := now.Add(11 * time.Minute)
	if err := Acquire(repo, "rollup:daily", later, 600); err != nil {
		t.Fatalf("expected acquisition to succeed after expiry, got %v", err)
	}
}
