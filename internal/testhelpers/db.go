// Package testhelpers holds shared fixtures for emberline tests: an
// in-memory schema, record builders, fakes for the oracle and notification
// transports, and a fluent HTTP harness.
package testhelpers

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emberline/emberline/internal/database"
)

// NewTestDB returns a migrated in-memory sqlite database. Every caller in the
// test shares one connection, so transactions serialize the way they would
// against a single postgres row lock.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pool, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite pool: %v", err)
	}
	pool.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = pool.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// MustCreate inserts records in order and stops the test on the first failure.
func MustCreate(t *testing.T, db *gorm.DB, records ...interface{}) {
	t.Helper()
	for _, rec := range records {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("insert %T: %v", rec, err)
		}
	}
}

// FrozenClock is a clock stuck at the given instant.
func FrozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// AssertEqual compares two comparable values.
func AssertEqual(t *testing.T, want, got interface{}, what string) {
	t.Helper()
	if want != got {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}
