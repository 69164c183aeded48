// Package testutil holds helpers shared by package tests.
package testutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow/internal/db"
)

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get underlying SQL DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(conn); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

// ErrInjected is the error FailInserts makes the database return
var ErrInjected = errors.New("disk full")

// FailInserts makes the next n inserts into table fail with ErrInjected.
func FailInserts(t testing.TB, conn *gorm.DB, table string, n int) {
	t.Helper()

	remaining := n
	name := "testutil:fail_" + table
	err := conn.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if remaining > 0 && tx.Statement.Schema != nil && tx.Statement.Schema.Table == table {
			remaining--
			tx.AddError(ErrInjected)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}
}
