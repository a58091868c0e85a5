// Package storetest opens throwaway sqlite databases for package tests.
package storetest

import (
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dwarvesf/escrow-backend/internal/store/database"
)

// TB is the part of testing.TB that GinkgoT also satisfies.
type TB interface {
	Helper()
	Fatalf(format string, args ...interface{})
	TempDir() string
	Cleanup(func())
}

// NewDB returns a migrated database file under t.TempDir.
func NewDB(t TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "escrow.db")
	db, err := gorm.Open(sqlite.Open(database.SQLiteDSN(path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}
