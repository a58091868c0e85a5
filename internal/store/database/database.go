package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

// Open connects to the configured driver and migrates the schema when asked to.
// sqlite is always auto-migrated since it has no migration job.
func Open(appConfig *config.AppConfig, logger *logger.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch appConfig.Database.Driver {
	case config.DriverPostgres:
		db, err = connectPostgres(appConfig)
	case config.DriverSQLite, "":
		db, err = connectSQLite(appConfig.Database.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", appConfig.Database.Driver)
	}
	if err != nil {
		return nil, err
	}

	if appConfig.Database.Driver != config.DriverPostgres || appConfig.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}

	logger.Info("database connected", map[string]string{
		"driver": driverName(appConfig.Database.Driver),
	})
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Wallet{}, &model.Transaction{})
}

func connectPostgres(appConfig *config.AppConfig) (*gorm.DB, error) {
	ds := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		appConfig.Database.Host,
		appConfig.Database.User,
		appConfig.Database.Pass,
		appConfig.Database.Name,
		appConfig.Database.Port,
		appConfig.Database.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(ds), gormConfig())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if appConfig.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(appConfig.Database.MaxOpenConns)
	}

	return db, nil
}

func connectSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), gormConfig())
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// a single writer connection serializes transactions
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// SQLiteDSN appends the pragmas the store relies on to a file path.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: false,
		},
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

func driverName(driver string) string {
	if driver == "" {
		return config.DriverSQLite
	}
	return driver
}
