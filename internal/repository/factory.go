package repository

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/config"
)

// DBType represents the database type.
type DBType string

const (
	// DBTypeSQLite keeps the history in a local file; the default.
	DBTypeSQLite DBType = "sqlite"
	// DBTypeMySQL uses a MySQL server.
	DBTypeMySQL DBType = "mysql"
	// DBTypePostgres uses a PostgreSQL server.
	DBTypePostgres DBType = "postgres"
)

// NewGormDB opens the configured database, enables tracing and migrates
// the duration table.
func NewGormDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch DBType(cfg.Type) {
	case DBTypeSQLite, DBType(""):
		path := cfg.Path
		if path == "" {
			path = "durations.db"
		}
		dialector = sqlite.Open(path)
	case DBTypeMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case DBTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigError, "unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "open duration database", err)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "enable database tracing", err)
	}

	if err := db.AutoMigrate(&TaskDuration{}); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "migrate duration table", err)
	}

	return db, nil
}
