package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Config describes how to reach the history database. DSN, when set,
// overrides the assembled connection string; deployments that need extra
// driver parameters (TLS, timeouts) set it directly.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		return openPostgres(cfg)
	case "mysql":
		return openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
