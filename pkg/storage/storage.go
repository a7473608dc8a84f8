// Package storage opens the relational database shared by the graph,
// canonical and interview stores. Dialect handling follows the same
// convention everywhere: queries are written with ? placeholders and
// converted for postgres.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kadirpekel/inquest/pkg/config"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database and verifies the connection.
// It returns the handle and the normalized dialect name.
func Open(cfg *config.StorageConfig) (*sql.DB, string, error) {
	dialect := cfg.Driver
	driverName := cfg.Driver
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		dialect = "sqlite"
		driverName = "sqlite3"
	case "postgres", "mysql":
	default:
		return nil, "", fmt.Errorf("unsupported storage driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == "sqlite" {
		// A single writer avoids SQLITE_BUSY under concurrent sessions.
		db.SetMaxOpenConns(1)
	}

	return db, dialect, nil
}
