package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
)

// Conn is an open destination connection together with its SQL dialect.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
}

// Close closes the underlying pool.
func (c *Conn) Close() error {
	return c.DB.Close()
}

// Open connects to the destination described by conn and verifies it with a
// ping. Any failure here is fatal for the run.
func Open(ctx context.Context, conn domain.DatabaseConnection) (*Conn, error) {
	var (
		driverName string
		dsn        string
		dialect    Dialect
	)
	switch conn.Driver {
	case domain.DatabaseDriverPostgres, "":
		driverName, dsn, dialect = "postgres", buildPostgresDSN(conn), Postgres{}
	case domain.DatabaseDriverMySQL:
		driverName, dsn, dialect = "mysql", buildMySQLDSN(conn), MySQL{}
	case domain.DatabaseDriverSQLite:
		driverName, dsn, dialect = "sqlite", buildSQLiteDSN(conn), SQLite{}
	default:
		return nil, syncerr.NewFatalError(fmt.Sprintf("unsupported driver: %s", conn.Driver), nil)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, syncerr.NewFatalError("open "+driverName, err)
	}
	if dialect.Name() == domain.DatabaseDriverSQLite {
		// SQLite only supports one writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, syncerr.NewFatalError("ping "+driverName, err)
	}
	return &Conn{DB: db, Dialect: dialect}, nil
}

// Wrap pairs an already open pool with a dialect. Used by tests and by
// callers that manage their own pool.
func Wrap(db *sql.DB, dialect Dialect) *Conn {
	return &Conn{DB: db, Dialect: dialect}
}
