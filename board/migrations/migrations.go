// Package migrations carries the schema of every supported backend and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

type (
	Dialect string

	gooseLogger struct {
		log zerolog.Logger
	}
)

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

var (
	//go:embed sqlite/*.sql postgres/*.sql
	FS embed.FS

	// goose keeps its settings in package globals
	gooseLock sync.Mutex
)

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error().Msgf(format, v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug().Msgf(format, v...)
}

func (d Dialect) dir() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "postgres", nil
	}
	return "", fmt.Errorf("migrations: unknown dialect %q", string(d))
}

// Up applies every pending migration for dialect.
func Up(ctx context.Context, db *sql.DB, dialect Dialect) error {
	dir, err := dialect.dir()
	if err != nil {
		return err
	}
	gooseLock.Lock()
	defer gooseLock.Unlock()

	goose.SetBaseFS(FS)
	goose.SetLogger(gooseLogger{log: logutil.GetOrDefault(ctx).With().Str("component", "migrations").Logger()})
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("migrations: unable to set dialect %v, cause %w", dialect, err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations: unable to apply %v migrations, cause %w", dialect, err)
	}
	return nil
}

// Version returns the schema version currently applied to db.
func Version(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	if _, err := dialect.dir(); err != nil {
		return 0, err
	}
	gooseLock.Lock()
	defer gooseLock.Unlock()
	if err := goose.SetDialect(string(dialect)); err != nil {
		return 0, fmt.Errorf("migrations: unable to set dialect %v, cause %w", dialect, err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrations: unable to read schema version, cause %w", err)
	}
	return v, nil
}
