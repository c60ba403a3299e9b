package postgres

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// GooseRunFunc matches goose.RunContext.
type GooseRunFunc func(ctx context.Context, command string, db *sql.DB, dir string, args ...string) error

func init() {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

// RunMigrations runs a goose command ("up", "down", "status", ...) against the embedded migrations.
func RunMigrations(ctx context.Context, run GooseRunFunc, db *sql.DB, command string, args ...string) error {
	if run == nil {
		run = goose.RunContext
	}
	if err := run(ctx, command, db, migrationsDir, args...); err != nil {
		return errors.Wrapf(err, "goose %s", command)
	}
	return nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	return RunMigrations(ctx, nil, db, "up")
}
