package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationDir = "migrations"

// Migrate runs the embedded goose migrations against the pool. Supported
// commands are up, down and status.
func Migrate(ctx context.Context, pool *pgxpool.Pool, command string) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	database := stdlib.OpenDBFromPool(pool)
	defer database.Close()

	switch command {
	case "up", "":
		return goose.UpContext(ctx, database, migrationDir)
	case "down":
		return goose.DownContext(ctx, database, migrationDir)
	case "status":
		return goose.StatusContext(ctx, database, migrationDir)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
