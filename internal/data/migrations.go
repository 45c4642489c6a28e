package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/orderguard/orderguard/internal/migrate"
)

// RunMigrations applies the embedded schema and returns how many migrations ran.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) (int, error) {
	return migrate.Run(ctx, db, logger)
}
