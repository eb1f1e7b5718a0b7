package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	applog "github.com/good-food-maalsi/franchise-service/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the pending migrations owned by this service.
func Migrate(ctx context.Context, database *PostgresDB, logger *zap.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(applog.GooseAdapter{Logger: logger.With(zap.String("component", "migrate"))})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, database.Conn, "migrations"); err != nil {
		return fmt.Errorf("failed to up migrations: %w", err)
	}
	return nil
}
