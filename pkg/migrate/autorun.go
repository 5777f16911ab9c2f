package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnloop/coursemarket-backend/pkg/config"
	"github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations on boot when running in dev with
// COURSEMARKET_AUTO_MIGRATE enabled. Postgres only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.Driver == config.DriverSQLite {
		logg.Warn(ctx, "auto-migrate skipped: migrations target postgres")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	fsys, err := Source("")
	if err != nil {
		return err
	}

	var applied strings.Builder
	if err := Run(ctx, sqlDB, cfg.DB.Driver, fsys, "up", &applied); err != nil {
		return err
	}
	ctx = logg.WithField(ctx, "applied", strings.Count(applied.String(), "\n"))
	logg.Info(ctx, "dev migrations applied")
	return nil
}
