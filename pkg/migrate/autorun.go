package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pickup-checkout/pkg/config"
	"github.com/angelmondragon/pickup-checkout/pkg/db"
	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

// MaybeRunDev prepares the schema before a process starts serving. The
// embedded sqlite store is always auto-migrated from the models; postgres
// runs the goose migrations only in dev with the feature flag enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.DB.IsSQLite() {
		return AutoMigrateModels(ctx, logg, client)
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	logg.Info(ctx, "running Goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateModels creates the coupon, order and outbox tables from the gorm
// models. The LISTEN/NOTIFY trigger only exists in the goose migrations.
func AutoMigrateModels(ctx context.Context, logg *logger.Logger, client *db.Client) error {
	if err := client.DB().WithContext(ctx).AutoMigrate(&models.Coupon{}, &models.Order{}, &models.OutboxEvent{}); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "document store schema auto-migrated")
	}
	return nil
}
