package storage

import (
	"context"
	"fmt"
	"time"

	"stageboot/config"
)

// TierLookup is implemented by service lookups that know each service's tier.
type TierLookup interface {
	TierOf(name string) string
}

// BuiltinMigrations returns the migrations every deployment carries, in
// declaration order.
func BuiltinMigrations() []Migration {
	return []Migration{
		{
			Name:        "create_settings_table",
			Stage:       PreInit,
			Description: "Create settings key/value table",
			Up: func(ctx context.Context, mc *MigrationContext) error {
				_, err := mc.Tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS settings (
						key TEXT PRIMARY KEY,
						value TEXT NOT NULL,
						updated_at DATETIME NOT NULL
					)
				`)
				return err
			},
		},
		{
			Name:        "create_service_manifest_table",
			Stage:       PreInit,
			Description: "Create service manifest table",
			Up: func(ctx context.Context, mc *MigrationContext) error {
				_, err := mc.Tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS service_manifest (
						name TEXT PRIMARY KEY,
						tier TEXT NOT NULL,
						run_id TEXT NOT NULL,
						registered_at DATETIME NOT NULL
					)
				`)
				return err
			},
		},
		{
			Name:        "seed_settings_from_context",
			Stage:       CoreInit,
			Description: "Snapshot non-secret configuration into settings",
			Up:          seedSettings,
		},
		{
			Name:        "record_service_manifest",
			Stage:       AppInit,
			Description: "Record the services wired by the first successful run",
			Up:          recordServiceManifest,
		},
	}
}

// RegisterBuiltinMigrations declares BuiltinMigrations on r.
func RegisterBuiltinMigrations(r *Runner) error {
	for _, m := range BuiltinMigrations() {
		if err := r.Register(m); err != nil {
			return fmt.Errorf("failed to register builtin migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func seedSettings(ctx context.Context, mc *MigrationContext) error {
	if mc.Config == nil {
		mc.Logger.Warnw("No bootstrap context, settings not seeded")
		return nil
	}

	stmt, err := mc.Tx.PrepareContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare settings insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	seeded := 0
	values := mc.Config.Values()
	for _, key := range mc.Config.Keys() {
		if config.IsSensitiveKey(key) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, values[key], now); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
		seeded++
	}
	mc.Logger.Infow("Seeded settings", "count", seeded)
	return nil
}

func recordServiceManifest(ctx context.Context, mc *MigrationContext) error {
	if mc.Services == nil {
		return fmt.Errorf("service lookup not available in %s", mc.Stage)
	}
	runID := ""
	if mc.Config != nil {
		runID = mc.Config.RunID()
	}
	tiers, _ := mc.Services.(TierLookup)

	now := time.Now().UTC()
	for _, name := range mc.Services.Names() {
		tier := "unknown"
		if tiers != nil {
			tier = tiers.TierOf(name)
		}
		if _, err := mc.Tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO service_manifest (name, tier, run_id, registered_at)
			VALUES (?, ?, ?, ?)
		`, name, tier, runID, now); err != nil {
			return fmt.Errorf("failed to record service %s: %w", name, err)
		}
	}
	return nil
}
