package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore reads the settings table written by the builtin migrations.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore reads through the read pool of store.
func NewSettingsStore(store *Store) *SettingsStore {
	return &SettingsStore{db: store.ReadDB}
}

// Get returns the value stored for key.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// All returns every stored setting.
func (s *SettingsStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Services returns the recorded service manifest as name to tier.
func (s *SettingsStore) Services(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, tier FROM service_manifest ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list service manifest: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, tier string
		if err := rows.Scan(&name, &tier); err != nil {
			return nil, fmt.Errorf("failed to scan service manifest: %w", err)
		}
		out[name] = tier
	}
	return out, rows.Err()
}
