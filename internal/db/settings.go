package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/dori/taskgate/internal/model"
)

const (
	keyConfig   = "config"
	keyStreak   = "streak"
	keyTaskFile = "task_file_path"
)

// GetConfig returns the unlock configuration, normalized. A missing or
// corrupt record yields the defaults.
func (db *DB) GetConfig(ctx context.Context) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := db.getSetting(ctx, keyConfig, &cfg); err != nil && !errors.Is(err, errCorrupt) {
		return model.Config{}, err
	}
	return cfg.Normalize(), nil
}

// SaveConfig stores the unlock configuration
func (db *DB) SaveConfig(ctx context.Context, cfg model.Config) error {
	return db.putSetting(ctx, keyConfig, cfg.Normalize(), AreaConfig)
}

// GetStreak returns the stored streak, zero if none
func (db *DB) GetStreak(ctx context.Context) (model.Streak, error) {
	var s model.Streak
	if err := db.getSetting(ctx, keyStreak, &s); err != nil && !errors.Is(err, errCorrupt) {
		return model.Streak{}, err
	}
	return s, nil
}

// SaveStreak stores the streak
func (db *DB) SaveStreak(ctx context.Context, s model.Streak) error {
	return db.putSetting(ctx, keyStreak, s, AreaStreak)
}

// GetTaskFilePath returns the device-local task file path, "" if unset
func (db *DB) GetTaskFilePath(ctx context.Context) (string, error) {
	var path string
	if err := db.getSetting(ctx, keyTaskFile, &path); err != nil && !errors.Is(err, errCorrupt) {
		return "", err
	}
	return path, nil
}

// SetTaskFilePath stores the device-local task file path
func (db *DB) SetTaskFilePath(ctx context.Context, path string) error {
	return db.putSetting(ctx, keyTaskFile, path, AreaTaskFile)
}

var errCorrupt = errors.New("corrupt setting")

// getSetting decodes key into dst. Missing keys leave dst untouched.
func (db *DB) getSetting(ctx context.Context, key string, dst any) error {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errCorrupt
	}
	return nil
}

func (db *DB) putSetting(ctx context.Context, key string, value any, area Area) error {
	if err := putSetting(ctx, db.DB, key, value); err != nil {
		return err
	}
	db.notify(area)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSetting(ctx context.Context, ex execer, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, string(raw))
	return err
}
