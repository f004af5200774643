package db

import (
	"context"
	"time"
)

// PutAlarm persists an alarm, replacing any alarm with the same name
func (db *DB) PutAlarm(ctx context.Context, name string, fireAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alarms (name, fire_at) VALUES (?, ?)
	`, name, formatTime(fireAt))
	return err
}

// DeleteAlarm removes an alarm by name
func (db *DB) DeleteAlarm(ctx context.Context, name string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM alarms WHERE name = ?`, name)
	return err
}

// ListAlarms returns every persisted alarm
func (db *DB) ListAlarms(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, fire_at FROM alarms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alarms := make(map[string]time.Time)
	for rows.Next() {
		var name, fireAt string
		if err := rows.Scan(&name, &fireAt); err != nil {
			return nil, err
		}
		alarms[name] = parseTime(fireAt)
	}
	return alarms, rows.Err()
}
