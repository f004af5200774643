package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dori/taskgate/internal/model"
)

// PushBackup stores entry as the newest backup and trims the ring to keep
// at most capacity entries.
func (db *DB) PushBackup(ctx context.Context, entry model.BackupEntry, capacity int) error {
	raw, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backups (id, created_at, snapshot) VALUES (?, ?, ?)
		`, entry.ID, formatTime(entry.CreatedAt), string(raw))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM backups WHERE id NOT IN (
				SELECT id FROM backups ORDER BY created_at DESC, rowid DESC LIMIT ?
			)
		`, capacity)
		return err
	})
	if err != nil {
		return err
	}
	db.notify(AreaBackups)
	return nil
}

// ListBackups returns stored backups, newest first. Entries whose snapshot
// can't be decoded are skipped.
func (db *DB) ListBackups(ctx context.Context) ([]model.BackupEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, snapshot FROM backups ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.BackupEntry{}
	for rows.Next() {
		var e model.BackupEntry
		var createdAt, raw string
		if err := rows.Scan(&e.ID, &createdAt, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Snapshot); err != nil {
			continue
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
