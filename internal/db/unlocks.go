package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/dori/taskgate/internal/model"
)

// GetUnlocks returns every stored unlock record keyed by domain or group key
func (db *DB) GetUnlocks(ctx context.Context) (map[string]model.UnlockRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, unlocked_at, expires_at FROM unlocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	unlocks := make(map[string]model.UnlockRecord)
	for rows.Next() {
		var key, unlockedAt, expiresAt string
		if err := rows.Scan(&key, &unlockedAt, &expiresAt); err != nil {
			return nil, err
		}
		unlocks[key] = model.UnlockRecord{
			UnlockedAt: parseTime(unlockedAt),
			ExpiresAt:  parseTime(expiresAt),
		}
	}
	return unlocks, rows.Err()
}

// PutUnlocks inserts or replaces unlock records
func (db *DB) PutUnlocks(ctx context.Context, records map[string]model.UnlockRecord) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		return putUnlocks(ctx, tx, records)
	})
	if err != nil {
		return err
	}
	db.notify(AreaUnlocks)
	return nil
}

func putUnlocks(ctx context.Context, tx *sql.Tx, records map[string]model.UnlockRecord) error {
	for key, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO unlocks (key, unlocked_at, expires_at) VALUES (?, ?, ?)
		`, key, formatTime(rec.UnlockedAt), formatTime(rec.ExpiresAt))
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteUnlocks removes the given unlock records
func (db *DB) DeleteUnlocks(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := db.ExecContext(ctx, `DELETE FROM unlocks WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return err
	}
	db.notify(AreaUnlocks)
	return nil
}

// AppendTimeLog adds an entry and returns its id
func (db *DB) AppendTimeLog(ctx context.Context, e model.TimeLogEntry) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_log (site, unlocked_at, locked_at, paused, justification)
		VALUES (?, ?, ?, ?, ?)
	`, e.Site, formatTime(e.UnlockedAt), formatTimePtr(e.LockedAt), boolInt(e.Paused), e.Justification)
	if err != nil {
		return 0, err
	}
	db.notify(AreaTimeLog)
	return res.LastInsertId()
}

// CloseTimeLog stamps lockedAt on the most recent open entry of each site.
// It returns how many entries were closed.
func (db *DB) CloseTimeLog(ctx context.Context, sites []string, lockedAt time.Time) (int, error) {
	closed := 0
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, site := range sites {
			res, err := tx.ExecContext(ctx, `
				UPDATE time_log SET locked_at = ?
				WHERE id = (
					SELECT id FROM time_log
					WHERE site = ? AND locked_at IS NULL
					ORDER BY id DESC LIMIT 1
				)
			`, formatTime(lockedAt), site)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			closed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		db.notify(AreaTimeLog)
	}
	return closed, nil
}

// GetTimeLog returns entries unlocked at or after since, oldest first
func (db *DB) GetTimeLog(ctx context.Context, since time.Time) ([]model.TimeLogEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, site, unlocked_at, locked_at, paused, justification
		FROM time_log
		WHERE unlocked_at >= ?
		ORDER BY id
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTimeLog(rows)
}

// PruneTimeLog deletes closed entries that were unlocked before cutoff
func (db *DB) PruneTimeLog(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM time_log WHERE locked_at IS NOT NULL AND unlocked_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.notify(AreaTimeLog)
	}
	return n, nil
}

func scanTimeLog(rows *sql.Rows) ([]model.TimeLogEntry, error) {
	entries := []model.TimeLogEntry{}
	for rows.Next() {
		var e model.TimeLogEntry
		var unlockedAt string
		var lockedAt *string
		var paused int
		if err := rows.Scan(&e.ID, &e.Site, &unlockedAt, &lockedAt, &paused, &e.Justification); err != nil {
			return nil, err
		}
		e.UnlockedAt = parseTime(unlockedAt)
		e.LockedAt = parseTimePtr(lockedAt)
		e.Paused = paused == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// OpenUnlock stores the records of a new unlock window, the time log entry
// that opens it and the registry carrying the new baseline, all or nothing
func (db *DB) OpenUnlock(ctx context.Context, records map[string]model.UnlockRecord, e model.TimeLogEntry, reg *Registry) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := putUnlocks(ctx, tx, records); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO time_log (site, unlocked_at, locked_at, paused, justification)
			VALUES (?, ?, ?, ?, ?)
		`, e.Site, formatTime(e.UnlockedAt), formatTimePtr(e.LockedAt), boolInt(e.Paused), e.Justification)
		if err != nil {
			return err
		}
		return saveRegistry(ctx, tx, reg)
	})
	if err != nil {
		return err
	}
	db.notify(AreaUnlocks, AreaTimeLog, AreaSites, AreaGroups, AreaSiteSettings)
	return nil
}
