package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/dori/taskgate/internal/model"
)

// LoadState reads the full persisted state
func (db *DB) LoadState(ctx context.Context) (*model.State, error) {
	var st model.State
	var err error

	if st.Tasks, err = db.GetTasks(ctx); err != nil {
		return nil, err
	}
	reg, err := db.GetRegistry(ctx)
	if err != nil {
		return nil, err
	}
	st.Sites, st.Groups, st.SiteSettings = reg.Sites, reg.Groups, reg.Settings

	if st.Config, err = db.GetConfig(ctx); err != nil {
		return nil, err
	}
	if st.Streak, err = db.GetStreak(ctx); err != nil {
		return nil, err
	}
	if st.TimeLog, err = db.GetTimeLog(ctx, time.Time{}); err != nil {
		return nil, err
	}
	if st.Unlocks, err = db.GetUnlocks(ctx); err != nil {
		return nil, err
	}
	if st.TaskFilePath, err = db.GetTaskFilePath(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}

// ReplaceState overwrites all persisted state with st in one transaction.
// Backups and alarms are left alone.
func (db *DB) ReplaceState(ctx context.Context, st *model.State) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := saveTasks(ctx, tx, st.Tasks); err != nil {
			return err
		}

		reg := &Registry{Sites: st.Sites, Groups: st.Groups, Settings: st.SiteSettings}
		if err := saveRegistry(ctx, tx, reg); err != nil {
			return err
		}

		if err := putSetting(ctx, tx, keyConfig, st.Config.Normalize()); err != nil {
			return err
		}
		if err := putSetting(ctx, tx, keyStreak, st.Streak); err != nil {
			return err
		}
		if err := putSetting(ctx, tx, keyTaskFile, st.TaskFilePath); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM time_log`); err != nil {
			return err
		}
		for _, e := range st.TimeLog {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO time_log (site, unlocked_at, locked_at, paused, justification)
				VALUES (?, ?, ?, ?, ?)
			`, e.Site, formatTime(e.UnlockedAt), formatTimePtr(e.LockedAt), boolInt(e.Paused), e.Justification)
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM unlocks`); err != nil {
			return err
		}
		return putUnlocks(ctx, tx, st.Unlocks)
	})
	if err != nil {
		return err
	}

	db.notify(AreaTasks, AreaSites, AreaGroups, AreaSiteSettings, AreaConfig,
		AreaStreak, AreaTimeLog, AreaUnlocks, AreaTaskFile)
	return nil
}
