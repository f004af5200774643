package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dori/taskgate/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

var stamp = time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.UTC)

func TestTasksRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tasks := []model.Task{
		{ID: "b", Text: "second id, first position", Section: "Work"},
		{ID: "a", Text: "child", ParentID: strp("b"), Completed: true, CompletedAt: &stamp,
			DueDate: strp("2026-05-02"), Recurring: model.RecurDaily},
		{ID: "c", Text: "dangling", ParentID: strp("gone")},
	}
	require.NoError(t, db.SaveTasks(ctx, tasks))

	got, err := db.GetTasks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "Work", got[0].Section)
	assert.True(t, got[1].Completed)
	assert.True(t, stamp.Equal(*got[1].CompletedAt))
	assert.Equal(t, model.RecurDaily, got[1].Recurring)
	assert.Equal(t, "gone", *got[2].ParentID, "storage keeps references as given")

	require.NoError(t, db.SaveTasks(ctx, tasks[:1]))
	got, err = db.GetTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveTasksDropsTimestampOfIncompleteTask(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.SaveTasks(ctx, []model.Task{{ID: "x", CompletedAt: &stamp}}))
	got, err := db.GetTasks(ctx)
	require.NoError(t, err)
	assert.Nil(t, got[0].CompletedAt)
}

// Member lookups must not run while the group rows are still open: the
// pool holds a single connection and would deadlock.
func TestRegistryRoundTripNoDeadlock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	reg := &Registry{
		Sites: []string{"a.com", "b.com", "c.com"},
		Groups: []model.Group{
			{ID: "g1", Name: "Social", Sites: []string{"a.com", "b.com"}, Cost: intp(2), CostBaseline: 4},
			{ID: "g2", Name: "News", Sites: []string{"c.com"}, LastLockedAt: &stamp},
		},
		Settings: map[string]model.SiteSettings{"c.com": {Cost: intp(1), CostBaseline: 3}},
	}
	require.NoError(t, db.SaveRegistry(ctx, reg))

	done := make(chan *Registry, 1)
	go func() {
		got, err := db.GetRegistry(ctx)
		assert.NoError(t, err)
		done <- got
	}()

	select {
	case got := <-done:
		require.NotNil(t, got)
		assert.Equal(t, reg.Sites, got.Sites)
		require.Len(t, got.Groups, 2)
		assert.Equal(t, []string{"a.com", "b.com"}, got.Groups[0].Sites)
		assert.Equal(t, 2, *got.Groups[0].Cost)
		assert.Equal(t, 4, got.Groups[0].CostBaseline)
		assert.Nil(t, got.Groups[1].Cost)
		assert.True(t, stamp.Equal(*got.Groups[1].LastLockedAt))
		assert.Equal(t, 3, got.Settings["c.com"].CostBaseline)
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out - possible deadlock detected")
	}
}

func TestRegistryIgnoresDoubleMembership(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	reg := &Registry{
		Sites: []string{"a.com"},
		Groups: []model.Group{
			{ID: "g1", Name: "One", Sites: []string{"a.com"}},
			{ID: "g2", Name: "Two", Sites: []string{"a.com"}},
		},
	}
	require.NoError(t, db.SaveRegistry(ctx, reg))

	got, err := db.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com"}, got.Groups[0].Sites)
	assert.Empty(t, got.Groups[1].Sites)
}

func TestUnlocksAndTimeLog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rec := model.UnlockRecord{UnlockedAt: stamp, ExpiresAt: stamp.Add(30 * time.Minute)}
	require.NoError(t, db.PutUnlocks(ctx, map[string]model.UnlockRecord{
		"a.com":    rec,
		"group:g1": rec,
	}))

	unlocks, err := db.GetUnlocks(ctx)
	require.NoError(t, err)
	assert.Len(t, unlocks, 2)
	assert.True(t, rec.ExpiresAt.Equal(unlocks["group:g1"].ExpiresAt))

	require.NoError(t, db.DeleteUnlocks(ctx, "a.com", "group:g1"))
	unlocks, err = db.GetUnlocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	_, err = db.AppendTimeLog(ctx, model.TimeLogEntry{Site: "a.com", UnlockedAt: stamp})
	require.NoError(t, err)
	_, err = db.AppendTimeLog(ctx, model.TimeLogEntry{Site: "a.com", UnlockedAt: stamp.Add(time.Minute), Paused: true, Justification: "why"})
	require.NoError(t, err)

	closed, err := db.CloseTimeLog(ctx, []string{"a.com", "b.com"}, stamp.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	entries, err := db.GetTimeLog(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].LockedAt, "only the most recent open entry is closed")
	require.NotNil(t, entries[1].LockedAt)
	assert.True(t, entries[1].Paused)
	assert.Equal(t, "why", entries[1].Justification)

	pruned, err := db.PruneTimeLog(ctx, stamp.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestOpenUnlock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var areas []Area
	db.OnChange(func(a Area) { areas = append(areas, a) })

	reg := &Registry{
		Sites:    []string{"a.com"},
		Settings: map[string]model.SiteSettings{"a.com": {Cost: intp(2), CostBaseline: 3}},
	}
	rec := model.UnlockRecord{UnlockedAt: stamp, ExpiresAt: stamp.Add(5 * time.Minute)}
	require.NoError(t, db.OpenUnlock(ctx, map[string]model.UnlockRecord{"a.com": rec},
		model.TimeLogEntry{Site: "a.com", UnlockedAt: stamp, Paused: true, Justification: "why"}, reg))

	unlocks, err := db.GetUnlocks(ctx)
	require.NoError(t, err)
	assert.Contains(t, unlocks, "a.com")
	entries, err := db.GetTimeLog(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsRunning())
	got, err := db.GetRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Settings["a.com"].CostBaseline)
	assert.Contains(t, areas, AreaUnlocks)
	assert.Contains(t, areas, AreaTimeLog)

	// nothing is written when the transaction can't run
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, db.OpenUnlock(cancelled, map[string]model.UnlockRecord{"b.com": rec},
		model.TimeLogEntry{Site: "b.com", UnlockedAt: stamp}, reg))
	unlocks, err = db.GetUnlocks(ctx)
	require.NoError(t, err)
	assert.NotContains(t, unlocks, "b.com")
	entries, err = db.GetTimeLog(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfigDefaultsAndCorruption(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg, err := db.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)

	_, err = db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES ('config', '{"cooldownMinutes":-4,"unlockMode":"bogus"')`)
	require.NoError(t, err)
	cfg, err = db.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConfig(), cfg)

	require.NoError(t, db.SaveConfig(ctx, model.Config{CooldownMinutes: 10, UnlockMode: model.UnlockSection, UnlockSection: " Work "}))
	cfg, err = db.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.CooldownMinutes)
	assert.Equal(t, "Work", cfg.UnlockSection)
}

func TestBackupRing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i := 0; i < 7; i++ {
		entry := model.BackupEntry{
			ID:        fmt.Sprintf("b%d", i),
			CreatedAt: stamp.Add(time.Duration(i) * time.Minute),
			Snapshot:  model.State{Sites: []string{fmt.Sprintf("s%d.com", i)}},
		}
		require.NoError(t, db.PushBackup(ctx, entry, 5))
	}

	backups, err := db.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.Equal(t, "b6", backups[0].ID)
	assert.Equal(t, "b2", backups[4].ID)
	assert.Equal(t, []string{"s6.com"}, backups[0].Snapshot.Sites)
}

func TestReplaceAndLoadState(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var changed []Area
	db.OnChange(func(a Area) { changed = append(changed, a) })

	st := &model.State{
		Sites:        []string{"a.com"},
		Tasks:        []model.Task{{ID: "t1", Text: "one"}},
		Config:       model.Config{CooldownMinutes: 15, UnlockMode: model.UnlockAll},
		Streak:       model.Streak{Current: 2, Longest: 5, LastDate: strp("2026-04-30")},
		TimeLog:      []model.TimeLogEntry{{Site: "a.com", UnlockedAt: stamp}},
		Unlocks:      map[string]model.UnlockRecord{"a.com": {UnlockedAt: stamp, ExpiresAt: stamp.Add(time.Hour)}},
		Groups:       []model.Group{},
		SiteSettings: map[string]model.SiteSettings{},
		TaskFilePath: "/home/me/tasks.md",
	}
	require.NoError(t, db.ReplaceState(ctx, st))
	assert.Contains(t, changed, AreaTasks)
	assert.Contains(t, changed, AreaUnlocks)

	got, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Sites, got.Sites)
	assert.Equal(t, st.Tasks, got.Tasks)
	assert.Equal(t, st.Config, got.Config)
	assert.Equal(t, st.Streak, got.Streak)
	assert.Equal(t, "/home/me/tasks.md", got.TaskFilePath)
	assert.Len(t, got.TimeLog, 1)
	assert.Len(t, got.Unlocks, 1)
}

func TestAlarms(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.PutAlarm(ctx, "a.com", stamp))
	require.NoError(t, db.PutAlarm(ctx, "a.com", stamp.Add(time.Minute)))
	require.NoError(t, db.PutAlarm(ctx, "group:g", stamp))

	alarms, err := db.ListAlarms(ctx)
	require.NoError(t, err)
	assert.Len(t, alarms, 2)
	assert.True(t, stamp.Add(time.Minute).Equal(alarms["a.com"]))

	require.NoError(t, db.DeleteAlarm(ctx, "a.com"))
	alarms, err = db.ListAlarms(ctx)
	require.NoError(t, err)
	assert.Len(t, alarms, 1)
}
