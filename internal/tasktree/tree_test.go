package tasktree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dori/taskgate/internal/model"
)

var now = time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)

func ptr(s string) *string { return &s }

func task(id, parent string, completed bool) model.Task {
	t := model.Task{ID: id, Text: "task " + id}
	if parent != "" {
		t.ParentID = ptr(parent)
	}
	if completed {
		t.SetCompleted(true, now.Add(-time.Hour))
	}
	return t
}

func ids(tasks []*model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestBuildPreservesOrder(t *testing.T) {
	tasks := []model.Task{
		task("a", "", false),
		task("b", "a", false),
		task("c", "", false),
		task("d", "a", false),
		task("e", "d", false),
	}
	tree := Build(tasks)

	assert.Equal(t, []string{"a", "c"}, ids(tree.Roots()))
	assert.Equal(t, []string{"b", "d"}, ids(tree.Children("a")))
	assert.Equal(t, []string{"e"}, ids(tree.Children("d")))
	assert.True(t, tree.IsComposite("a"))
	assert.False(t, tree.IsComposite("b"))
	assert.Equal(t, "d", tree.Parent("e").ID)
	assert.Nil(t, tree.Parent("a"))
}

func TestBuildTreatsBadParentsAsRoots(t *testing.T) {
	tasks := []model.Task{
		task("self", "self", false),
		task("orphan", "missing", false),
		task("ok", "", false),
	}
	tree := Build(tasks)

	assert.Equal(t, []string{"self", "orphan", "ok"}, ids(tree.Roots()))
	assert.Equal(t, 2, tree.RepairParents())
	assert.Nil(t, tasks[0].ParentID)
	assert.Nil(t, tasks[1].ParentID)
}

func TestToggleCompletesParentWhenLastChildDone(t *testing.T) {
	tasks := []model.Task{
		task("1", "", false),
		task("2", "1", false),
		task("3", "1", false),
	}
	tree := Build(tasks)

	state, ok := tree.Toggle("2", now)
	require.True(t, ok)
	assert.True(t, state)
	assert.False(t, tasks[0].Completed)

	tree.Toggle("3", now)
	assert.True(t, tasks[0].Completed)
	require.NotNil(t, tasks[0].CompletedAt)

	state, _ = tree.Toggle("1", now)
	assert.False(t, state)
	for _, tk := range tasks {
		assert.False(t, tk.Completed, tk.ID)
		assert.Nil(t, tk.CompletedAt, tk.ID)
	}
}

func TestToggleCompletesAncestorsTransitively(t *testing.T) {
	tasks := []model.Task{
		task("root", "", false),
		task("mid", "root", false),
		task("sibling", "root", true),
		task("leaf1", "mid", true),
		task("leaf2", "mid", false),
	}
	tree := Build(tasks)

	tree.SetCompleted("leaf2", true, now)

	mid, _ := tree.Task("mid")
	root, _ := tree.Task("root")
	assert.True(t, mid.Completed)
	assert.True(t, root.Completed)
	assert.Equal(t, now, *root.CompletedAt)
}

func TestUncompleteChildClearsStaleParentTimestamp(t *testing.T) {
	tasks := []model.Task{
		task("p", "", false),
		task("c1", "p", true),
		task("c2", "p", false),
	}
	stale := now.Add(-48 * time.Hour)
	tasks[0].CompletedAt = &stale

	tree := Build(tasks)
	tree.SetCompleted("c1", false, now)

	assert.False(t, tasks[0].Completed)
	assert.Nil(t, tasks[0].CompletedAt)
}

func TestCyclesTerminate(t *testing.T) {
	tasks := []model.Task{
		task("a", "b", false),
		task("b", "c", false),
		task("c", "a", false),
		task("leaf", "a", false),
	}
	tree := Build(tasks)

	assert.Empty(t, tree.Roots())
	assert.True(t, tree.SetCompleted("leaf", true, now))
	tree.Toggle("b", now)
	tree.SyncCompositeCompletion(now)

	done, total := tree.Progress("a")
	assert.LessOrEqual(t, done, total)
	assert.NotEmpty(t, tree.Descendants("a"))

	kept, ok := Delete(tasks, "a", now)
	assert.True(t, ok)
	assert.Empty(t, kept)
}

func TestSyncCompositeCompletionIsIdempotent(t *testing.T) {
	cases := map[string][]model.Task{
		"nested": {
			task("r", "", false),
			task("m", "r", false),
			task("l1", "m", true),
			task("l2", "m", true),
			task("l3", "r", true),
		},
		"stale composite": {
			task("r", "", true),
			task("l1", "r", false),
		},
		"cycle": {
			task("a", "b", true),
			task("b", "a", false),
			task("x", "a", true),
		},
		"flat": {
			task("a", "", true),
			task("b", "", false),
		},
	}

	for name, tasks := range cases {
		t.Run(name, func(t *testing.T) {
			Build(tasks).SyncCompositeCompletion(now)
			snapshot := append([]model.Task(nil), tasks...)

			changed := Build(tasks).SyncCompositeCompletion(now.Add(time.Minute))
			assert.False(t, changed)
			assert.Equal(t, snapshot, tasks)
		})
	}
}

func TestSyncCompositeCompletionDerivesFromChildren(t *testing.T) {
	tasks := []model.Task{
		task("r", "", false),
		task("m", "r", false),
		task("l1", "m", true),
		task("l2", "m", true),
		task("l3", "r", true),
	}
	changed := Build(tasks).SyncCompositeCompletion(now)

	assert.True(t, changed)
	assert.True(t, tasks[0].Completed)
	assert.True(t, tasks[1].Completed)
}

func TestProgressCountsLeavesOnly(t *testing.T) {
	tasks := []model.Task{
		task("r", "", false),
		task("m", "r", false),
		task("l1", "m", true),
		task("l2", "m", false),
		task("l3", "r", true),
	}
	done, total := Build(tasks).Progress("r")
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
}

func TestProgressFallsBackToDirectChildren(t *testing.T) {
	// a and b point at each other, so a's subtree never reaches a leaf
	tasks := []model.Task{
		task("a", "b", false),
		task("b", "a", true),
	}
	done, total := Build(tasks).Progress("a")
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
}

func TestDeleteRemovesSubtree(t *testing.T) {
	tasks := []model.Task{
		task("r", "", false),
		task("c1", "r", true),
		task("c2", "r", false),
		task("g", "c2", false),
		task("other", "", false),
	}
	kept, ok := Delete(tasks, "c2", now)
	require.True(t, ok)

	got := make([]string, 0, len(kept))
	for _, k := range kept {
		got = append(got, k.ID)
	}
	assert.Equal(t, []string{"r", "c1", "other"}, got)
	assert.True(t, kept[0].Completed, "remaining child is done so parent completes")

	_, ok = Delete(kept, "nope", now)
	assert.False(t, ok)
}

func TestInsertPlacesSubtaskAfterSiblings(t *testing.T) {
	tasks := []model.Task{
		task("r", "", true),
		task("c1", "r", true),
		task("other", "", false),
	}
	out := Insert(tasks, task("c2", "r", false), now)

	got := make([]string, 0, len(out))
	for _, k := range out {
		got = append(got, k.ID)
	}
	assert.Equal(t, []string{"r", "c1", "c2", "other"}, got)
	assert.False(t, out[0].Completed, "new incomplete subtask reopens parent")
}

func TestResetRecurring(t *testing.T) {
	yesterday := now.AddDate(0, 0, -1)
	lastWeek := now.AddDate(0, 0, -8)
	earlierToday := now.Add(-time.Hour)

	daily := task("daily", "", false)
	daily.Recurring = model.RecurDaily
	daily.SetCompleted(true, yesterday)

	dailyToday := task("dailyToday", "", false)
	dailyToday.Recurring = model.RecurDaily
	dailyToday.SetCompleted(true, earlierToday)

	weekly := task("weekly", "", false)
	weekly.Recurring = model.RecurWeekly
	weekly.SetCompleted(true, lastWeek)

	plain := task("plain", "", false)
	plain.SetCompleted(true, lastWeek)

	tasks := []model.Task{daily, dailyToday, weekly, plain}
	assert.True(t, ResetRecurring(tasks, now))

	assert.False(t, tasks[0].Completed)
	assert.True(t, tasks[1].Completed)
	assert.False(t, tasks[2].Completed)
	assert.True(t, tasks[3].Completed)

	assert.False(t, ResetRecurring(tasks, now))
}

func TestStartOfWeekIsMonday(t *testing.T) {
	// 2026-03-11 is a Wednesday
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), StartOfWeek(now))
	sunday := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), StartOfWeek(sunday))
}
