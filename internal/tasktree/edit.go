package tasktree

import (
	"time"

	"github.com/dori/taskgate/internal/model"
)

// Delete removes id and its whole subtree, returning a new slice. Composite
// completion is resynced on the result.
func Delete(tasks []model.Task, id string, now time.Time) ([]model.Task, bool) {
	t := Build(tasks)
	i, ok := t.index[id]
	if !ok {
		return tasks, false
	}

	doomed := make(map[int]bool)
	t.walkDown(i, func(j int) { doomed[j] = true })

	kept := make([]model.Task, 0, len(tasks)-len(doomed))
	for j := range tasks {
		if !doomed[j] {
			kept = append(kept, tasks[j])
		}
	}
	Build(kept).SyncCompositeCompletion(now)
	return kept, true
}

// Insert appends task, placing it after the last existing descendant of its
// parent so siblings stay in order, then resyncs composite completion.
func Insert(tasks []model.Task, task model.Task, now time.Time) []model.Task {
	pos := len(tasks)
	if parent := task.ParentRef(); parent != "" {
		t := Build(tasks)
		if i, ok := t.index[parent]; ok {
			last := i
			t.walkDown(i, func(j int) {
				if j > last {
					last = j
				}
			})
			pos = last + 1
		}
	}

	out := make([]model.Task, 0, len(tasks)+1)
	out = append(out, tasks[:pos]...)
	out = append(out, task)
	out = append(out, tasks[pos:]...)

	Build(out).SyncCompositeCompletion(now)
	return out
}

// ResetRecurring clears completion of recurring tasks completed before the
// current period (today for daily, this ISO week for weekly) along with
// their subtrees. It reports whether anything was reset.
func ResetRecurring(tasks []model.Task, now time.Time) bool {
	t := Build(tasks)
	dayStart := StartOfDay(now)
	weekStart := StartOfWeek(now)

	changed := false
	for i := range tasks {
		task := &tasks[i]
		if !task.Completed || task.CompletedAt == nil {
			continue
		}

		var boundary time.Time
		switch task.Recurring {
		case model.RecurDaily:
			boundary = dayStart
		case model.RecurWeekly:
			boundary = weekStart
		default:
			continue
		}

		if task.CompletedAt.Before(boundary) {
			t.walkDown(i, func(j int) {
				tasks[j].SetCompleted(false, now)
			})
			changed = true
		}
	}

	if changed {
		t.SyncCompositeCompletion(now)
	}
	return changed
}

// StartOfDay returns local midnight of now's day
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// StartOfWeek returns local midnight of the Monday of now's week
func StartOfWeek(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	return StartOfDay(now).AddDate(0, 0, -offset)
}
