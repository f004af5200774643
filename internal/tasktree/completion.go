package tasktree

import (
	"time"
)

// SetCompleted sets the completion of id and every descendant, then
// recomputes each ancestor from its direct children. It returns false if
// the id is unknown.
func (t *Tree) SetCompleted(id string, completed bool, now time.Time) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}

	t.walkDown(i, func(j int) {
		t.tasks[j].SetCompleted(completed, now)
	})
	t.propagateUp(i, now)
	return true
}

// Toggle flips the completion of id. It returns the new state.
func (t *Tree) Toggle(id string, now time.Time) (bool, bool) {
	task, ok := t.Task(id)
	if !ok {
		return false, false
	}
	completed := !task.Completed
	t.SetCompleted(id, completed, now)
	return completed, true
}

func (t *Tree) propagateUp(from int, now time.Time) {
	visited := map[int]bool{from: true}
	for p := t.parents[from]; p >= 0 && !visited[p]; p = t.parents[p] {
		visited[p] = true
		t.recompute(p, now)
	}
}

// recompute derives a composite's completion from its direct children and
// reports whether anything changed. Incomplete composites always lose their
// timestamp so a stale CompletedAt can't survive.
func (t *Tree) recompute(i int, now time.Time) bool {
	kids := t.children[i]
	if len(kids) == 0 {
		return false
	}

	all := true
	for _, k := range kids {
		if !t.tasks[k].Completed {
			all = false
			break
		}
	}

	task := &t.tasks[i]
	if all {
		if task.Completed {
			return false
		}
		task.SetCompleted(true, now)
		return true
	}

	changed := task.Completed || task.CompletedAt != nil
	task.SetCompleted(false, now)
	return changed
}

// SyncCompositeCompletion recomputes every composite from its children in
// post-order. Use it after bulk edits. Running it twice in a row changes
// nothing the second time. It reports whether any task changed.
func (t *Tree) SyncCompositeCompletion(now time.Time) bool {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]uint8, len(t.tasks))
	changed := false

	var visit func(i int)
	visit = func(i int) {
		state[i] = active
		for _, k := range t.children[i] {
			if state[k] == unvisited {
				visit(k)
			}
		}
		if t.recompute(i, now) {
			changed = true
		}
		state[i] = done
	}

	for _, r := range t.roots {
		if state[r] == unvisited {
			visit(r)
		}
	}
	// Tasks caught in a parent cycle are unreachable from any root.
	for i := range t.tasks {
		if state[i] == unvisited {
			visit(i)
		}
	}
	return changed
}

// CompletedCount returns the number of completed tasks
func (t *Tree) CompletedCount() int {
	n := 0
	for i := range t.tasks {
		if t.tasks[i].Completed {
			n++
		}
	}
	return n
}
