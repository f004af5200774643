// Package tasktree indexes a flat task list as a parent/child forest and
// keeps composite completion consistent.
//
// Stored task lists are never assumed to be well formed: parent references
// to the task itself or to an unknown id are treated as roots, and every
// traversal carries a visited set so cyclic parent chains terminate.
package tasktree

import (
	"github.com/dori/taskgate/internal/model"
)

// Tree indexes a task slice in place. Mutating methods write through to the
// slice passed to Build.
type Tree struct {
	tasks    []model.Task
	index    map[string]int
	parents  []int
	children [][]int
	roots    []int
}

// Build indexes tasks. Children keep their input order.
func Build(tasks []model.Task) *Tree {
	t := &Tree{
		tasks:    tasks,
		index:    make(map[string]int, len(tasks)),
		parents:  make([]int, len(tasks)),
		children: make([][]int, len(tasks)),
	}

	for i := range tasks {
		if _, dup := t.index[tasks[i].ID]; !dup {
			t.index[tasks[i].ID] = i
		}
	}

	for i := range tasks {
		p := t.resolveParent(i)
		t.parents[i] = p
		if p < 0 {
			t.roots = append(t.roots, i)
		} else {
			t.children[p] = append(t.children[p], i)
		}
	}

	return t
}

func (t *Tree) resolveParent(i int) int {
	pid := t.tasks[i].ParentID
	if pid == nil || *pid == t.tasks[i].ID {
		return -1
	}
	p, ok := t.index[*pid]
	if !ok || p == i {
		return -1
	}
	return p
}

// Tasks returns the indexed slice
func (t *Tree) Tasks() []model.Task {
	return t.tasks
}

// Len returns the number of tasks
func (t *Tree) Len() int {
	return len(t.tasks)
}

// Task returns the task with the given id
func (t *Tree) Task(id string) (*model.Task, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.tasks[i], true
}

// Parent returns the resolved parent of id, or nil for roots
func (t *Tree) Parent(id string) *model.Task {
	i, ok := t.index[id]
	if !ok || t.parents[i] < 0 {
		return nil
	}
	return &t.tasks[t.parents[i]]
}

// Children returns the direct children of id in input order
func (t *Tree) Children(id string) []*model.Task {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	return t.collect(t.children[i])
}

// Roots returns tasks without a (valid) parent in input order
func (t *Tree) Roots() []*model.Task {
	return t.collect(t.roots)
}

// IsComposite reports whether id has at least one child
func (t *Tree) IsComposite(id string) bool {
	i, ok := t.index[id]
	return ok && len(t.children[i]) > 0
}

// RepairParents clears parent references that point at the task itself or
// at a missing task. It returns the number of tasks repaired.
func (t *Tree) RepairParents() int {
	repaired := 0
	for i := range t.tasks {
		if t.tasks[i].ParentID != nil && t.parents[i] < 0 {
			t.tasks[i].ParentID = nil
			repaired++
		}
	}
	return repaired
}

// Descendants returns the ids of every task below id in pre-order
func (t *Tree) Descendants(id string) []string {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var ids []string
	t.walkDown(i, func(j int) {
		if j != i {
			ids = append(ids, t.tasks[j].ID)
		}
	})
	return ids
}

// walkDown visits start and every descendant in pre-order, once each
func (t *Tree) walkDown(start int, visit func(int)) {
	visited := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(i)

		kids := t.children[i]
		for k := len(kids) - 1; k >= 0; k-- {
			if !visited[kids[k]] {
				visited[kids[k]] = true
				stack = append(stack, kids[k])
			}
		}
	}
}

func (t *Tree) collect(idx []int) []*model.Task {
	out := make([]*model.Task, 0, len(idx))
	for _, i := range idx {
		out = append(out, &t.tasks[i])
	}
	return out
}
