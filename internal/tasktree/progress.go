package tasktree

// Progress counts completed and total leaf descendants of a composite.
// Composite children are descended into rather than counted. If the subtree
// holds no leaves, direct children are counted instead.
func (t *Tree) Progress(id string) (done, total int) {
	i, ok := t.index[id]
	if !ok {
		return 0, 0
	}

	visited := map[int]bool{i: true}
	var walk func(p int)
	walk = func(p int) {
		for _, k := range t.children[p] {
			if visited[k] {
				continue
			}
			visited[k] = true
			if len(t.children[k]) > 0 {
				walk(k)
				continue
			}
			total++
			if t.tasks[k].Completed {
				done++
			}
		}
	}
	walk(i)

	if total == 0 {
		for _, k := range t.children[i] {
			total++
			if t.tasks[k].Completed {
				done++
			}
		}
	}
	return done, total
}
