package main

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/requirement"
	"github.com/dori/taskgate/internal/tasktree"
)

const (
	watchThrottle = 250 * time.Millisecond
	watchRefresh  = 30 * time.Second
	clearScreen   = "\033[H\033[2J"
)

func newStatusCmd(c *cli) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show blocked sites, tasks and the unlock requirement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !watch {
				return c.printStatus(cmd, cmd.OutOrStdout(), false)
			}
			return c.watchStatus(cmd)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redraw whenever the state changes")
	return cmd
}

func (c *cli) printStatus(cmd *cobra.Command, w io.Writer, redraw bool) error {
	var out struct {
		State gate.View `json:"state"`
	}
	if err := c.call(cmd, http.MethodGet, "/api/state", nil, &out); err != nil {
		return err
	}
	if redraw {
		fmt.Fprint(w, clearScreen)
	}
	fmt.Fprint(w, renderStatus(&out.State, time.Now()))
	return nil
}

// watchStatus redraws when the daemon writes its database
func (c *cli) watchStatus(cmd *cobra.Command) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.cfg.DataDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.cfg.DataDir, err)
	}
	dbName := filepath.Base(c.cfg.DBPath())

	out := cmd.OutOrStdout()
	if err := c.printStatus(cmd, out, true); err != nil {
		return err
	}

	refresh := time.NewTicker(watchRefresh)
	defer refresh.Stop()
	var throttle <-chan time.Time

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), dbName) || !ev.Has(fsnotify.Write) {
				continue
			}
			if throttle == nil {
				throttle = time.After(watchThrottle)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch failed: %w", err)
		case <-throttle:
			throttle = nil
			if err := c.printStatus(cmd, out, true); err != nil {
				fmt.Fprintf(out, "%s\n", err)
			}
		case <-refresh.C:
			if err := c.printStatus(cmd, out, true); err != nil {
				fmt.Fprintf(out, "%s\n", err)
			}
		}
	}
}

func renderStatus(v *gate.View, now time.Time) string {
	st := newStyles()
	var b strings.Builder

	b.WriteString(st.Header.Render("Blocked sites"))
	b.WriteString("\n")
	if len(v.Sites) == 0 {
		b.WriteString(st.Subtle.Render("  none"))
		b.WriteString("\n")
	}
	for _, s := range v.Sites {
		state := st.Locked.Render("locked")
		detail := requirementLine(s.Requirement)
		if s.State == gate.Unlocked && s.ExpiresAt != nil {
			state = st.Unlocked.Render("open")
			detail = fmt.Sprintf("%s left", formatRemaining(s.ExpiresAt.Sub(now)))
		}
		name := s.Site
		if s.GroupName != "" {
			name += st.Subtle.Render(" [" + s.GroupName + "]")
		}
		fmt.Fprintf(&b, "  %-8s %s  %s\n", state, name, st.Subtle.Render(detail))
	}
	b.WriteString("\n")

	req := v.Requirement
	reqStyle := st.Pending
	if req.Ready {
		reqStyle = st.Ready
	}
	b.WriteString(st.Header.Render("Requirement"))
	b.WriteString("  ")
	b.WriteString(reqStyle.Render(requirementLine(req)))
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s  %d day(s), best %d\n\n", st.Header.Render("Streak"), v.Streak.Current, v.Streak.Longest)

	b.WriteString(renderTasks(v.Tasks, now))
	return b.String()
}

func requirementLine(r requirement.Result) string {
	switch {
	case r.Mode == requirement.ModeCost:
		return fmt.Sprintf("%d/%d tasks toward cost", r.Done, r.Total)
	case r.Empty && r.Mode == requirement.ModeSection:
		return fmt.Sprintf("section %q has no tasks", r.Section)
	case r.Empty:
		return "no tasks yet"
	case r.Mode == requirement.ModeSection:
		return fmt.Sprintf("%d/%d done in %s", r.Done, r.Total, r.Section)
	default:
		return fmt.Sprintf("%d/%d done", r.Done, r.Total)
	}
}

// renderTasks prints the task forest grouped by section
func renderTasks(tasks []model.Task, now time.Time) string {
	st := newStyles()
	tree := tasktree.Build(tasks)

	bySection := map[string][]*model.Task{}
	var sections []string
	for _, t := range tree.Roots() {
		name := t.SectionName()
		if _, ok := bySection[name]; !ok {
			sections = append(sections, name)
		}
		bySection[name] = append(bySection[name], t)
	}
	slices.Sort(sections)

	var b strings.Builder
	if len(sections) == 0 {
		b.WriteString(st.Subtle.Render("No tasks"))
		b.WriteString("\n")
		return b.String()
	}
	for _, name := range sections {
		b.WriteString(st.Section.Render(name))
		b.WriteString("\n")
		for _, t := range bySection[name] {
			writeTask(&b, st, tree, t, 1, now)
		}
	}
	return b.String()
}

func writeTask(b *strings.Builder, st styles, tree *tasktree.Tree, t *model.Task, depth int, now time.Time) {
	box, text := "[ ]", t.Text
	if t.Completed {
		box = "[x]"
		text = st.TaskDone.Render(text)
	}
	line := fmt.Sprintf("%s%s %s %s", strings.Repeat("  ", depth), st.Subtle.Render(shortID(t.ID)), box, text)
	if tree.IsComposite(t.ID) {
		done, total := tree.Progress(t.ID)
		line += " " + st.Subtle.Render(fmt.Sprintf("%d/%d", done, total))
	}
	if t.DueDate != nil {
		due := "due " + *t.DueDate
		if t.IsOverdue(now) {
			line += " " + st.Overdue.Render(due)
		} else {
			line += " " + st.Subtle.Render(due)
		}
	}
	if t.Recurring != model.RecurNone {
		line += " " + st.Subtle.Render("("+string(t.Recurring)+")")
	}
	b.WriteString(line)
	b.WriteString("\n")
	for _, child := range tree.Children(t.ID) {
		writeTask(b, st, tree, child, depth+1, now)
	}
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
