package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
)

func newTaskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the task list",
	}
	cmd.AddCommand(
		newTaskAddCmd(c),
		newTaskListCmd(c),
		newTaskToggleCmd(c),
		newTaskRemoveCmd(c),
		newTaskEditCmd(c),
	)
	return cmd
}

func newTaskAddCmd(c *cli) *cobra.Command {
	var in gate.NewTask
	var due, recur string

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a task",
		Example: `  taskgate task add "Write report"
  taskgate task add "Outline" --parent 3f2a --due "next friday"
  taskgate task add "Stretch" --section Health --recur daily`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Text = strings.Join(args, " ")
			d, err := parseDue(due, time.Now())
			if err != nil {
				return err
			}
			in.DueDate = d
			in.Recurring = model.Recurrence(recur)
			if in.ParentID != "" {
				if in.ParentID, err = c.resolveTask(cmd, in.ParentID); err != nil {
					return err
				}
			}

			var out struct {
				Task model.Task `json:"task"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/tasks/add", in, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created: %s (%s)\n", out.Task.Text, shortID(out.Task.ID))
			if out.Task.DueDate != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Due: %s\n", *out.Task.DueDate)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&in.Section, "section", "", "section name")
	cmd.Flags().StringVar(&due, "due", "", `due date, e.g. "tomorrow" or 2026-01-15`)
	cmd.Flags().StringVar(&recur, "recur", "", "daily or weekly")
	return cmd
}

func newTaskListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				State gate.View `json:"state"`
			}
			if err := c.call(cmd, http.MethodGet, "/api/state", nil, &out); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTasks(out.State.Tasks, time.Now()))
			return nil
		},
	}
}

func newTaskToggleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Toggle a task's completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.resolveTask(cmd, args[0])
			if err != nil {
				return err
			}
			var out struct {
				Task model.Task `json:"task"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/tasks/"+id+"/toggle", nil, &out); err != nil {
				return err
			}
			mark := "open"
			if out.Task.Completed {
				mark = "done"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", out.Task.Text, mark)
			return nil
		},
	}
}

func newTaskRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and its subtasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.resolveTask(cmd, args[0])
			if err != nil {
				return err
			}
			return c.call(cmd, http.MethodDelete, "/api/tasks/"+id, nil, nil)
		},
	}
}

func newTaskEditCmd(c *cli) *cobra.Command {
	var text, section, due, recur string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.resolveTask(cmd, args[0])
			if err != nil {
				return err
			}
			var patch gate.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("text") {
				patch.Text = &text
			}
			if flags.Changed("section") {
				patch.Section = &section
			}
			if flags.Changed("due") {
				d, err := parseDue(due, time.Now())
				if err != nil {
					return err
				}
				patch.DueDate = &d
			}
			if flags.Changed("recur") {
				r := model.Recurrence(recur)
				patch.Recurring = &r
			}

			var out struct {
				Task model.Task `json:"task"`
			}
			if err := c.call(cmd, http.MethodPatch, "/api/tasks/"+id, patch, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", out.Task.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "new text")
	cmd.Flags().StringVar(&section, "section", "", "new section")
	cmd.Flags().StringVar(&due, "due", "", `new due date; "" clears it`)
	cmd.Flags().StringVar(&recur, "recur", "", `daily, weekly or "" for none`)
	return cmd
}

// parseDue turns a natural language date into the YYYY-MM-DD wire format.
// An empty input yields an empty date.
func parseDue(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(model.DateLayout, s); err == nil {
		return s, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse due date: %w", err)
	}
	if r == nil {
		return "", fmt.Errorf("could not understand due date %q", s)
	}
	return r.Time.Format(model.DateLayout), nil
}

// resolveTask expands an id prefix as shown by "task list" to a full id
func (c *cli) resolveTask(cmd *cobra.Command, prefix string) (string, error) {
	var out struct {
		State gate.View `json:"state"`
	}
	if err := c.call(cmd, http.MethodGet, "/api/state", nil, &out); err != nil {
		return "", err
	}
	return matchTaskID(out.State.Tasks, prefix)
}

func matchTaskID(tasks []model.Task, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("task id is empty")
	}
	var found []string
	for _, t := range tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			found = append(found, t.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no task matches %q", prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%q matches %d tasks", prefix, len(found))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
