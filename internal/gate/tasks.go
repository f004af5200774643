package gate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/tasktree"
)

// Tasks returns the stored task list
func (g *Gate) Tasks(ctx context.Context) ([]model.Task, error) {
	return g.db.GetTasks(ctx)
}

// UpdateTasks replaces the task list with an in-app edit and forwards it to
// the task source.
func (g *Gate) UpdateTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	g.mu.Lock()
	defer g.release(ctx)

	tasks, err := g.replaceTasks(ctx, tasks)
	if err != nil {
		return nil, err
	}
	g.stageTasks(tasks)
	return tasks, nil
}

// ApplyExternalTasks replaces the task list with one edited outside the app.
// It is not echoed back to the task source.
func (g *Gate) ApplyExternalTasks(ctx context.Context, tasks []model.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, err := g.replaceTasks(ctx, tasks)
	return err
}

// replaceTasks repairs bad parent references, resyncs composite completion
// and stores the result
func (g *Gate) replaceTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	if tasks == nil {
		tasks = []model.Task{}
	}
	t := tasktree.Build(tasks)
	if n := t.RepairParents(); n > 0 {
		g.log.Debug("Repaired task parents", "count", n)
	}
	t.SyncCompositeCompletion(g.now())
	if err := g.db.SaveTasks(ctx, tasks); err != nil {
		return nil, err
	}
	g.taskSeq.Add(1)
	return tasks, nil
}

// NewTask describes a task to add
type NewTask struct {
	Text      string           `json:"text"`
	ParentID  string           `json:"parentId,omitempty"`
	Section   string           `json:"section,omitempty"`
	DueDate   string           `json:"dueDate,omitempty"`
	Recurring model.Recurrence `json:"recurring,omitempty"`
}

// AddTask appends a task, as a subtask when ParentID is set. Subtasks
// inherit the section of their parent unless one is given.
func (g *Gate) AddTask(ctx context.Context, in NewTask) (model.Task, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return model.Task{}, ErrEmptyTask
	}
	if !in.Recurring.Valid() {
		return model.Task{}, ErrInvalidRecurrence
	}
	due, err := parseDue(in.DueDate)
	if err != nil {
		return model.Task{}, err
	}

	g.mu.Lock()
	defer g.release(ctx)

	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}

	task := model.Task{
		ID:        uuid.New().String(),
		Text:      text,
		Section:   strings.TrimSpace(in.Section),
		DueDate:   due,
		Recurring: in.Recurring,
	}
	if in.ParentID != "" {
		parent, ok := tasktree.Build(tasks).Task(in.ParentID)
		if !ok {
			return model.Task{}, ErrTaskNotFound
		}
		pid := parent.ID
		task.ParentID = &pid
		if task.Section == "" {
			task.Section = parent.Section
		}
	}

	tasks = tasktree.Insert(tasks, task, g.now())
	if err := g.db.SaveTasks(ctx, tasks); err != nil {
		return model.Task{}, err
	}
	g.stageTasks(tasks)
	return task, nil
}

// ToggleTask flips the completion of a task, propagating down to its
// subtree and up through its ancestors.
func (g *Gate) ToggleTask(ctx context.Context, id string) (model.Task, error) {
	g.mu.Lock()
	defer g.release(ctx)

	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	t := tasktree.Build(tasks)
	if _, ok := t.Toggle(id, g.now()); !ok {
		return model.Task{}, ErrTaskNotFound
	}
	if err := g.db.SaveTasks(ctx, tasks); err != nil {
		return model.Task{}, err
	}
	g.stageTasks(tasks)

	task, _ := t.Task(id)
	return *task, nil
}

// DeleteTask removes a task and its subtree
func (g *Gate) DeleteTask(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.release(ctx)

	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return err
	}
	tasks, ok := tasktree.Delete(tasks, id, g.now())
	if !ok {
		return ErrTaskNotFound
	}
	if err := g.db.SaveTasks(ctx, tasks); err != nil {
		return err
	}
	g.stageTasks(tasks)
	return nil
}

// TaskPatch edits task fields; nil fields are left alone and an empty
// DueDate clears it.
type TaskPatch struct {
	Text      *string           `json:"text,omitempty"`
	Section   *string           `json:"section,omitempty"`
	DueDate   *string           `json:"dueDate,omitempty"`
	Recurring *model.Recurrence `json:"recurring,omitempty"`
}

// EditTask applies patch to a task
func (g *Gate) EditTask(ctx context.Context, id string, patch TaskPatch) (model.Task, error) {
	g.mu.Lock()
	defer g.release(ctx)

	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	task, ok := tasktree.Build(tasks).Task(id)
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}

	if patch.Text != nil {
		text := strings.TrimSpace(*patch.Text)
		if text == "" {
			return model.Task{}, ErrEmptyTask
		}
		task.Text = text
	}
	if patch.Section != nil {
		task.Section = strings.TrimSpace(*patch.Section)
	}
	if patch.DueDate != nil {
		due, err := parseDue(*patch.DueDate)
		if err != nil {
			return model.Task{}, err
		}
		task.DueDate = due
	}
	if patch.Recurring != nil {
		if !patch.Recurring.Valid() {
			return model.Task{}, ErrInvalidRecurrence
		}
		task.Recurring = *patch.Recurring
	}

	if err := g.db.SaveTasks(ctx, tasks); err != nil {
		return model.Task{}, err
	}
	g.stageTasks(tasks)
	return *task, nil
}

// ResetRecurring un-completes recurring tasks from an earlier period and
// schedules the next check for local midnight.
func (g *Gate) ResetRecurring(ctx context.Context) error {
	g.mu.Lock()
	defer g.release(ctx)

	now := g.now()
	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return err
	}
	if tasktree.ResetRecurring(tasks, now) {
		if err := g.db.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		g.stageTasks(tasks)
		g.log.Info("Reset recurring tasks")
	}
	return g.alarms.Create(ctx, RecurringResetAlarm, nextMidnight(now))
}

func parseDue(s string) (*string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if _, err := time.Parse(model.DateLayout, s); err != nil {
		return nil, ErrInvalidDueDate
	}
	return &s, nil
}
