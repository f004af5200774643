package db

import (
	"context"
	"database/sql"

	"github.com/dori/taskgate/internal/model"
)

// GetTasks returns the task list in stored order
func (db *DB) GetTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, text, completed, completed_at, parent_id, section, due_date, recurring
		FROM tasks
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// SaveTasks replaces the whole task list
func (db *DB) SaveTasks(ctx context.Context, tasks []model.Task) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		return saveTasks(ctx, tx, tasks)
	})
	if err != nil {
		return err
	}
	db.notify(AreaTasks)
	return nil
}

func saveTasks(ctx context.Context, tx *sql.Tx, tasks []model.Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (position, id, text, completed, completed_at, parent_id, section, due_date, recurring)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range tasks {
		completedAt := formatTimePtr(t.CompletedAt)
		if !t.Completed {
			completedAt = nil
		}
		_, err := stmt.ExecContext(ctx,
			i, t.ID, t.Text, boolInt(t.Completed), completedAt,
			t.ParentID, t.Section, t.DueDate, string(t.Recurring),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTaskRow(s scanner) (*model.Task, error) {
	var t model.Task
	var completed int
	var completedAt, parentID, dueDate *string
	var recurring string

	err := s.Scan(&t.ID, &t.Text, &completed, &completedAt, &parentID, &t.Section, &dueDate, &recurring)
	if err != nil {
		return nil, err
	}

	t.Completed = completed == 1
	if t.Completed {
		t.CompletedAt = parseTimePtr(completedAt)
	}
	t.ParentID = parentID
	t.DueDate = dueDate
	t.Recurring = model.Recurrence(recurring)
	if !t.Recurring.Valid() {
		t.Recurring = model.RecurNone
	}

	return &t, nil
}
