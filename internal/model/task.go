package model

import (
	"strings"
	"time"
)

// DefaultSection is the section assigned to tasks that don't name one
const DefaultSection = "Tasks"

// DateLayout is the wire format for calendar dates (due dates, streak days)
const DateLayout = "2006-01-02"

// Recurrence controls automatic reset of completed tasks
type Recurrence string

const (
	RecurNone   Recurrence = ""
	RecurDaily  Recurrence = "daily"
	RecurWeekly Recurrence = "weekly"
)

// Valid reports whether r is one of the supported recurrence values
func (r Recurrence) Valid() bool {
	switch r {
	case RecurNone, RecurDaily, RecurWeekly:
		return true
	}
	return false
}

// Task represents a todo item. A task with children is a composite whose
// completion is derived from its children.
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	ParentID    *string    `json:"parentId"`
	Section     string     `json:"section,omitempty"`
	DueDate     *string    `json:"dueDate,omitempty"`
	Recurring   Recurrence `json:"recurring,omitempty"`
}

// SectionName returns the trimmed section, falling back to DefaultSection
func (t *Task) SectionName() string {
	s := strings.TrimSpace(t.Section)
	if s == "" {
		return DefaultSection
	}
	return s
}

// SetCompleted updates completion and keeps CompletedAt consistent with it
func (t *Task) SetCompleted(completed bool, at time.Time) {
	t.Completed = completed
	if completed {
		stamp := at
		t.CompletedAt = &stamp
	} else {
		t.CompletedAt = nil
	}
}

// Due parses DueDate in the given location
func (t *Task) Due(loc *time.Location) (time.Time, bool) {
	if t.DueDate == nil {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(DateLayout, *t.DueDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// IsOverdue returns true if the task is past its due date
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Completed {
		return false
	}
	due, ok := t.Due(now.Location())
	if !ok {
		return false
	}
	return now.After(due.AddDate(0, 0, 1))
}

// IsDueToday returns true if the task is due today
func (t *Task) IsDueToday(now time.Time) bool {
	due, ok := t.Due(now.Location())
	if !ok {
		return false
	}
	return due.Year() == now.Year() && due.YearDay() == now.YearDay()
}

// ParentRef returns the parent id or "" for roots
func (t *Task) ParentRef() string {
	if t.ParentID == nil {
		return ""
	}
	return *t.ParentID
}
