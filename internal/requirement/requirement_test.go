package requirement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dori/taskgate/internal/model"
)

func tasksIn(section string, done, pending int) []model.Task {
	var out []model.Task
	for i := 0; i < done+pending; i++ {
		t := model.Task{ID: section + string(rune('a'+i)), Section: section}
		if i < done {
			t.SetCompleted(true, time.Now())
		}
		out = append(out, t)
	}
	return out
}

func TestEvaluateAll(t *testing.T) {
	cfg := model.DefaultConfig()

	res := Evaluate(nil, cfg, nil)
	assert.False(t, res.Ready)
	assert.True(t, res.Empty)

	res = Evaluate(tasksIn("Tasks", 2, 1), cfg, nil)
	assert.False(t, res.Ready)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, ModeAll, res.Mode)

	res = Evaluate(tasksIn("Tasks", 3, 0), cfg, nil)
	assert.True(t, res.Ready)
}

func TestEvaluateSection(t *testing.T) {
	cfg := model.Config{UnlockMode: model.UnlockSection, UnlockSection: " Work "}
	tasks := append(tasksIn("Work", 2, 0), tasksIn("Home", 0, 3)...)

	res := Evaluate(tasks, cfg, nil)
	assert.True(t, res.Ready)
	assert.Equal(t, "Work", res.Section)
	assert.Equal(t, 2, res.Total)
}

func TestEvaluateSectionUnsetIsNeverReady(t *testing.T) {
	cfg := model.Config{UnlockMode: model.UnlockSection}
	res := Evaluate(tasksIn("Work", 2, 0), cfg, nil)
	assert.False(t, res.Ready)
	assert.True(t, res.Empty)
}

func TestEvaluateSectionDefaultsUnnamedTasks(t *testing.T) {
	cfg := model.Config{UnlockMode: model.UnlockSection, UnlockSection: model.DefaultSection}
	res := Evaluate(tasksIn("", 1, 0), cfg, nil)
	assert.True(t, res.Ready)
	assert.Equal(t, 1, res.Total)
}

func TestEvaluateSectionMissingIsNotReady(t *testing.T) {
	cfg := model.Config{UnlockMode: model.UnlockSection, UnlockSection: "Garden"}
	res := Evaluate(tasksIn("Work", 2, 0), cfg, nil)
	assert.False(t, res.Ready)
	assert.True(t, res.Empty)
}

func TestEvaluateCost(t *testing.T) {
	cfg := model.DefaultConfig()
	cost := &Cost{Cost: 2, Baseline: 3}

	for completed := 0; completed <= 7; completed++ {
		tasks := tasksIn("Tasks", completed, 10-completed)
		res := Evaluate(tasks, cfg, cost)
		assert.Equal(t, ModeCost, res.Mode)
		assert.Equal(t, completed >= 5, res.Ready, "completed=%d", completed)
	}
}

func TestEvaluateCostIgnoresUnsetCost(t *testing.T) {
	cfg := model.DefaultConfig()
	res := Evaluate(tasksIn("Tasks", 1, 1), cfg, &Cost{Cost: 0, Baseline: 0})
	assert.Equal(t, ModeAll, res.Mode)
	assert.False(t, res.Ready)
}

func TestEvaluateCostBaselineAboveCompleted(t *testing.T) {
	// recurring resets can drop completions below the stamped baseline
	res := Evaluate(tasksIn("Tasks", 1, 4), model.DefaultConfig(), &Cost{Cost: 1, Baseline: 4})
	assert.False(t, res.Ready)
	assert.Equal(t, 0, res.Done)
}
