// Package requirement decides whether the task list currently satisfies the
// unlock requirement for a site or group.
package requirement

import (
	"strings"

	"github.com/dori/taskgate/internal/model"
)

// Mode names the rule a Result was evaluated under
type Mode string

const (
	ModeAll     Mode = "all"
	ModeSection Mode = "section"
	ModeCost    Mode = "cost"
)

// Cost is a site or group cost override. Baseline is the completed-task
// count stamped at the last unlock.
type Cost struct {
	Cost     int `json:"cost"`
	Baseline int `json:"baseline"`
}

// Result is the outcome of one evaluation
type Result struct {
	Ready   bool   `json:"ready"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Mode    Mode   `json:"mode"`
	Section string `json:"section,omitempty"`
	Empty   bool   `json:"empty,omitempty"`
}

// Evaluate checks tasks against cfg, or against cost when it is set with a
// positive Cost. It has no side effects.
func Evaluate(tasks []model.Task, cfg model.Config, cost *Cost) Result {
	if cost != nil && cost.Cost > 0 {
		return evaluateCost(tasks, *cost)
	}
	if cfg.UnlockMode == model.UnlockSection {
		return evaluateSection(tasks, strings.TrimSpace(cfg.UnlockSection))
	}
	return evaluateAll(tasks)
}

func evaluateAll(tasks []model.Task) Result {
	done := CompletedCount(tasks)
	return Result{
		Ready: len(tasks) > 0 && done == len(tasks),
		Done:  done,
		Total: len(tasks),
		Mode:  ModeAll,
		Empty: len(tasks) == 0,
	}
}

func evaluateSection(tasks []model.Task, section string) Result {
	res := Result{Mode: ModeSection, Section: section}
	if section == "" {
		res.Empty = true
		return res
	}

	for i := range tasks {
		if tasks[i].SectionName() != section {
			continue
		}
		res.Total++
		if tasks[i].Completed {
			res.Done++
		}
	}
	res.Empty = res.Total == 0
	res.Ready = !res.Empty && res.Done == res.Total
	return res
}

// evaluateCost measures completions since the baseline, so a site can be
// earned repeatedly without finishing the whole list.
func evaluateCost(tasks []model.Task, cost Cost) Result {
	progress := CompletedCount(tasks) - cost.Baseline
	res := Result{
		Ready: progress >= cost.Cost,
		Done:  max(progress, 0),
		Total: cost.Cost,
		Mode:  ModeCost,
		Empty: len(tasks) == 0,
	}
	if res.Done > res.Total {
		res.Done = res.Total
	}
	return res
}

// CompletedCount returns the number of completed tasks
func CompletedCount(tasks []model.Task) int {
	n := 0
	for i := range tasks {
		if tasks[i].Completed {
			n++
		}
	}
	return n
}
