// Package blocker maintains the set of redirect rules that keep blocked
// sites unreachable.
package blocker

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/dori/taskgate/internal/telemetry"
)

// Rule redirects one domain (and its www. alias) to the block page
type Rule struct {
	ID     int
	Domain string
}

// Engine is the rule store the operating system or browser enforces
type Engine interface {
	Rules(ctx context.Context) ([]Rule, error)
	Update(ctx context.Context, removeIDs []int, add []Rule) error
}

// Source reports the domains that should be blocked right now
type Source func(ctx context.Context) ([]string, error)

// Queue rebuilds the whole rule set on every request and runs one rebuild
// at a time. Each rebuild reads the source afresh, so the last one to run
// always reflects the latest state.
type Queue struct {
	engine  Engine
	source  Source
	metrics *telemetry.Metrics
	log     *slog.Logger

	mu sync.Mutex
}

// NewQueue creates a rebuild queue. nil metrics records nothing.
func NewQueue(engine Engine, source Source, metrics *telemetry.Metrics, log *slog.Logger) *Queue {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Queue{engine: engine, source: source, metrics: metrics, log: log}
}

// Rebuild removes every installed rule and installs one rule per domain
// from the source. Rule ids restart at 1.
func (q *Queue) Rebuild(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	domains, err := q.source(ctx)
	if err != nil {
		return err
	}

	existing, err := q.engine.Rules(ctx)
	if err != nil {
		return err
	}
	removeIDs := make([]int, 0, len(existing))
	for _, r := range existing {
		removeIDs = append(removeIDs, r.ID)
	}

	add := make([]Rule, 0, len(domains))
	for i, d := range domains {
		add = append(add, Rule{ID: i + 1, Domain: d})
	}

	if err := q.engine.Update(ctx, removeIDs, add); err != nil {
		return err
	}
	q.metrics.RulesRebuilt(ctx, len(add))
	q.log.Debug("Blocking rules rebuilt", "removed", len(removeIDs), "installed", len(add))
	return nil
}

// Memory is an in-process Engine
type Memory struct {
	mu    sync.Mutex
	rules map[int]Rule
}

// NewMemory creates an empty in-memory engine
func NewMemory() *Memory {
	return &Memory{rules: make(map[int]Rule)}
}

// Rules returns the installed rules ordered by id
func (m *Memory) Rules(context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Rule) int { return a.ID - b.ID })
	return out, nil
}

// Update removes then adds rules
func (m *Memory) Update(_ context.Context, removeIDs []int, add []Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range removeIDs {
		delete(m.rules, id)
	}
	for _, r := range add {
		m.rules[r.ID] = r
	}
	return nil
}

// Domains returns the blocked domains in rule order
func (m *Memory) Domains() []string {
	rules, _ := m.Rules(context.Background())
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Domain)
	}
	return out
}
