// Package gate is the lock state machine. It owns every transition of a
// blocked site between Blocked and Unlocked and the side effects that go
// with them: unlock records, relock alarms, blocking rules, time log,
// streak and open tabs.
//
// All mutating calls are serialized by one mutex and read-modify-write the
// store within a single call.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dori/taskgate/internal/db"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/registry"
	"github.com/dori/taskgate/internal/telemetry"
)

const (
	// MinJustification is the shortest accepted pause justification, in
	// characters
	MinJustification = 120
	// MinAlarmDelay keeps a recovered alarm from firing with no delay
	MinAlarmDelay = 30 * time.Second
	// TimeLogRetention is how long closed time log entries are kept
	TimeLogRetention = 90 * 24 * time.Hour
	// RecurringResetAlarm fires at local midnight to reset recurring tasks
	RecurringResetAlarm = "recurring-reset"
)

// PauseDurations lists the allowed pause lengths in minutes
var PauseDurations = []int{5, 15, 30}

var (
	ErrRequirementNotMet     = errors.New("unlock requirement not met")
	ErrNotBlocked            = errors.New("site is not on the block list")
	ErrJustificationTooShort = errors.New("justification must be at least 120 characters")
	ErrInvalidDuration       = errors.New("pause duration must be 5, 15 or 30 minutes")
	ErrTaskNotFound          = errors.New("task not found")
	ErrEmptyTask             = errors.New("task text is empty")
	ErrInvalidRecurrence     = errors.New("recurrence must be daily or weekly")
	ErrInvalidDueDate        = errors.New("due date must be YYYY-MM-DD")

	// re-exported so callers can match registry failures without importing it
	ErrGroupConflict = registry.ErrGroupConflict
	ErrGroupNotFound = registry.ErrGroupNotFound
)

// Alarms schedules named relock alarms
type Alarms interface {
	Create(ctx context.Context, name string, delay time.Duration) error
	Clear(ctx context.Context, name string) error
}

// Rules regenerates the blocking rules
type Rules interface {
	Rebuild(ctx context.Context) error
}

// Tabs navigates open tabs away from relocked sites
type Tabs interface {
	RedirectMatching(sites []string) int
}

// TaskSink receives task lists edited in the app
type TaskSink interface {
	PushTasks(ctx context.Context, tasks []model.Task) error
}

// Notifier shows desktop notices
type Notifier interface {
	SendRelocked(name string, sites []string) error
	SendStreak(current, longest int) error
}

// Deps are the collaborators of a Gate. Tabs, Tasks and Notifier are
// optional.
type Deps struct {
	DB       *db.DB
	Alarms   Alarms
	Rules    Rules
	Tabs     Tabs
	Tasks    TaskSink
	Notifier Notifier
	Metrics  *telemetry.Metrics
	Log      *slog.Logger
}

// Gate serializes every state transition
type Gate struct {
	db       *db.DB
	alarms   Alarms
	rules    Rules
	tabs     Tabs
	sink     TaskSink
	notifier Notifier
	metrics  *telemetry.Metrics
	log      *slog.Logger

	now func() time.Time

	mu sync.Mutex

	// taskSeq counts stored task list versions. staged is the in-app edit
	// waiting to be forwarded once mu is released.
	taskSeq atomic.Uint64
	staged  *outbound
	pushMu  sync.Mutex
}

type outbound struct {
	seq   uint64
	tasks []model.Task
}

// New creates a gate
func New(d Deps) *Gate {
	if d.Metrics == nil {
		d.Metrics = telemetry.Nop()
	}
	return &Gate{
		db:       d.DB,
		alarms:   d.Alarms,
		rules:    d.Rules,
		tabs:     d.Tabs,
		sink:     d.Tasks,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      time.Now,
	}
}

func (g *Gate) loadRegistry(ctx context.Context) (*registry.Registry, error) {
	reg, err := g.db.GetRegistry(ctx)
	if err != nil {
		return nil, err
	}
	return registry.New(reg.Sites, reg.Groups, reg.Settings), nil
}

func (g *Gate) saveRegistry(ctx context.Context, reg *registry.Registry) error {
	return g.db.SaveRegistry(ctx, &db.Registry{Sites: reg.Sites, Groups: reg.Groups, Settings: reg.Settings})
}

// rebuild regenerates the rules. A failure is logged: the stored state is
// already correct and the next rebuild catches up.
func (g *Gate) rebuild(ctx context.Context) {
	if err := g.rules.Rebuild(ctx); err != nil {
		g.log.Warn("Failed to rebuild blocking rules", "error", err)
	}
}

// stageTasks marks tasks as the version to forward to the task source.
// Callers hold mu and release it with release.
func (g *Gate) stageTasks(tasks []model.Task) {
	seq := g.taskSeq.Add(1)
	if g.sink == nil {
		return
	}
	g.staged = &outbound{seq: seq, tasks: tasks}
}

// release unlocks mu, then forwards the staged task list unless a newer
// version has been stored in the meantime. The task source never waits on
// mu, so it can keep feeding edits back while a push is in flight.
func (g *Gate) release(ctx context.Context) {
	out := g.staged
	g.staged = nil
	g.mu.Unlock()
	if out == nil {
		return
	}

	g.pushMu.Lock()
	defer g.pushMu.Unlock()
	if out.seq != g.taskSeq.Load() {
		return
	}
	if err := g.sink.PushTasks(ctx, out.tasks); err != nil {
		g.log.Warn("Failed to push tasks to task source", "error", err)
	}
}
