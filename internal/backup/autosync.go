package backup

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dori/taskgate/internal/db"
)

// AutoSyncDelay is the quiet period before a change is pushed
const AutoSyncDelay = 2 * time.Second

// syncedAreas are the state changes that schedule a remote push
var syncedAreas = map[db.Area]bool{
	db.AreaTasks:        true,
	db.AreaSites:        true,
	db.AreaConfig:       true,
	db.AreaStreak:       true,
	db.AreaGroups:       true,
	db.AreaSiteSettings: true,
}

// AutoSync pushes the state to the remote once changes have been quiet for
// the configured delay. One push runs at a time; changes that land during a
// push schedule another once it ends. Failures are logged and dropped; the
// local store stays authoritative.
type AutoSync struct {
	push  func(ctx context.Context) error
	delay time.Duration
	log   *slog.Logger

	// ctx is cancelled by Stop so an in-flight push gives up
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	dirty   map[db.Area]bool
	pushing bool
	stopped bool
	wg      sync.WaitGroup
}

// NewAutoSync creates an auto-sync driver for manager
func NewAutoSync(manager *Manager, delay time.Duration, log *slog.Logger) *AutoSync {
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoSync{
		push:   manager.Push,
		delay:  delay,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		dirty:  make(map[db.Area]bool),
	}
}

// OnChange is a db change listener
func (a *AutoSync) OnChange(area db.Area) {
	if !syncedAreas[area] {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.dirty[area] = true
	if !a.pushing {
		a.schedule()
	}
}

// schedule restarts the quiet period. Callers hold mu.
func (a *AutoSync) schedule() {
	if a.timer == nil {
		a.timer = time.AfterFunc(a.delay, a.fire)
		return
	}
	a.timer.Reset(a.delay)
}

func (a *AutoSync) fire() {
	a.mu.Lock()
	if a.stopped || a.pushing || len(a.dirty) == 0 {
		a.mu.Unlock()
		return
	}
	areas := make([]string, 0, len(a.dirty))
	for area := range a.dirty {
		areas = append(areas, string(area))
	}
	clear(a.dirty)
	a.pushing = true
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	slices.Sort(areas)
	a.run(areas)

	a.mu.Lock()
	a.pushing = false
	if !a.stopped && len(a.dirty) > 0 {
		a.schedule()
	}
	a.mu.Unlock()
}

func (a *AutoSync) run(areas []string) {
	ctx, cancel := context.WithTimeout(a.ctx, time.Minute)
	defer cancel()

	err := a.push(ctx)
	switch {
	case err == nil:
		a.log.Debug("Auto-sync pushed", "changed", areas)
	case errors.Is(err, ErrNoRemote), a.ctx.Err() != nil:
	default:
		a.log.Warn("Auto-sync failed", "changed", areas, "error", err)
	}
}

// Stop drops a pending push, cancels a running one and waits for it to
// return. Changes after Stop are ignored.
func (a *AutoSync) Stop() {
	a.mu.Lock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}
