// Package alarm schedules named one-shot alarms that survive restarts.
//
// Alarms are persisted before their timer is armed. On start, Restore
// re-arms every persisted alarm; alarms that came due while the process was
// down fire immediately. A fired alarm stays persisted until its handler
// clears or replaces it.
package alarm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store persists alarms
type Store interface {
	PutAlarm(ctx context.Context, name string, fireAt time.Time) error
	DeleteAlarm(ctx context.Context, name string) error
	ListAlarms(ctx context.Context) (map[string]time.Time, error)
}

// Scheduler arms in-process timers for persisted alarms and delivers fired
// alarm names on a channel.
type Scheduler struct {
	store Store
	log   *slog.Logger
	now   func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	due    map[string]time.Time
	fired  chan string
	done   chan struct{}
	closed bool
}

// New creates a scheduler backed by store
func New(store Store, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		log:    log,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
		due:    make(map[string]time.Time),
		fired:  make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Fired delivers the names of alarms as they go off
func (s *Scheduler) Fired() <-chan string {
	return s.fired
}

// Create schedules name to fire after delay, replacing an existing alarm
// with the same name.
func (s *Scheduler) Create(ctx context.Context, name string, delay time.Duration) error {
	fireAt := s.now().Add(delay)
	if err := s.store.PutAlarm(ctx, name, fireAt); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.arm(name, fireAt)
	return nil
}

// Clear cancels name. Clearing an unknown alarm is not an error.
func (s *Scheduler) Clear(ctx context.Context, name string) error {
	s.mu.Lock()
	s.disarm(name)
	s.mu.Unlock()

	return s.store.DeleteAlarm(ctx, name)
}

// Get returns when name is due
func (s *Scheduler) Get(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.due[name]
	return at, ok
}

// Names returns the names of pending alarms
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.due))
	for name := range s.due {
		names = append(names, name)
	}
	return names
}

// Restore re-arms every persisted alarm
func (s *Scheduler) Restore(ctx context.Context) error {
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, at := range alarms {
		s.arm(name, at)
	}
	s.log.Debug("Alarms restored", "count", len(alarms))
	return nil
}

// Stop cancels all timers. Persisted alarms are kept for the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for name := range s.timers {
		s.disarm(name)
	}
	close(s.done)
}

func (s *Scheduler) arm(name string, fireAt time.Time) {
	if s.closed {
		return
	}
	s.disarm(name)

	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A later Create or Clear may have replaced this timer
		if s.timers[name] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		delete(s.due, name)
		s.mu.Unlock()

		select {
		case s.fired <- name:
		case <-s.done:
		}
	})
	s.timers[name] = timer
	s.due[name] = fireAt
}

func (s *Scheduler) disarm(name string) {
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	delete(s.due, name)
}
