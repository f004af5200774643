package gate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dori/taskgate/internal/db"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/registry"
	"github.com/dori/taskgate/internal/requirement"
	"github.com/dori/taskgate/internal/tasktree"
)

// LockState is the state of one blocked site
type LockState string

const (
	Blocked  LockState = "blocked"
	Unlocked LockState = "unlocked"
)

// Key returns the unlock and alarm key that governs domain: its group's key
// when grouped, else the domain itself.
func Key(reg *registry.Registry, domain string) string {
	if grp, ok := reg.GroupOf(domain); ok {
		return model.GroupKey(grp.ID)
	}
	return domain
}

// StateOf resolves the state of domain from the record under its key
func StateOf(reg *registry.Registry, unlocks map[string]model.UnlockRecord, domain string, now time.Time) (LockState, *model.UnlockRecord) {
	rec, ok := unlocks[Key(reg, domain)]
	if !ok || !rec.Active(now) {
		return Blocked, nil
	}
	return Unlocked, &rec
}

// BlockedDomains returns the blocked sites that are not unlocked right now.
// It is the source of the blocking rules.
func (g *Gate) BlockedDomains(ctx context.Context) ([]string, error) {
	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()
	var out []string
	for _, site := range reg.Sites {
		if st, _ := StateOf(reg, unlocks, site, now); st == Blocked {
			out = append(out, site)
		}
	}
	return out, nil
}

// IsLocked reports whether host falls under a blocked site that is
// currently locked, and which site that is.
func (g *Gate) IsLocked(ctx context.Context, host string) (string, bool, error) {
	domains, err := g.BlockedDomains(ctx)
	if err != nil {
		return "", false, err
	}
	site, ok := registry.MatchHost(host, domains)
	return site, ok, nil
}

// Unlock opens an unlock window for site (and its whole group) if the task
// requirement is met.
func (g *Gate) Unlock(ctx context.Context, site string) (model.UnlockRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	domain, reg, err := g.blockedSite(ctx, site)
	if err != nil {
		return model.UnlockRecord{}, err
	}
	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return model.UnlockRecord{}, err
	}
	if st, rec := StateOf(reg, unlocks, domain, g.now()); st == Unlocked {
		return *rec, nil
	}

	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return model.UnlockRecord{}, err
	}
	cfg, err := g.db.GetConfig(ctx)
	if err != nil {
		return model.UnlockRecord{}, err
	}

	cost := reg.CostFor(domain)
	res := requirement.Evaluate(tasks, cfg, cost)
	if !res.Ready {
		return model.UnlockRecord{}, fmt.Errorf("%w: %d of %d done", ErrRequirementNotMet, res.Done, res.Total)
	}

	rec, err := g.open(ctx, domain, reg, tasks, time.Duration(cfg.CooldownMinutes)*time.Minute, model.TimeLogEntry{})
	if err != nil {
		return model.UnlockRecord{}, err
	}

	if res.Mode != requirement.ModeCost {
		g.advanceStreak(ctx)
	}
	return rec, nil
}

// Pause opens an unlock window without checking the task requirement. It
// needs a written justification and one of the allowed durations.
func (g *Gate) Pause(ctx context.Context, site string, minutes int, justification string) (model.UnlockRecord, error) {
	justification = strings.TrimSpace(justification)
	if utf8.RuneCountInString(justification) < MinJustification {
		return model.UnlockRecord{}, ErrJustificationTooShort
	}
	if !slices.Contains(PauseDurations, minutes) {
		return model.UnlockRecord{}, ErrInvalidDuration
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	domain, reg, err := g.blockedSite(ctx, site)
	if err != nil {
		return model.UnlockRecord{}, err
	}
	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return model.UnlockRecord{}, err
	}
	if st, rec := StateOf(reg, unlocks, domain, g.now()); st == Unlocked {
		return *rec, nil
	}
	tasks, err := g.db.GetTasks(ctx)
	if err != nil {
		return model.UnlockRecord{}, err
	}

	entry := model.TimeLogEntry{Paused: true, Justification: justification}
	return g.open(ctx, domain, reg, tasks, time.Duration(minutes)*time.Minute, entry)
}

func (g *Gate) blockedSite(ctx context.Context, site string) (string, *registry.Registry, error) {
	domain, err := registry.Normalize(site)
	if err != nil {
		return "", nil, err
	}
	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return "", nil, err
	}
	if !reg.IsBlocked(domain) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotBlocked, domain)
	}
	return domain, reg, nil
}

// open applies the effects shared by unlock and pause
func (g *Gate) open(ctx context.Context, domain string, reg *registry.Registry, tasks []model.Task, d time.Duration, entry model.TimeLogEntry) (model.UnlockRecord, error) {
	now := g.now()
	rec := model.UnlockRecord{UnlockedAt: now, ExpiresAt: now.Add(d)}

	key := Key(reg, domain)
	records := map[string]model.UnlockRecord{domain: rec}
	if grp, ok := reg.GroupOf(domain); ok {
		for _, s := range grp.Sites {
			records[s] = rec
		}
		records[key] = rec
	}

	// the alarm goes first so a window is never stored without its relock
	if err := g.alarms.Create(ctx, key, d); err != nil {
		return model.UnlockRecord{}, fmt.Errorf("failed to schedule relock: %w", err)
	}

	entry.Site = domain
	entry.UnlockedAt = now
	reg.StampBaseline(domain, requirement.CompletedCount(tasks))
	stored := &db.Registry{Sites: reg.Sites, Groups: reg.Groups, Settings: reg.Settings}
	if err := g.db.OpenUnlock(ctx, records, entry, stored); err != nil {
		if cerr := g.alarms.Clear(ctx, key); cerr != nil {
			g.log.Warn("Failed to clear relock alarm", "key", key, "error", cerr)
		}
		return model.UnlockRecord{}, fmt.Errorf("failed to store unlock: %w", err)
	}
	g.rebuild(ctx)

	g.metrics.Unlocked(ctx, key, entry.Paused)
	g.log.Info("Unlocked", "site", domain, "key", key, "until", rec.ExpiresAt, "paused", entry.Paused)
	return rec, nil
}

func (g *Gate) advanceStreak(ctx context.Context) {
	streak, err := g.db.GetStreak(ctx)
	if err != nil {
		g.log.Warn("Failed to read streak", "error", err)
		return
	}
	if !streak.Advance(g.now()) {
		return
	}
	if err := g.db.SaveStreak(ctx, streak); err != nil {
		g.log.Warn("Failed to save streak", "error", err)
		return
	}
	if g.notifier != nil && streak.Current > 1 {
		if err := g.notifier.SendStreak(streak.Current, streak.Longest); err != nil {
			g.log.Debug("Streak notification failed", "error", err)
		}
	}
}

// Relock blocks site again, along with the rest of its group. Relocking a
// site that isn't unlocked is a no-op.
func (g *Gate) Relock(ctx context.Context, site string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	domain, reg, err := g.blockedSite(ctx, site)
	if err != nil {
		return err
	}
	return g.relock(ctx, reg, Key(reg, domain))
}

// HandleAlarm runs the transition a fired alarm stands for
func (g *Gate) HandleAlarm(ctx context.Context, name string) error {
	if name == RecurringResetAlarm {
		return g.ResetRecurring(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return err
	}
	key := name
	if _, isGroup := model.ParseGroupKey(name); !isGroup {
		key = Key(reg, name)
	}

	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return err
	}
	if rec, ok := unlocks[key]; ok && rec.Active(g.now()) {
		// fired early, or a site alarm left over from before the site joined
		// a group whose window is still open
		if key != name {
			return g.alarms.Clear(ctx, name)
		}
		return g.alarms.Create(ctx, key, max(rec.Remaining(g.now()), MinAlarmDelay))
	}

	if key != name {
		if err := g.alarms.Clear(ctx, name); err != nil {
			return err
		}
	}
	return g.relock(ctx, reg, key)
}

// relock runs the relock transition for key, a domain or group key.
// The caller holds g.mu.
func (g *Gate) relock(ctx context.Context, reg *registry.Registry, key string) error {
	now := g.now()

	name := key
	keys := []string{key}
	sites := []string{key}
	if id, ok := model.ParseGroupKey(key); ok {
		sites = nil
		if grp, ok := reg.Group(id); ok {
			name = grp.Name
			sites = append(sites, grp.Sites...)
			keys = append(keys, grp.Sites...)
		}
	}

	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return err
	}
	wasUnlocked := false
	for _, k := range keys {
		if _, ok := unlocks[k]; ok {
			wasUnlocked = true
		}
	}

	if err := g.db.DeleteUnlocks(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete unlock: %w", err)
	}
	if err := g.alarms.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear alarm: %w", err)
	}
	if !wasUnlocked {
		return nil
	}

	if len(sites) > 0 {
		if _, err := g.db.CloseTimeLog(ctx, sites, now); err != nil {
			return fmt.Errorf("failed to close time log: %w", err)
		}
	}
	reg.StampLocked(key, now)
	if err := g.saveRegistry(ctx, reg); err != nil {
		return err
	}
	g.rebuild(ctx)

	if g.tabs != nil && len(sites) > 0 {
		if n := g.tabs.RedirectMatching(sites); n > 0 {
			g.log.Debug("Redirected open tabs", "count", n)
		}
	}
	if g.notifier != nil && len(sites) > 0 {
		if err := g.notifier.SendRelocked(name, sites); err != nil {
			g.log.Debug("Relock notification failed", "error", err)
		}
	}
	if n, err := g.db.PruneTimeLog(ctx, now.Add(-TimeLogRetention)); err != nil {
		g.log.Warn("Failed to prune time log", "error", err)
	} else if n > 0 {
		g.log.Debug("Pruned time log", "entries", n)
	}

	g.metrics.Relocked(ctx, key)
	g.log.Info("Relocked", "key", key, "sites", sites)
	return nil
}

// Recover reconciles unlock records with alarms after a start: expired
// windows relock now, open ones get an alarm for the time they have left.
// Grouped sites are handled once through their group. It also resets
// recurring tasks and regenerates the rules.
func (g *Gate) Recover(ctx context.Context) error {
	g.mu.Lock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		g.mu.Unlock()
		return err
	}

	// group records are the timer of record, so they go in first
	expiry := make(map[string]time.Time)
	for key, rec := range unlocks {
		if _, ok := model.ParseGroupKey(key); ok {
			expiry[key] = rec.ExpiresAt
		}
	}
	for key, rec := range unlocks {
		if _, ok := model.ParseGroupKey(key); ok {
			continue
		}
		eff := Key(reg, key)
		if _, seen := expiry[eff]; !seen {
			expiry[eff] = rec.ExpiresAt
		}
	}

	keys := make([]string, 0, len(expiry))
	for k := range expiry {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	now := g.now()
	for _, key := range keys {
		remaining := expiry[key].Sub(now)
		if remaining <= 0 {
			if err := g.relock(ctx, reg, key); err != nil {
				g.log.Warn("Failed to relock expired unlock", "key", key, "error", err)
			}
			continue
		}
		if err := g.alarms.Create(ctx, key, max(remaining, MinAlarmDelay)); err != nil {
			g.log.Warn("Failed to restore relock alarm", "key", key, "error", err)
		}
	}
	g.rebuild(ctx)
	g.mu.Unlock()

	return g.ResetRecurring(ctx)
}

// nextMidnight returns the delay until the next local midnight
func nextMidnight(now time.Time) time.Duration {
	return tasktree.StartOfDay(now).AddDate(0, 0, 1).Sub(now)
}
