package gate

import (
	"context"
	"fmt"
	"slices"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/registry"
)

// AddSite puts a site on the block list
func (g *Gate) AddSite(ctx context.Context, site string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return "", err
	}
	domain, err := reg.AddSite(site)
	if err != nil {
		return "", err
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return "", err
	}
	g.rebuild(ctx)
	return domain, nil
}

// RemoveSite takes a site off the block list. Its unlock record and alarm
// go with it; a group left empty is deleted along with its own.
func (g *Gate) RemoveSite(ctx context.Context, site string) error {
	domain, err := registry.Normalize(site)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return err
	}
	removedGroup, ok := reg.RemoveSite(domain)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotBlocked, domain)
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return err
	}

	keys := []string{domain}
	if removedGroup != "" {
		keys = append(keys, model.GroupKey(removedGroup))
	}
	if err := g.db.DeleteUnlocks(ctx, keys...); err != nil {
		return err
	}
	if _, err := g.db.CloseTimeLog(ctx, []string{domain}, g.now()); err != nil {
		return err
	}
	for _, k := range keys {
		if err := g.alarms.Clear(ctx, k); err != nil {
			return err
		}
	}
	g.rebuild(ctx)
	return nil
}

// AddGroup creates a group. Sites already claimed by another group are
// rejected and nothing changes.
func (g *Gate) AddGroup(ctx context.Context, in registry.GroupInput) (model.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return model.Group{}, err
	}
	grp, err := reg.AddGroup(in)
	if err != nil {
		return model.Group{}, err
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return model.Group{}, err
	}
	if err := g.endSiteWindows(ctx, grp.Sites); err != nil {
		return model.Group{}, err
	}
	g.rebuild(ctx)
	return grp, nil
}

// UpdateGroup changes a group's name, members or cost
func (g *Gate) UpdateGroup(ctx context.Context, id string, in registry.GroupInput) (model.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return model.Group{}, err
	}
	var before []string
	if old, ok := reg.Group(id); ok {
		before = slices.Clone(old.Sites)
	}
	grp, err := reg.UpdateGroup(id, in)
	if err != nil {
		return model.Group{}, err
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return model.Group{}, err
	}

	// sites leaving the group, and sites joining it, end any window of
	// their own
	var changed []string
	for _, s := range before {
		if !grp.Has(s) {
			changed = append(changed, s)
		}
	}
	for _, s := range grp.Sites {
		if !slices.Contains(before, s) {
			changed = append(changed, s)
		}
	}
	if err := g.endSiteWindows(ctx, changed); err != nil {
		return model.Group{}, err
	}
	g.rebuild(ctx)
	return grp, nil
}

// RemoveGroup relocks the group if it is unlocked, then deletes it. Its
// sites stay blocked on their own.
func (g *Gate) RemoveGroup(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return err
	}
	if _, ok := reg.Group(id); !ok {
		return ErrGroupNotFound
	}
	if err := g.relock(ctx, reg, model.GroupKey(id)); err != nil {
		return err
	}
	if _, err := reg.RemoveGroup(id); err != nil {
		return err
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return err
	}
	g.rebuild(ctx)
	return nil
}

// endSiteWindows closes the per-site unlock windows of sites whose lock is
// now governed differently
func (g *Gate) endSiteWindows(ctx context.Context, sites []string) error {
	unlocks, err := g.db.GetUnlocks(ctx)
	if err != nil {
		return err
	}
	var open []string
	for _, s := range sites {
		if _, ok := unlocks[s]; ok {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return nil
	}
	if err := g.db.DeleteUnlocks(ctx, open...); err != nil {
		return err
	}
	if _, err := g.db.CloseTimeLog(ctx, open, g.now()); err != nil {
		return err
	}
	for _, s := range open {
		if err := g.alarms.Clear(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSiteSettings changes the cost settings of an ungrouped site
func (g *Gate) UpdateSiteSettings(ctx context.Context, site string, patch registry.SettingsPatch) (model.SiteSettings, error) {
	domain, err := registry.Normalize(site)
	if err != nil {
		return model.SiteSettings{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return model.SiteSettings{}, err
	}
	s, err := reg.UpdateSiteSettings(domain, patch)
	if err != nil {
		return model.SiteSettings{}, err
	}
	if err := g.saveRegistry(ctx, reg); err != nil {
		return model.SiteSettings{}, err
	}
	return s, nil
}

// UpdateConfig applies a patch to the unlock configuration
func (g *Gate) UpdateConfig(ctx context.Context, patch model.ConfigPatch) (model.Config, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, err := g.db.GetConfig(ctx)
	if err != nil {
		return model.Config{}, err
	}
	cfg = patch.Apply(cfg).Normalize()
	if err := g.db.SaveConfig(ctx, cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// Reload brings rules and alarms in line with a state that was replaced
// wholesale, as after a restore.
func (g *Gate) Reload(ctx context.Context) error {
	g.mu.Lock()
	tasks, err := g.db.GetTasks(ctx)
	if err == nil {
		_, err = g.replaceTasks(ctx, tasks)
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.Recover(ctx)
}
