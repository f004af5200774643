// Package registry maps blocked domains to their optional group and to the
// cost settings that apply when unlocking them.
//
// A grouped site is owned entirely by its group: the group's cost and
// baseline apply and any per-site settings are ignored until the site
// leaves the group.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/requirement"
)

var (
	ErrGroupConflict = errors.New("site already belongs to another group")
	ErrGroupNotFound = errors.New("group not found")
	ErrEmptyGroup    = errors.New("group needs a name and at least one site")
	ErrInvalidCost   = errors.New("cost must be at least 1")
	ErrUnknownSite   = errors.New("site is not blocked")
)

// Registry is an editable view over the blocked sites, groups and per-site
// settings. Callers load it, mutate it and persist the result.
type Registry struct {
	Sites    []string
	Groups   []model.Group
	Settings map[string]model.SiteSettings
}

// New wraps the given state. The settings map is created if nil.
func New(sites []string, groups []model.Group, settings map[string]model.SiteSettings) *Registry {
	if settings == nil {
		settings = make(map[string]model.SiteSettings)
	}
	return &Registry{Sites: sites, Groups: groups, Settings: settings}
}

// IsBlocked reports whether domain is on the block list
func (r *Registry) IsBlocked(domain string) bool {
	return slices.Contains(r.Sites, domain)
}

// Group returns the group with the given id
func (r *Registry) Group(id string) (*model.Group, bool) {
	for i := range r.Groups {
		if r.Groups[i].ID == id {
			return &r.Groups[i], true
		}
	}
	return nil, false
}

// GroupOf returns the group that owns domain
func (r *Registry) GroupOf(domain string) (*model.Group, bool) {
	for i := range r.Groups {
		if r.Groups[i].Has(domain) {
			return &r.Groups[i], true
		}
	}
	return nil, false
}

// CostFor returns the cost override for domain, or nil if the plain
// requirement applies.
func (r *Registry) CostFor(domain string) *requirement.Cost {
	if g, ok := r.GroupOf(domain); ok {
		if g.Cost == nil {
			return nil
		}
		return &requirement.Cost{Cost: *g.Cost, Baseline: g.CostBaseline}
	}
	s, ok := r.Settings[domain]
	if !ok || s.Cost == nil {
		return nil
	}
	return &requirement.Cost{Cost: *s.Cost, Baseline: s.CostBaseline}
}

// StampBaseline records the completed-task count at unlock time on the
// owner of domain's cost, so the next unlock needs fresh progress.
func (r *Registry) StampBaseline(domain string, completed int) {
	if g, ok := r.GroupOf(domain); ok {
		g.CostBaseline = completed
		return
	}
	s := r.Settings[domain]
	s.CostBaseline = completed
	r.Settings[domain] = s
}

// StampLocked records when key (a domain or group key) was last relocked
func (r *Registry) StampLocked(key string, at time.Time) {
	if id, ok := model.ParseGroupKey(key); ok {
		if g, ok := r.Group(id); ok {
			g.LastLockedAt = &at
		}
		return
	}
	if !r.IsBlocked(key) {
		return
	}
	s := r.Settings[key]
	s.LastLockedAt = &at
	r.Settings[key] = s
}

// LastLocked returns the last relock time that applies to domain
func (r *Registry) LastLocked(domain string) *time.Time {
	if g, ok := r.GroupOf(domain); ok {
		return g.LastLockedAt
	}
	return r.Settings[domain].LastLockedAt
}

// AddSite adds domain to the block list. Adding a present site is a no-op.
func (r *Registry) AddSite(input string) (string, error) {
	domain, err := Normalize(input)
	if err != nil {
		return "", err
	}
	if !r.IsBlocked(domain) {
		r.Sites = append(r.Sites, domain)
	}
	return domain, nil
}

// RemoveSite drops domain from the block list, from its group (deleting the
// group if it ends up empty) and from the settings. It returns the id of a
// group that was deleted, if any.
func (r *Registry) RemoveSite(domain string) (removedGroup string, ok bool) {
	idx := slices.Index(r.Sites, domain)
	if idx < 0 {
		return "", false
	}
	r.Sites = slices.Delete(r.Sites, idx, idx+1)
	delete(r.Settings, domain)

	for i := range r.Groups {
		g := &r.Groups[i]
		if !g.Has(domain) {
			continue
		}
		g.Sites = slices.DeleteFunc(g.Sites, func(s string) bool { return s == domain })
		if len(g.Sites) == 0 {
			removedGroup = g.ID
			r.Groups = slices.Delete(r.Groups, i, i+1)
		}
		break
	}
	return removedGroup, true
}

// GroupInput describes a group to create or the new shape of one to update
type GroupInput struct {
	Name  string   `json:"name"`
	Sites []string `json:"sites"`
	Cost  *int     `json:"cost,omitempty"`
}

// AddGroup validates and creates a group. Member sites missing from the
// block list are added to it.
func (r *Registry) AddGroup(in GroupInput) (model.Group, error) {
	name, sites, err := r.validateGroup("", in)
	if err != nil {
		return model.Group{}, err
	}

	g := model.Group{
		ID:    uuid.New().String(),
		Name:  name,
		Sites: sites,
		Cost:  in.Cost,
	}
	r.Groups = append(r.Groups, g)
	r.adopt(sites)
	return g, nil
}

// UpdateGroup replaces the name, members and cost of group id. Baseline and
// last-locked time are kept.
func (r *Registry) UpdateGroup(id string, in GroupInput) (model.Group, error) {
	g, ok := r.Group(id)
	if !ok {
		return model.Group{}, ErrGroupNotFound
	}
	name, sites, err := r.validateGroup(id, in)
	if err != nil {
		return model.Group{}, err
	}

	g.Name = name
	g.Sites = sites
	g.Cost = in.Cost
	r.adopt(sites)
	return *g, nil
}

// RemoveGroup deletes group id. Its sites stay blocked, ungrouped.
func (r *Registry) RemoveGroup(id string) (model.Group, error) {
	for i := range r.Groups {
		if r.Groups[i].ID == id {
			g := r.Groups[i]
			r.Groups = slices.Delete(r.Groups, i, i+1)
			return g, nil
		}
	}
	return model.Group{}, ErrGroupNotFound
}

// SettingsPatch updates per-site settings. ClearCost removes the cost.
type SettingsPatch struct {
	Cost         *int `json:"cost,omitempty"`
	ClearCost    bool `json:"clearCost,omitempty"`
	CostBaseline *int `json:"costBaseline,omitempty"`
}

// UpdateSiteSettings applies patch to the settings of a blocked site
func (r *Registry) UpdateSiteSettings(domain string, patch SettingsPatch) (model.SiteSettings, error) {
	if !r.IsBlocked(domain) {
		return model.SiteSettings{}, ErrUnknownSite
	}
	if patch.Cost != nil && *patch.Cost < 1 {
		return model.SiteSettings{}, ErrInvalidCost
	}

	s := r.Settings[domain]
	switch {
	case patch.ClearCost:
		s.Cost = nil
	case patch.Cost != nil:
		cost := *patch.Cost
		s.Cost = &cost
	}
	if patch.CostBaseline != nil {
		s.CostBaseline = *patch.CostBaseline
	}
	r.Settings[domain] = s
	return s, nil
}

func (r *Registry) validateGroup(selfID string, in GroupInput) (string, []string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(in.Sites) == 0 {
		return "", nil, ErrEmptyGroup
	}
	if in.Cost != nil && *in.Cost < 1 {
		return "", nil, ErrInvalidCost
	}

	var sites []string
	for _, raw := range in.Sites {
		domain, err := Normalize(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %q", err, raw)
		}
		if slices.Contains(sites, domain) {
			continue
		}
		if owner, ok := r.GroupOf(domain); ok && owner.ID != selfID {
			return "", nil, fmt.Errorf("%w: %s is already in group %q", ErrGroupConflict, domain, owner.Name)
		}
		sites = append(sites, domain)
	}
	return name, sites, nil
}

func (r *Registry) adopt(sites []string) {
	for _, s := range sites {
		if !r.IsBlocked(s) {
			r.Sites = append(r.Sites, s)
		}
	}
}
