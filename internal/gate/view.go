package gate

import (
	"context"
	"time"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/requirement"
)

// SiteStatus is the lock state of one blocked site as shown to the user
type SiteStatus struct {
	Site        string             `json:"site"`
	State       LockState          `json:"state"`
	GroupID     string             `json:"groupId,omitempty"`
	GroupName   string             `json:"groupName,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	Remaining   int64              `json:"remainingSeconds,omitempty"`
	Cost        *requirement.Cost  `json:"cost,omitempty"`
	Requirement requirement.Result `json:"requirement"`
	LockedSince *time.Time         `json:"lockedSince,omitempty"`
}

// View is everything the control surface shows
type View struct {
	Sites        []SiteStatus                  `json:"sites"`
	Tasks        []model.Task                  `json:"tasks"`
	Config       model.Config                  `json:"config"`
	Streak       model.Streak                  `json:"streak"`
	Requirement  requirement.Result            `json:"requirement"`
	Groups       []model.Group                 `json:"siteGroups"`
	SiteSettings map[string]model.SiteSettings `json:"siteSettings"`
	Unlocks      map[string]model.UnlockRecord `json:"unlocks"`
	TimeLog      []model.TimeLogEntry          `json:"timeLog"`
	TaskFilePath string                        `json:"taskFilePath,omitempty"`
}

// State returns the current view. The time log covers the last 7 days.
func (g *Gate) State(ctx context.Context) (*View, error) {
	st, err := g.db.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := g.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()

	v := &View{
		Tasks:        st.Tasks,
		Config:       st.Config,
		Streak:       st.Streak,
		Requirement:  requirement.Evaluate(st.Tasks, st.Config, nil),
		Groups:       st.Groups,
		SiteSettings: st.SiteSettings,
		Unlocks:      st.Unlocks,
		TaskFilePath: st.TaskFilePath,
		Sites:        make([]SiteStatus, 0, len(reg.Sites)),
	}

	weekAgo := now.AddDate(0, 0, -7)
	for _, e := range st.TimeLog {
		if e.UnlockedAt.After(weekAgo) || e.IsRunning() {
			v.TimeLog = append(v.TimeLog, e)
		}
	}

	for _, site := range reg.Sites {
		state, rec := StateOf(reg, st.Unlocks, site, now)
		cost := reg.CostFor(site)
		s := SiteStatus{
			Site:        site,
			State:       state,
			Cost:        cost,
			Requirement: requirement.Evaluate(st.Tasks, st.Config, cost),
			LockedSince: reg.LastLocked(site),
		}
		if grp, ok := reg.GroupOf(site); ok {
			s.GroupID, s.GroupName = grp.ID, grp.Name
		}
		if rec != nil {
			expires := rec.ExpiresAt
			s.ExpiresAt = &expires
			s.Remaining = int64(rec.Remaining(now).Seconds())
		}
		v.Sites = append(v.Sites, s)
	}
	return v, nil
}
