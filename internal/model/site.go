package model

import (
	"strings"
	"time"
)

// GroupKeyPrefix prefixes unlock records and alarms owned by a group
const GroupKeyPrefix = "group:"

// GroupKey returns the unlock/alarm key for a group
func GroupKey(groupID string) string {
	return GroupKeyPrefix + groupID
}

// ParseGroupKey extracts the group id from a group key
func ParseGroupKey(key string) (string, bool) {
	if !strings.HasPrefix(key, GroupKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, GroupKeyPrefix), true
}

// Group is a set of blocked sites that unlock and relock together and
// share one cost budget.
type Group struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Sites        []string   `json:"sites"`
	Cost         *int       `json:"cost,omitempty"`
	CostBaseline int        `json:"costBaseline"`
	LastLockedAt *time.Time `json:"lastLockedAt,omitempty"`
}

// Has reports whether the group contains the site
func (g *Group) Has(site string) bool {
	for _, s := range g.Sites {
		if s == site {
			return true
		}
	}
	return false
}

// SiteSettings holds per-site cost settings for ungrouped sites
type SiteSettings struct {
	Cost         *int       `json:"cost,omitempty"`
	CostBaseline int        `json:"costBaseline"`
	LastLockedAt *time.Time `json:"lastLockedAt,omitempty"`
}

// UnlockRecord is an active unlock window
type UnlockRecord struct {
	UnlockedAt time.Time `json:"unlockedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Active reports whether the window is still open at now
func (u UnlockRecord) Active(now time.Time) bool {
	return u.ExpiresAt.After(now)
}

// Remaining returns the time left in the window, never negative
func (u UnlockRecord) Remaining(now time.Time) time.Duration {
	if !u.Active(now) {
		return 0
	}
	return u.ExpiresAt.Sub(now)
}
