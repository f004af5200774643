package model

import (
	"time"
)

// TimeLogEntry records one unlock window for a site. LockedAt stays nil
// while the unlock is still running.
type TimeLogEntry struct {
	ID            int64      `json:"-"`
	Site          string     `json:"site"`
	UnlockedAt    time.Time  `json:"unlockedAt"`
	LockedAt      *time.Time `json:"lockedAt"`
	Paused        bool       `json:"paused,omitempty"`
	Justification string     `json:"justification,omitempty"`
}

// Duration returns how long the site was unlocked.
// Open entries are measured against now.
func (te *TimeLogEntry) Duration(now time.Time) time.Duration {
	if te.LockedAt == nil {
		return now.Sub(te.UnlockedAt)
	}
	return te.LockedAt.Sub(te.UnlockedAt)
}

// IsRunning returns true if this entry has not been closed by a relock
func (te *TimeLogEntry) IsRunning() bool {
	return te.LockedAt == nil
}
