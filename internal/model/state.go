package model

import "time"

// State is the full persisted state of one device
type State struct {
	Sites        []string                `json:"sites"`
	Tasks        []Task                  `json:"tasks"`
	Config       Config                  `json:"config"`
	Streak       Streak                  `json:"streak"`
	TimeLog      []TimeLogEntry          `json:"timeLog"`
	Unlocks      map[string]UnlockRecord `json:"unlocks"`
	Groups       []Group                 `json:"siteGroups"`
	SiteSettings map[string]SiteSettings `json:"siteSettings"`
	TaskFilePath string                  `json:"taskFilePath,omitempty"`
}

// SyncSnapshot is the portable projection of State pushed to remote storage.
// Unlock windows and the task file path belong to the device and are left out.
type SyncSnapshot struct {
	Sites        []string                `json:"sites"`
	Tasks        []Task                  `json:"tasks"`
	Config       Config                  `json:"config"`
	Streak       Streak                  `json:"streak"`
	TimeLog      []TimeLogEntry          `json:"timeLog"`
	Groups       []Group                 `json:"siteGroups"`
	SiteSettings map[string]SiteSettings `json:"siteSettings"`
}

// SyncProjection returns the portable part of s
func (s *State) SyncProjection() SyncSnapshot {
	return SyncSnapshot{
		Sites:        s.Sites,
		Tasks:        s.Tasks,
		Config:       s.Config,
		Streak:       s.Streak,
		TimeLog:      s.TimeLog,
		Groups:       s.Groups,
		SiteSettings: s.SiteSettings,
	}
}

// ApplySync overwrites s with a remote snapshot, keeping device-local fields
func (s *State) ApplySync(snap SyncSnapshot) {
	s.Sites = snap.Sites
	s.Tasks = snap.Tasks
	s.Config = snap.Config.Normalize()
	s.Streak = snap.Streak
	s.TimeLog = snap.TimeLog
	s.Groups = snap.Groups
	s.SiteSettings = snap.SiteSettings
}

// BackupEntry is one local full-state snapshot
type BackupEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Snapshot  State     `json:"snapshot"`
}
