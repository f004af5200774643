package model

import "strings"

// UnlockMode selects how the task requirement is evaluated
type UnlockMode string

const (
	UnlockAll     UnlockMode = "all"
	UnlockSection UnlockMode = "section"
)

// DefaultCooldownMinutes is the unlock window length when none is configured
const DefaultCooldownMinutes = 30

// Config is the user-facing unlock configuration
type Config struct {
	CooldownMinutes int        `json:"cooldownMinutes"`
	UnlockMode      UnlockMode `json:"unlockMode"`
	UnlockSection   string     `json:"unlockSection"`
}

// DefaultConfig returns the configuration used on first start
func DefaultConfig() Config {
	return Config{
		CooldownMinutes: DefaultCooldownMinutes,
		UnlockMode:      UnlockAll,
	}
}

// Normalize fills missing or corrupt fields with defaults
func (c Config) Normalize() Config {
	if c.CooldownMinutes <= 0 {
		c.CooldownMinutes = DefaultCooldownMinutes
	}
	if c.UnlockMode != UnlockAll && c.UnlockMode != UnlockSection {
		c.UnlockMode = UnlockAll
	}
	c.UnlockSection = strings.TrimSpace(c.UnlockSection)
	return c
}

// ConfigPatch is a partial update; nil fields are left untouched
type ConfigPatch struct {
	CooldownMinutes *int        `json:"cooldownMinutes,omitempty"`
	UnlockMode      *UnlockMode `json:"unlockMode,omitempty"`
	UnlockSection   *string     `json:"unlockSection,omitempty"`
}

// Apply returns c with the patch applied
func (p ConfigPatch) Apply(c Config) Config {
	if p.CooldownMinutes != nil {
		c.CooldownMinutes = *p.CooldownMinutes
	}
	if p.UnlockMode != nil {
		c.UnlockMode = *p.UnlockMode
	}
	if p.UnlockSection != nil {
		c.UnlockSection = *p.UnlockSection
	}
	return c
}
