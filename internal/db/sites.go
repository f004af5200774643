package db

import (
	"context"
	"database/sql"

	"github.com/dori/taskgate/internal/model"
)

// Registry is the persisted block list with its groups and per-site settings
type Registry struct {
	Sites    []string
	Groups   []model.Group
	Settings map[string]model.SiteSettings
}

// GetRegistry loads sites, groups and site settings
func (db *DB) GetRegistry(ctx context.Context) (*Registry, error) {
	reg := &Registry{Settings: make(map[string]model.SiteSettings)}

	sites, err := db.getSites(ctx)
	if err != nil {
		return nil, err
	}
	reg.Sites = sites

	if reg.Groups, err = db.getGroups(ctx); err != nil {
		return nil, err
	}
	if reg.Settings, err = db.getSiteSettings(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// SaveRegistry replaces sites, groups and site settings in one transaction
func (db *DB) SaveRegistry(ctx context.Context, reg *Registry) error {
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		return saveRegistry(ctx, tx, reg)
	})
	if err != nil {
		return err
	}
	db.notify(AreaSites, AreaGroups, AreaSiteSettings)
	return nil
}

func (db *DB) getSites(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT domain FROM sites ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := []string{}
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		sites = append(sites, domain)
	}
	return sites, rows.Err()
}

func (db *DB) getGroups(ctx context.Context) ([]model.Group, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, cost, cost_baseline, last_locked_at
		FROM site_groups
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}

	// Collect groups first; member queries need the connection
	groups := []model.Group{}
	for rows.Next() {
		var g model.Group
		var cost sql.NullInt64
		var lastLocked *string
		if err := rows.Scan(&g.ID, &g.Name, &cost, &g.CostBaseline, &lastLocked); err != nil {
			rows.Close()
			return nil, err
		}
		g.Cost = intPtr(cost)
		g.LastLockedAt = parseTimePtr(lastLocked)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	members, err := db.QueryContext(ctx, `SELECT group_id, domain FROM group_sites ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer members.Close()

	byID := make(map[string]int, len(groups))
	for i := range groups {
		byID[groups[i].ID] = i
		groups[i].Sites = []string{}
	}
	for members.Next() {
		var groupID, domain string
		if err := members.Scan(&groupID, &domain); err != nil {
			return nil, err
		}
		if i, ok := byID[groupID]; ok {
			groups[i].Sites = append(groups[i].Sites, domain)
		}
	}
	return groups, members.Err()
}

func (db *DB) getSiteSettings(ctx context.Context) (map[string]model.SiteSettings, error) {
	rows, err := db.QueryContext(ctx, `SELECT domain, cost, cost_baseline, last_locked_at FROM site_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]model.SiteSettings)
	for rows.Next() {
		var domain string
		var s model.SiteSettings
		var cost sql.NullInt64
		var lastLocked *string
		if err := rows.Scan(&domain, &cost, &s.CostBaseline, &lastLocked); err != nil {
			return nil, err
		}
		s.Cost = intPtr(cost)
		s.LastLockedAt = parseTimePtr(lastLocked)
		settings[domain] = s
	}
	return settings, rows.Err()
}

func saveRegistry(ctx context.Context, tx *sql.Tx, reg *Registry) error {
	for _, table := range []string{"group_sites", "site_groups", "sites", "site_settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	for i, domain := range reg.Sites {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO sites (domain, position) VALUES (?, ?)`, domain, i); err != nil {
			return err
		}
	}

	pos := 0
	for i, g := range reg.Groups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO site_groups (id, name, cost, cost_baseline, last_locked_at, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, g.ID, g.Name, nullInt(g.Cost), g.CostBaseline, formatTimePtr(g.LastLockedAt), i)
		if err != nil {
			return err
		}
		for _, domain := range g.Sites {
			_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_sites (domain, group_id, position) VALUES (?, ?, ?)`, domain, g.ID, pos)
			if err != nil {
				return err
			}
			pos++
		}
	}

	for domain, s := range reg.Settings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO site_settings (domain, cost, cost_baseline, last_locked_at)
			VALUES (?, ?, ?, ?)
		`, domain, nullInt(s.Cost), s.CostBaseline, formatTimePtr(s.LastLockedAt))
		if err != nil {
			return err
		}
	}
	return nil
}
