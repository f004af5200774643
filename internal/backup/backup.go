// Package backup keeps the local ring of full-state snapshots and mirrors
// a portable projection of the state to remote storage.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/syncstore"
	"github.com/dori/taskgate/internal/telemetry"
)

// Capacity is the number of local backups kept
const Capacity = 5

var (
	ErrNoBackup = errors.New("no backup to restore")
	ErrNoRemote = errors.New("remote sync is not configured")
)

// Store is the local state the manager snapshots
type Store interface {
	LoadState(ctx context.Context) (*model.State, error)
	ReplaceState(ctx context.Context, st *model.State) error
	PushBackup(ctx context.Context, entry model.BackupEntry, capacity int) error
	ListBackups(ctx context.Context) ([]model.BackupEntry, error)
}

// Status summarizes the local backup ring
type Status struct {
	Count  int        `json:"count"`
	Newest *time.Time `json:"newest,omitempty"`
}

// RemoteStatus describes the remote snapshot
type RemoteStatus struct {
	Configured bool            `json:"configured"`
	Meta       *syncstore.Meta `json:"meta,omitempty"`
}

// Manager creates, lists and restores backups and remote snapshots
type Manager struct {
	store   Store
	remote  syncstore.ObjectStore
	metrics *telemetry.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New creates a manager. remote may be nil when sync isn't configured.
func New(store Store, remote syncstore.ObjectStore, metrics *telemetry.Metrics, log *slog.Logger) *Manager {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Manager{store: store, remote: remote, metrics: metrics, log: log, now: time.Now}
}

// Create pushes a snapshot of the current state onto the ring
func (m *Manager) Create(ctx context.Context) (model.BackupEntry, error) {
	st, err := m.store.LoadState(ctx)
	if err != nil {
		return model.BackupEntry{}, fmt.Errorf("failed to load state: %w", err)
	}
	entry := model.BackupEntry{
		ID:        uuid.New().String(),
		CreatedAt: m.now(),
		Snapshot:  *st,
	}
	if err := m.store.PushBackup(ctx, entry, Capacity); err != nil {
		return model.BackupEntry{}, fmt.Errorf("failed to store backup: %w", err)
	}
	m.log.Info("Backup created", "id", entry.ID)
	return entry, nil
}

// Restore replaces the current state with the newest backup
func (m *Manager) Restore(ctx context.Context) (model.BackupEntry, error) {
	entries, err := m.store.ListBackups(ctx)
	if err != nil {
		return model.BackupEntry{}, err
	}
	if len(entries) == 0 {
		return model.BackupEntry{}, ErrNoBackup
	}
	newest := entries[0]
	if err := m.store.ReplaceState(ctx, &newest.Snapshot); err != nil {
		return model.BackupEntry{}, fmt.Errorf("failed to restore backup: %w", err)
	}
	m.log.Info("Backup restored", "id", newest.ID, "created_at", newest.CreatedAt)
	return newest, nil
}

// Status reports the size of the ring and its newest entry
func (m *Manager) Status(ctx context.Context) (Status, error) {
	entries, err := m.store.ListBackups(ctx)
	if err != nil {
		return Status{}, err
	}
	s := Status{Count: len(entries)}
	if len(entries) > 0 {
		s.Newest = &entries[0].CreatedAt
	}
	return s, nil
}

// Push writes the portable projection of the current state to the remote
func (m *Manager) Push(ctx context.Context) error {
	if m.remote == nil {
		return ErrNoRemote
	}
	st, err := m.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	raw, err := json.Marshal(st.SyncProjection())
	if err != nil {
		return err
	}
	if err := m.remote.Put(ctx, raw); err != nil {
		m.metrics.SyncFailed(ctx, "push")
		return err
	}
	m.metrics.SyncPushed(ctx)
	return nil
}

// RestoreRemote backs up the local state, then overwrites it with the remote
// snapshot. Unlock windows and the task file path stay as they are on this
// device.
func (m *Manager) RestoreRemote(ctx context.Context) error {
	if m.remote == nil {
		return ErrNoRemote
	}
	raw, err := m.remote.Get(ctx)
	if err != nil {
		m.metrics.SyncFailed(ctx, "restore")
		return err
	}
	var snap model.SyncSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: %v", syncstore.ErrNoSnapshot, err)
	}

	if _, err := m.Create(ctx); err != nil {
		return fmt.Errorf("failed to take safety backup: %w", err)
	}

	st, err := m.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	st.ApplySync(snap)
	if err := m.store.ReplaceState(ctx, st); err != nil {
		return fmt.Errorf("failed to apply snapshot: %w", err)
	}
	m.log.Info("Remote snapshot restored")
	return nil
}

// RemoteStatus reports the remote meta record, if any
func (m *Manager) RemoteStatus(ctx context.Context) (RemoteStatus, error) {
	if m.remote == nil {
		return RemoteStatus{}, nil
	}
	meta, err := m.remote.Meta(ctx)
	if errors.Is(err, syncstore.ErrNoSnapshot) {
		return RemoteStatus{Configured: true}, nil
	}
	if err != nil {
		return RemoteStatus{}, err
	}
	return RemoteStatus{Configured: true, Meta: &meta}, nil
}
