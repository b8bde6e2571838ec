package connector

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Polqt/workspacesync/internal/bridge"
	"github.com/Polqt/workspacesync/internal/crdt"
	"github.com/Polqt/workspacesync/internal/hub"
	"github.com/Polqt/workspacesync/internal/metrics"
	"github.com/Polqt/workspacesync/internal/storage"
)

// Manager holds the single in-memory Replica and Bridge per workspace
// that spec §3 requires ("the process holds at most one in-memory
// Replica per workspace, shared across Sessions"), materializing them
// from Storage on first access and keeping them until Release finds the
// workspace's Hub without subscribers.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*workspaceEntry
	store    storage.Store
	registry *hub.Registry
	logger   zerolog.Logger
}

type workspaceEntry struct {
	replica *crdt.Replica
	bridge  *bridge.Bridge
	hub     *hub.Hub
}

// NewManager creates a Manager backed by store and registry.
func NewManager(store storage.Store, registry *hub.Registry, logger zerolog.Logger) *Manager {
	return &Manager{
		entries:  make(map[string]*workspaceEntry),
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Acquire returns the shared Replica and Hub for workspaceID, loading
// the Replica from Storage (or creating an empty one) and wiring its
// Bridge the first time the workspace is seen.
func (m *Manager) Acquire(workspaceID string) (*crdt.Replica, *hub.Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[workspaceID]; ok {
		return e.replica, e.hub, nil
	}

	replica, err := m.loadReplica(workspaceID)
	if err != nil {
		return nil, nil, err
	}

	h := m.registry.GetOrCreate(workspaceID)
	metrics.ActiveWorkspaces.Set(float64(len(m.registry.WorkspaceIDs())))
	b := bridge.Wire(replica, h)

	m.wirePersistence(workspaceID, replica)

	m.entries[workspaceID] = &workspaceEntry{replica: replica, bridge: b, hub: h}
	return replica, h, nil
}

// Release drops workspaceID's in-memory Replica/Bridge and its Hub entry
// once the Hub has no remaining subscribers, so a disconnecting
// Connector doesn't leak its workspace forever (spec §4.5's Closing
// state: "trigger Registry GC if now empty"). A subsequent Acquire
// rebuilds the workspace from Storage from scratch. No-op if the
// workspace isn't loaded, or its Hub still has subscribers.
func (m *Manager) Release(workspaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[workspaceID]
	if !ok {
		return
	}
	if !m.registry.ReleaseIfEmpty(workspaceID) {
		return
	}
	e.bridge.Close()
	delete(m.entries, workspaceID)
	metrics.ActiveWorkspaces.Set(float64(len(m.registry.WorkspaceIDs())))
}

// KickUser asks every connector on workspaceID whose authenticated user
// is userID to close, by publishing a CloseUserEvent on its Hub (spec
// §4.6's CloseUser-driven GC scan). Reports false if the workspace has
// no loaded Hub (nobody is connected).
func (m *Manager) KickUser(workspaceID, userID, reason string) bool {
	h, ok := m.registry.Get(workspaceID)
	if !ok {
		return false
	}
	h.Publish(hub.CloseUserEvent{UserID: userID, Reason: reason}, "")
	return true
}

// CloseWorkspace asks every connector on workspaceID to close, by
// publishing a CloseAllEvent on its Hub (spec §4.6's CloseAll-driven GC
// scan). Reports false if the workspace has no loaded Hub.
func (m *Manager) CloseWorkspace(workspaceID, reason string) bool {
	h, ok := m.registry.Get(workspaceID)
	if !ok {
		return false
	}
	h.Publish(hub.CloseAllEvent{Reason: reason}, "")
	return true
}

func (m *Manager) loadReplica(workspaceID string) (*crdt.Replica, error) {
	snapshot, updates, err := m.store.Load(workspaceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		replica := crdt.NewReplica(workspaceID)
		// Persist an empty snapshot up front: Load reports ErrNotFound for
		// a workspace without one, so an update log alone would not be
		// found again after a restart.
		empty, err := replica.Snapshot()
		if err != nil {
			return nil, err
		}
		if err := m.store.SaveSnapshot(workspaceID, empty); err != nil {
			metrics.StorageErrorsTotal.WithLabelValues("save_snapshot").Inc()
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("persist initial snapshot failed")
		}
		return replica, nil
	case err != nil:
		metrics.StorageErrorsTotal.WithLabelValues("load").Inc()
		return nil, err
	}

	replica, err := crdt.FromSnapshot(workspaceID, snapshot)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if err := replica.ApplyUpdate(u); err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("drop malformed stored update")
		}
	}
	return replica, nil
}

// wirePersistence appends every committed doc update to Storage
// (spec §4.2's write-through algorithm), compacting into a fresh
// snapshot once the store's threshold is crossed.
func (m *Manager) wirePersistence(workspaceID string, replica *crdt.Replica) {
	replica.ObserveDoc(func(update []byte, origin string) {
		if err := m.store.AppendUpdate(workspaceID, update); err != nil {
			metrics.StorageErrorsTotal.WithLabelValues("append_update").Inc()
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("persist update failed, retaining only in-memory state")
			return
		}
		if !m.store.ShouldCompact(workspaceID) {
			return
		}
		snapshot, err := replica.Snapshot()
		if err != nil {
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("encode snapshot for compaction failed")
			return
		}
		if err := m.store.SaveSnapshot(workspaceID, snapshot); err != nil {
			metrics.StorageErrorsTotal.WithLabelValues("save_snapshot").Inc()
			m.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("compaction failed")
			return
		}
		metrics.CompactionsTotal.Inc()
	})
}
