// Package snapshot persists the full set of live scheduling requests and,
// on startup, reconciles the persisted state against the live calendar so
// in-flight negotiations survive a restart.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/korjavin/whosfree/pkg/event"
	"github.com/korjavin/whosfree/pkg/logger"
	"github.com/korjavin/whosfree/pkg/models"
	"github.com/korjavin/whosfree/pkg/storage"
)

const snapshotKey = "snapshot"

// Store reads and writes the snapshot document
type Store struct {
	store  *storage.Store
	logger *logger.Logger
}

// New creates a snapshot store
func New(store *storage.Store) *Store {
	return &Store{
		store:  store,
		logger: logger.New("snapshot"),
	}
}

// Save persists the full event set. It is called at the end of every tick
// and after structural mutations.
func (s *Store) Save(events []*event.Event) error {
	snap := models.Snapshot{Events: make([]models.EventRecord, 0, len(events))}
	for _, e := range events {
		snap.Events = append(snap.Events, e.Record())
	}
	if err := s.store.Set(snapshotKey, snap); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot. A missing snapshot is an empty one.
func (s *Store) Load() (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.store.Get(snapshotKey, &snap)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Snapshot{}, nil
		}
		return models.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

// Reconcile rebuilds events from a snapshot into the registry, resolving
// calendar entry references against the live calendar. A record whose
// required references cannot be resolved is dropped with a logged reason;
// the rest of the snapshot still loads.
func (s *Store) Reconcile(snap models.Snapshot, registry *event.Registry, cal event.Calendar) int {
	restored := 0
	for _, rec := range snap.Events {
		e, err := event.FromRecord(rec)
		if err != nil {
			s.logger.Warn("Dropping persisted event: %v", err)
			continue
		}

		remaining := e.PruneMissingEntries(func(id string) bool {
			_, err := cal.EntryStatus(id)
			return err == nil
		})
		if rec.Created && remaining == 0 {
			s.logger.Warn("Dropping persisted event %q: all calendar entries are gone", rec.Name)
			continue
		}

		if err := registry.Add(e); err != nil {
			s.logger.Warn("Dropping persisted event %q: %v", rec.Name, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info("Restored %d event(s) from snapshot", restored)
	}
	return restored
}
