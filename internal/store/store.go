package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// DefaultStaleAfter is the staleness ceiling: a snapshot older than this is
// treated as missing by the health check even if its date still matches.
const DefaultStaleAfter = 2 * time.Hour

// Store holds one snapshot per role and is the single source of truth for
// displayed price data. Writes are whole-snapshot replacements; the store
// itself performs no I/O.
type Store struct {
	mu         sync.RWMutex
	snaps      map[models.Role]*models.Snapshot
	clock      clock.Clock
	staleAfter time.Duration
	logger     *logrus.Entry
}

// New creates an empty store.
func New(clk clock.Clock, staleAfter time.Duration, logger *logrus.Logger) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{
		snaps:      make(map[models.Role]*models.Snapshot),
		clock:      clk,
		staleAfter: staleAfter,
		logger:     logger.WithField("component", "store"),
	}
}

// Set replaces the role's snapshot atomically and stamps FetchedAt.
func (s *Store) Set(snap *models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.FetchedAt = s.clock.Now()
	s.snaps[snap.Role] = snap
}

// Restore installs a snapshot preserving its original FetchedAt, so staleness
// accounting survives a warm start from the mirror.
func (s *Store) Restore(snap *models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Role] = snap
}

// Get returns the role's snapshot. When expectedDate is non-empty and does not
// match the stored date the snapshot is withheld: callers must treat a date
// mismatch identically to "never fetched".
func (s *Store) Get(role models.Role, expectedDate string) *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[role]
	if !ok {
		return nil
	}
	if expectedDate != "" && snap.Date != expectedDate {
		s.logger.WithFields(logrus.Fields{
			"role":     role,
			"stored":   snap.Date,
			"expected": expectedDate,
		}).Warn("Snapshot date mismatch, treating as missing")
		return nil
	}
	return snap
}

// IsStale reports whether the role has no snapshot or its age exceeds the
// staleness ceiling.
func (s *Store) IsStale(role models.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[role]
	if !ok {
		return true
	}
	return s.clock.Now().Sub(snap.FetchedAt) > s.staleAfter
}

// Age returns the snapshot's age, or false if the role has none.
func (s *Store) Age(role models.Role) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[role]
	if !ok {
		return 0, false
	}
	return s.clock.Now().Sub(snap.FetchedAt), true
}

// Clear drops the role's snapshot.
func (s *Store) Clear(role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, role)
}

// ClearAll drops every snapshot.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = make(map[models.Role]*models.Snapshot)
}
