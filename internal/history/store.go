// Package history maintains the newest-first list of past screening
// encounters, reconciling optimistic local entries with the authoritative
// archive.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/retina-screening-gateway/internal/archive"
	"github.com/retina-screening-gateway/internal/domain"
)

// Store owns the in-memory ordered sequence of history entries. Refresh and
// the submission workflow may interleave freely; the keyed merge below is
// what keeps that safe rather than coarse mutual exclusion.
type Store struct {
	logger  *logrus.Logger
	remote  domain.Archive
	cache   archive.Store // optional local mirror, may be nil
	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// New creates a history store backed by the remote archive. cache may be nil
// when no local mirror is configured.
func New(logger *logrus.Logger, remote domain.Archive, cache archive.Store) *Store {
	return &Store{logger: logger, remote: remote, cache: cache}
}

// Entries returns a copy of the current newest-first sequence.
func (s *Store) Entries() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// AppendOptimistic prepends an entry immediately after a successful local
// submission, without waiting for the archive to confirm it. The entry may
// lack a document reference; display logic treats that as generation in
// progress, not as an error.
func (s *Store) AppendOptimistic(entry domain.HistoryEntry) {
	entry.Optimistic = true

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace rather than duplicate if the same encounter was already
	// appended (a reset-and-resubmit reuses nothing, so this is rare).
	for i := range s.entries {
		if s.entries[i].ReportID == entry.ReportID {
			s.entries[i] = entry
			return
		}
	}
	s.entries = append([]domain.HistoryEntry{entry}, s.entries...)
}

// Refresh fetches the authoritative list and resynchronizes the in-memory
// sequence: the server list becomes the basis, a server entry always wins
// over an optimistic one with the same report id, and optimistic entries the
// archive has not persisted yet are retained at the top. This is the only
// operation that removes a stale optimistic entry. A failed fetch leaves the
// current sequence untouched.
func (s *Store) Refresh(ctx context.Context) error {
	authoritative, err := s.remote.ListReports(ctx)
	if err != nil {
		return fmt.Errorf("refreshing history: %w", err)
	}

	s.mu.Lock()
	seen := make(map[domain.ReportID]struct{}, len(authoritative))
	for i := range authoritative {
		authoritative[i].Optimistic = false
		seen[authoritative[i].ReportID] = struct{}{}
	}

	var pending []domain.HistoryEntry
	for _, e := range s.entries {
		if !e.Optimistic {
			continue
		}
		if _, confirmed := seen[e.ReportID]; !confirmed {
			pending = append(pending, e)
		}
	}

	merged := append(pending, authoritative...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	s.entries = merged
	snapshot := make([]domain.HistoryEntry, len(merged))
	copy(snapshot, merged)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"authoritative": len(authoritative),
		"pending":       len(pending),
	}).Info("History resynchronized from archive")

	if s.cache != nil {
		if cerr := s.cache.ReplaceAll(ctx, snapshot); cerr != nil {
			s.logger.WithError(cerr).Warn("Failed to mirror history into local cache")
		}
	}
	return nil
}

// LoadCached seeds the in-memory sequence from the local mirror. Used at
// startup and when the archive is unreachable; a server refresh later
// supersedes whatever was loaded.
func (s *Store) LoadCached(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading cached history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		s.entries = cached
	}
	return nil
}
