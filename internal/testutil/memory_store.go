package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/epireve/uk-gateway/pkg/store"
)

// MemoryStore is an in-memory record store. A record is pending until
// PersistEnriched succeeds for it.
type MemoryStore struct {
	mu       sync.Mutex
	names    map[int64]string
	enriched map[int64]store.EnrichedFields
	persists map[int64]int
	failures []store.Failure
	nextID   int64

	fetchCalls int
	countCalls int

	// Injected errors.
	FetchErr    error
	CountErr    error
	FailureErr  error
	PersistErrs map[int64]error

	// OnFetch runs before every FetchPending, outside the lock.
	OnFetch func(afterID int64)
}

// NewMemoryStore creates a store holding one pending record per name,
// with ids starting at 1.
func NewMemoryStore(names ...string) *MemoryStore {
	s := &MemoryStore{
		names:       make(map[int64]string),
		enriched:    make(map[int64]store.EnrichedFields),
		persists:    make(map[int64]int),
		PersistErrs: make(map[int64]error),
	}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts a pending record and returns its id.
func (s *MemoryStore) Add(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.names[s.nextID] = name
	return s.nextID
}

func (s *MemoryStore) pendingAfterLocked(afterID int64) []int64 {
	var ids []int64
	for id := range s.names {
		if _, done := s.enriched[id]; !done && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FetchPending implements the record store read.
func (s *MemoryStore) FetchPending(_ context.Context, afterID int64, limit int) ([]store.Record, error) {
	if s.OnFetch != nil {
		s.OnFetch(afterID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}

	ids := s.pendingAfterLocked(afterID)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]store.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Record{ID: id, Name: s.names[id]})
	}
	return out, nil
}

// CountPendingAfter implements the secondary existence check.
func (s *MemoryStore) CountPendingAfter(_ context.Context, afterID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	return len(s.pendingAfterLocked(afterID)), nil
}

// PersistEnriched marks the record enriched.
func (s *MemoryStore) PersistEnriched(_ context.Context, id int64, f store.EnrichedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists[id]++
	if err := s.PersistErrs[id]; err != nil {
		return err
	}
	if _, ok := s.names[id]; !ok {
		return store.ErrNotFound
	}
	s.enriched[id] = f
	for i := range s.failures {
		if s.failures[i].RecordID == id && s.failures[i].ResolvedAt == nil {
			at := f.EnrichedAt
			s.failures[i].ResolvedAt = &at
		}
	}
	return nil
}

// RecordFailure appends to the ledger.
func (s *MemoryStore) RecordFailure(_ context.Context, f store.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailureErr != nil {
		return s.FailureErr
	}
	s.failures = append(s.failures, f)
	return nil
}

// Enriched returns the fields persisted for id.
func (s *MemoryStore) Enriched(id int64) (store.EnrichedFields, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.enriched[id]
	return f, ok
}

// EnrichedCount returns the number of enriched records.
func (s *MemoryStore) EnrichedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enriched)
}

// PersistCalls returns how many times PersistEnriched was called for id.
func (s *MemoryStore) PersistCalls(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists[id]
}

// Failures returns a copy of the ledger.
func (s *MemoryStore) Failures() []store.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Failure(nil), s.failures...)
}

// FailuresFor returns the ledger rows for one record.
func (s *MemoryStore) FailuresFor(id int64) []store.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Failure
	for _, f := range s.failures {
		if f.RecordID == id {
			out = append(out, f)
		}
	}
	return out
}

// FetchCalls returns the number of FetchPending calls.
func (s *MemoryStore) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// CountCalls returns the number of CountPendingAfter calls.
func (s *MemoryStore) CountCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countCalls
}
