package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/vtkindex/internal/resource"
)

// MemStore is an in-memory backing store and change log.
//
// Thread-safety: all methods are safe for concurrent use.
type MemStore struct {
	mu         sync.Mutex
	sets       map[string]resource.PropertySet
	changes    []resource.ChangeLogEntry
	nextChange int64

	openIters   int
	removeCalls int
	fetchCalls  int

	scanErr      error
	scanErrAfter int
	changeLogErr error
	removeErr    error
	fetchErr     error
}

// NewMemStore creates a store holding sets.
func NewMemStore(sets ...resource.PropertySet) *MemStore {
	s := &MemStore{sets: map[string]resource.PropertySet{}}
	s.Put(sets...)
	return s
}

// Put stores or replaces property sets without logging changes.
func (s *MemStore) Put(sets ...resource.PropertySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range sets {
		s.sets[ps.URI] = ps
	}
}

// Remove deletes the property set at uri without logging a change.
func (s *MemStore) Remove(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, uri)
}

// LogChange appends a change-log entry and returns its change id.
func (s *MemStore) LogChange(uri string, id resource.ID, isCollection bool, ct resource.ChangeType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChange++
	s.changes = append(s.changes, resource.ChangeLogEntry{
		ChangeID:     s.nextChange,
		URI:          uri,
		ResourceID:   id,
		IsCollection: isCollection,
		Type:         ct,
	})
	return s.nextChange
}

// FailScanAfter makes the ordered iterator stop with err after n property sets.
func (s *MemStore) FailScanAfter(n int, err error) {
	s.set(func() { s.scanErrAfter, s.scanErr = n, err })
}

// FailChangeLog makes MostRecentChangeLogEntries return err.
func (s *MemStore) FailChangeLog(err error) { s.set(func() { s.changeLogErr = err }) }

// FailRemove makes RemoveChangeLogEntries return err.
func (s *MemStore) FailRemove(err error) { s.set(func() { s.removeErr = err }) }

// FailFetch makes PropertySetsForURIs return err.
func (s *MemStore) FailFetch(err error) { s.set(func() { s.fetchErr = err }) }

func (s *MemStore) set(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// OpenIterators returns the number of property-set iterators not yet closed.
func (s *MemStore) OpenIterators() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openIters
}

// RemoveCalls returns how many times RemoveChangeLogEntries succeeded.
func (s *MemStore) RemoveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCalls
}

// FetchCalls returns how many times PropertySetsForURIs was called.
func (s *MemStore) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// Pending returns the raw change-log entries not yet removed.
func (s *MemStore) Pending() []resource.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]resource.ChangeLogEntry(nil), s.changes...)
}

func (s *MemStore) OrderedPropertySets(ctx context.Context) (resource.PropertySetIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := s.sortedLocked(nil)
	s.openIters++
	return &sliceSetIterator{sets: sets, failAfter: s.scanErrAfter, err: s.scanErr, onClose: s.iterClosed}, nil
}

func (s *MemStore) PropertySetsForURIs(ctx context.Context, uris []string) (resource.PropertySetIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	want := make(map[string]bool, len(uris))
	for _, u := range uris {
		want[u] = true
	}
	sets := s.sortedLocked(want)
	s.openIters++
	return &sliceSetIterator{sets: sets, onClose: s.iterClosed}, nil
}

func (s *MemStore) sortedLocked(want map[string]bool) []resource.PropertySet {
	var sets []resource.PropertySet
	for uri, ps := range s.sets {
		if want == nil || want[uri] {
			sets = append(sets, ps)
		}
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].URI < sets[j].URI })
	return sets
}

func (s *MemStore) iterClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openIters--
}

// MostRecentChangeLogEntries coalesces the log to the newest entry per
// resource, ordered by change id.
func (s *MemStore) MostRecentChangeLogEntries(ctx context.Context) ([]resource.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changeLogErr != nil {
		return nil, s.changeLogErr
	}

	latest := map[resource.ID]resource.ChangeLogEntry{}
	for _, e := range s.changes {
		latest[e.ResourceID] = e
	}
	out := make([]resource.ChangeLogEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangeID < out[j].ChangeID })
	return out, nil
}

// RemoveChangeLogEntries removes, per delivered entry, every entry for the
// same resource up to and including the delivered change id.
func (s *MemStore) RemoveChangeLogEntries(ctx context.Context, entries []resource.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}

	upTo := map[resource.ID]int64{}
	for _, e := range entries {
		upTo[e.ResourceID] = e.ChangeID
	}
	kept := s.changes[:0]
	for _, e := range s.changes {
		if limit, ok := upTo[e.ResourceID]; ok && e.ChangeID <= limit {
			continue
		}
		kept = append(kept, e)
	}
	s.changes = kept
	s.removeCalls++
	return nil
}

type sliceSetIterator struct {
	sets      []resource.PropertySet
	pos       int
	failAfter int
	err       error
	failed    bool
	closed    bool
	onClose   func()
}

func (it *sliceSetIterator) Next() bool {
	if it.closed || it.failed {
		return false
	}
	if it.err != nil && it.pos >= it.failAfter {
		it.failed = true
		return false
	}
	if it.pos >= len(it.sets) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceSetIterator) PropertySet() resource.PropertySet { return it.sets[it.pos-1] }

func (it *sliceSetIterator) Err() error {
	if it.failed {
		return it.err
	}
	return nil
}

func (it *sliceSetIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.onClose()
	}
	return nil
}
