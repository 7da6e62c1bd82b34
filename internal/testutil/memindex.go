package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/vtkindex/internal/resource"
)

// Op is one recorded call against a MemIndex.
type Op struct {
	Kind string
	URI  string
	ID   resource.ID
}

func (o Op) String() string {
	switch o.Kind {
	case OpDeleteByID, OpDeleteTree:
		return fmt.Sprintf("%s %d", o.Kind, o.ID)
	case OpDeleteURI, OpAdd:
		return fmt.Sprintf("%s %s", o.Kind, o.URI)
	default:
		return o.Kind
	}
}

// Recorded op kinds.
const (
	OpLock       = "lock"
	OpUnlock     = "unlock"
	OpDeleteURI  = "delete_uri"
	OpDeleteByID = "delete_id"
	OpDeleteTree = "delete_tree"
	OpAdd        = "add"
	OpCommit     = "commit"
	OpRollback   = "rollback"
)

// ErrLocked is returned by MemIndex.Lock when the lock is already held.
var ErrLocked = errors.New("memindex: already locked")

// MemDoc is one document held by a MemIndex.
type MemDoc struct {
	docID       int
	PropertySet resource.PropertySet
	// Unmappable, when non-empty, makes lookups report the document as
	// unmappable with this reason.
	Unmappable string
}

// MemIndex is an in-memory index that records every call made against it.
//
// Writes are staged and applied on Commit, matching the bleve index. After
// every staged Add the number of staged documents at the uri is checked; an
// Add that leaves more than one document at its uri is recorded as a
// violation (see Violations).
//
// Thread-safety: all methods are safe for concurrent use.
type MemIndex struct {
	mu        sync.Mutex
	committed []MemDoc
	staged    []MemDoc
	dirty     bool
	nextDoc   int
	locked    bool
	ops       []Op

	violations []string
	openIters  int

	lockErr    error
	corruptErr error
	commitErr  error
	urisErr    error
	addErr     map[string]error
}

// NewMemIndex creates an empty index.
func NewMemIndex() *MemIndex {
	return &MemIndex{addErr: map[string]error{}}
}

// Put stores committed documents directly, bypassing staging and recording.
func (m *MemIndex) Put(sets ...resource.PropertySet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ps := range sets {
		m.nextDoc++
		m.committed = append(m.committed, MemDoc{docID: m.nextDoc, PropertySet: ps})
	}
}

// PutUnmappable stores a committed document at uri that cannot be materialised.
func (m *MemIndex) PutUnmappable(uri, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	m.committed = append(m.committed, MemDoc{
		docID:       m.nextDoc,
		PropertySet: resource.PropertySet{URI: uri},
		Unmappable:  reason,
	})
}

// FailLock makes Lock return err.
func (m *MemIndex) FailLock(err error) { m.set(func() { m.lockErr = err }) }

// Corrupt makes ValidateStorageIntegrity return err.
func (m *MemIndex) Corrupt(err error) { m.set(func() { m.corruptErr = err }) }

// FailCommit makes Commit return err. Staged writes are discarded.
func (m *MemIndex) FailCommit(err error) { m.set(func() { m.commitErr = err }) }

// FailURIs makes the uri iterator stop with err after yielding nothing.
func (m *MemIndex) FailURIs(err error) { m.set(func() { m.urisErr = err }) }

// FailAdd makes Add for uri return err.
func (m *MemIndex) FailAdd(uri string, err error) { m.set(func() { m.addErr[uri] = err }) }

func (m *MemIndex) set(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// Ops returns a copy of the recorded calls.
func (m *MemIndex) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.ops...)
}

// OpStrings returns the recorded calls rendered with Op.String.
func (m *MemIndex) OpStrings() []string {
	ops := m.Ops()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// ResetOps clears the recorded calls and violations.
func (m *MemIndex) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	m.violations = nil
}

// Violations returns the uris for which an Add left more than one staged document.
func (m *MemIndex) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// Locked reports whether the write lock is held.
func (m *MemIndex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// OpenIterators returns the number of uri iterators not yet closed.
func (m *MemIndex) OpenIterators() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openIters
}

// Docs returns the committed documents at uri.
func (m *MemIndex) Docs(uri string) []MemDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MemDoc
	for _, d := range m.committed {
		if d.PropertySet.URI == uri {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of committed documents.
func (m *MemIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func (m *MemIndex) ValidateStorageIntegrity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.corruptErr
}

func (m *MemIndex) CountInstances(ctx context.Context, uri string) (int, error) {
	return len(m.Docs(uri)), nil
}

func (m *MemIndex) PropertySetByURI(ctx context.Context, uri string) (resource.Lookup, error) {
	docs := m.Docs(uri)
	lookup := resource.Lookup{Count: len(docs)}
	switch {
	case len(docs) == 0:
		lookup.Status = resource.LookupAbsent
	case len(docs) > 1:
		lookup.Status = resource.LookupAmbiguous
	case docs[0].Unmappable != "":
		lookup.Status = resource.LookupUnmappable
		lookup.Reason = docs[0].Unmappable
	default:
		lookup.Status = resource.LookupFound
		lookup.PropertySet = docs[0].PropertySet
	}
	return lookup, nil
}

func (m *MemIndex) URIs(ctx context.Context) (resource.URIIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := append([]MemDoc(nil), m.committed...)
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].PropertySet.URI < docs[j].PropertySet.URI
	})
	uris := make([]string, len(docs))
	for i, d := range docs {
		uris[i] = d.PropertySet.URI
	}
	if m.urisErr != nil {
		uris = nil
	}
	m.openIters++
	return &sliceURIIterator{uris: uris, err: m.urisErr, onClose: m.iterClosed}, nil
}

func (m *MemIndex) iterClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openIters--
}

func (m *MemIndex) Lock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpLock})
	if m.lockErr != nil {
		return m.lockErr
	}
	if m.locked {
		return ErrLocked
	}
	m.locked = true
	return nil
}

func (m *MemIndex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpUnlock})
	m.locked = false
}

func (m *MemIndex) DeleteURI(ctx context.Context, uri string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpDeleteURI, URI: uri})
	return m.stageDelete(func(d MemDoc) bool { return d.PropertySet.URI == uri }), nil
}

func (m *MemIndex) DeleteByID(ctx context.Context, id resource.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpDeleteByID, ID: id})
	m.stageDelete(func(d MemDoc) bool { return d.Unmappable == "" && d.PropertySet.ID == id })
	return nil
}

func (m *MemIndex) DeleteTreeByID(ctx context.Context, id resource.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpDeleteTree, ID: id})
	m.stageDelete(func(d MemDoc) bool {
		if d.Unmappable != "" {
			return false
		}
		if d.PropertySet.ID == id {
			return true
		}
		for _, a := range d.PropertySet.AncestorIDs {
			if a == id {
				return true
			}
		}
		return false
	})
	return nil
}

func (m *MemIndex) Add(ctx context.Context, ps resource.PropertySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpAdd, URI: ps.URI})
	if err := m.addErr[ps.URI]; err != nil {
		return err
	}
	m.stage()
	m.nextDoc++
	m.staged = append(m.staged, MemDoc{docID: m.nextDoc, PropertySet: ps})

	n := 0
	for _, d := range m.staged {
		if d.PropertySet.URI == ps.URI {
			n++
		}
	}
	if n > 1 {
		m.violations = append(m.violations, ps.URI)
	}
	return nil
}

func (m *MemIndex) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpCommit})
	if !m.dirty {
		return nil
	}
	staged := m.staged
	m.staged, m.dirty = nil, false
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = staged
	return nil
}

func (m *MemIndex) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, Op{Kind: OpRollback})
	m.staged, m.dirty = nil, false
}

// stage starts a staged copy of the committed documents if none exists.
func (m *MemIndex) stage() {
	if m.dirty {
		return
	}
	m.staged = append([]MemDoc(nil), m.committed...)
	m.dirty = true
}

// stageDelete removes matching committed documents from the staged view and
// returns how many committed documents matched.
func (m *MemIndex) stageDelete(match func(MemDoc) bool) int {
	m.stage()
	victims := map[int]bool{}
	for _, d := range m.committed {
		if match(d) {
			victims[d.docID] = true
		}
	}
	kept := m.staged[:0]
	for _, d := range m.staged {
		if !victims[d.docID] {
			kept = append(kept, d)
		}
	}
	m.staged = kept
	return len(victims)
}

type sliceURIIterator struct {
	uris    []string
	pos     int
	err     error
	closed  bool
	onClose func()
}

func (it *sliceURIIterator) Next() bool {
	if it.closed || it.pos >= len(it.uris) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceURIIterator) URI() string { return it.uris[it.pos-1] }

func (it *sliceURIIterator) Err() error { return it.err }

func (it *sliceURIIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.onClose()
	}
	return nil
}
