package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/roach88/vtkindex/internal/resource"
)

// DefaultLockTimeout bounds how long Lock waits for the write lock.
const DefaultLockTimeout = 30 * time.Second

// pageSize is the number of hits fetched per search round trip.
const pageSize = 1000

// ErrLockTimeout is returned when the write lock cannot be acquired in time.
var ErrLockTimeout = errors.New("index write lock timeout")

// Index is a bleve-backed search index of property sets.
//
// Documents get random document ids, so several documents may share a uri;
// that is a defect the consistency check detects, not something the index
// prevents.
//
// Writes (Add, DeleteURI, DeleteByID, DeleteTreeByID) are staged and become
// visible atomically on Commit. Reads always see committed state only.
// Writers are expected to hold the write lock (Lock/Unlock) across a staged
// batch and its Commit.
type Index struct {
	log         *slog.Logger
	bi          bleve.Index
	lock        chan struct{}
	lockTimeout time.Duration

	mu      sync.Mutex // protects pending
	pending *bleve.Batch
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.log = l
		}
	}
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(i *Index) {
		if d > 0 {
			i.lockTimeout = d
		}
	}
}

// Open opens the index at path, creating it if it does not exist.
// An empty path creates an in-memory index.
func Open(path string, opts ...Option) (*Index, error) {
	var bi bleve.Index
	var err error
	created := false

	switch {
	case path == "":
		bi, err = bleve.NewMemOnly(buildIndexMapping())
		created = true
	default:
		bi, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			bi, err = bleve.New(path, buildIndexMapping())
			created = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", path, err)
	}

	if created {
		if err := bi.SetInternal(schemaKey, []byte(SchemaVersion)); err != nil {
			bi.Close()
			return nil, fmt.Errorf("write schema marker: %w", err)
		}
	}

	idx := &Index{
		log:         slog.Default(),
		bi:          bi,
		lock:        make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
		pending:     bi.NewBatch(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Close closes the underlying bleve index. Staged writes are discarded.
func (i *Index) Close() error {
	return i.bi.Close()
}

// Lock acquires the exclusive write lock, waiting at most the configured
// timeout or until ctx is done.
//
// Like sync.Mutex, the lock is not owned by a caller: Unlock releases it
// whoever holds it. Every successful Lock must be paired with exactly one
// Unlock by the same holder, normally deferred right after the Lock.
func (i *Index) Lock(ctx context.Context) error {
	timer := time.NewTimer(i.lockTimeout)
	defer timer.Stop()

	select {
	case i.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrLockTimeout, i.lockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("acquire index lock: %w", ctx.Err())
	}
}

// Unlock releases the write lock. Unlocking an unlocked index is a no-op.
// Only the holder of the lock may call it.
func (i *Index) Unlock() {
	select {
	case <-i.lock:
	default:
	}
}

// ValidateStorageIntegrity checks that the index storage is readable and was
// written under the current schema.
func (i *Index) ValidateStorageIntegrity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	marker, err := i.bi.GetInternal(schemaKey)
	if err != nil {
		return fmt.Errorf("read schema marker: %w", err)
	}
	if string(marker) != SchemaVersion {
		return fmt.Errorf("schema marker %q, expected %q", marker, SchemaVersion)
	}
	count, err := i.bi.DocCount()
	if err != nil {
		return fmt.Errorf("doc count: %w", err)
	}
	res, err := i.bi.SearchInContext(ctx, bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 0, 0, false))
	if err != nil {
		return fmt.Errorf("match all: %w", err)
	}
	if res.Total != count {
		return fmt.Errorf("doc count %d disagrees with match-all total %d", count, res.Total)
	}
	return nil
}

// DocCount returns the number of committed documents.
func (i *Index) DocCount() (uint64, error) {
	return i.bi.DocCount()
}

// CountInstances returns how many documents exist at uri.
func (i *Index) CountInstances(ctx context.Context, uri string) (int, error) {
	res, err := i.bi.SearchInContext(ctx, bleve.NewSearchRequestOptions(termQuery(fieldURI, uri), 0, 0, false))
	if err != nil {
		return 0, fmt.Errorf("count instances %s: %w", uri, err)
	}
	return int(res.Total), nil
}

// PropertySetByURI materialises the document at uri.
//
// Absent, unmappable and ambiguous documents are reported through the
// Lookup status; the error is reserved for index failures.
func (i *Index) PropertySetByURI(ctx context.Context, uri string) (resource.Lookup, error) {
	req := bleve.NewSearchRequestOptions(termQuery(fieldURI, uri), 2, 0, false)
	req.Fields = []string{"*"}
	res, err := i.bi.SearchInContext(ctx, req)
	if err != nil {
		return resource.Lookup{}, fmt.Errorf("lookup %s: %w", uri, err)
	}

	lookup := resource.Lookup{Count: int(res.Total)}
	switch {
	case res.Total == 0:
		lookup.Status = resource.LookupAbsent
	case res.Total > 1:
		lookup.Status = resource.LookupAmbiguous
	default:
		ps, reason, ok := fromFields(res.Hits[0].Fields)
		if !ok {
			lookup.Status = resource.LookupUnmappable
			lookup.Reason = reason
			break
		}
		lookup.Status = resource.LookupFound
		lookup.PropertySet = ps
	}
	return lookup, nil
}

// URIs returns an iterator over the uri of every committed document in
// byte-wise uri order. A uri appears once per document.
func (i *Index) URIs(ctx context.Context) (resource.URIIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &uriIterator{ctx: ctx, bi: i.bi}, nil
}

// Add stages a new document for ps.
func (i *Index) Add(ctx context.Context, ps resource.PropertySet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.pending.Index(uuid.NewString(), toDocument(ps)); err != nil {
		return fmt.Errorf("add %s: %w", ps.URI, err)
	}
	return nil
}

// DeleteURI stages the deletion of every document at uri and returns how many were found.
func (i *Index) DeleteURI(ctx context.Context, uri string) (int, error) {
	ids, err := i.docIDs(ctx, termQuery(fieldURI, uri))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", uri, err)
	}
	i.stageDeletes(ids)
	return len(ids), nil
}

// DeleteByID stages the deletion of every document for resource id.
func (i *Index) DeleteByID(ctx context.Context, id resource.ID) error {
	ids, err := i.docIDs(ctx, termQuery(fieldResourceID, formatID(id)))
	if err != nil {
		return fmt.Errorf("delete resource %d: %w", id, err)
	}
	i.stageDeletes(ids)
	return nil
}

// DeleteTreeByID stages the deletion of resource id and all its descendants.
func (i *Index) DeleteTreeByID(ctx context.Context, id resource.ID) error {
	q := bleve.NewDisjunctionQuery(
		termQuery(fieldResourceID, formatID(id)),
		termQuery(fieldAncestorIDs, formatID(id)),
	)
	ids, err := i.docIDs(ctx, q)
	if err != nil {
		return fmt.Errorf("delete tree %d: %w", id, err)
	}
	i.stageDeletes(ids)
	return nil
}

// Commit applies all staged writes atomically.
func (i *Index) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Size() == 0 {
		return nil
	}
	err := i.bi.Batch(i.pending)
	// A failed batch is discarded, not retried; the caller relies on the
	// next consistency check to repair whatever was lost.
	i.pending.Reset()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards staged writes.
func (i *Index) Rollback() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending.Reset()
}

// Search runs a query-string search over the indexed documents and returns
// the matching property sets. Unmappable hits are skipped.
func (i *Index) Search(ctx context.Context, text string, limit int) ([]resource.PropertySet, error) {
	if limit <= 0 {
		limit = 25
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(text), limit, 0, false)
	req.Fields = []string{"*"}
	res, err := i.bi.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}

	out := make([]resource.PropertySet, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ps, reason, ok := fromFields(hit.Fields)
		if !ok {
			i.log.Debug("search: skipping unmappable hit", "doc", hit.ID, "reason", reason)
			continue
		}
		out = append(out, ps)
	}
	return out, nil
}

func (i *Index) stageDeletes(docIDs []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range docIDs {
		i.pending.Delete(id)
	}
}

// docIDs returns the ids of all committed documents matching q.
func (i *Index) docIDs(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	for {
		req := bleve.NewSearchRequestOptions(q, pageSize, 0, false)
		req.SortBy([]string{"_id"})
		if len(ids) > 0 {
			req.SetSearchAfter([]string{ids[len(ids)-1]})
		}
		res, err := i.bi.SearchInContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pageSize {
			return ids, nil
		}
	}
}

func termQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}
