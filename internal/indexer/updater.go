// Package indexer applies change-log batches to the search index.
//
// Updates are best-effort. A batch either commits as a whole or not at
// all; a batch that fails is dropped, and the drift it leaves behind is
// repaired by the next consistency check. Nothing is retried in place.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/vtkindex/internal/metrics"
	"github.com/roach88/vtkindex/internal/notify"
	"github.com/roach88/vtkindex/internal/resource"
)

// Index is the index surface the updater writes through.
type Index interface {
	Lock(ctx context.Context) error
	Unlock()
	DeleteByID(ctx context.Context, id resource.ID) error
	DeleteTreeByID(ctx context.Context, id resource.ID) error
	DeleteURI(ctx context.Context, uri string) (int, error)
	Add(ctx context.Context, ps resource.PropertySet) error
	Commit(ctx context.Context) error
	Rollback()
}

// BackingStore supplies fresh property sets for upserted uris.
type BackingStore interface {
	PropertySetsForURIs(ctx context.Context, uris []string) (resource.PropertySetIterator, error)
}

// Registry is where an enabled updater registers itself for change batches.
type Registry interface {
	RegisterObserver(o notify.Observer) bool
	UnregisterObserver(o notify.Observer) bool
}

var _ notify.Observer = (*Updater)(nil)

// Updater keeps the index in step with the change log.
type Updater struct {
	index   Index
	store   BackingStore
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	enabled  bool
	registry Registry
	lastErr  error
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.log = l
		}
	}
}

// WithMetrics records batch outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) { u.metrics = m }
}

// New creates a disabled updater. Call Enable to start receiving batches.
func New(index Index, store BackingStore, opts ...Option) *Updater {
	u := &Updater{index: index, store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Enable turns the updater on and registers it with r. r may be nil.
func (u *Updater) Enable(r Registry) {
	u.mu.Lock()
	u.enabled = true
	u.registry = r
	u.mu.Unlock()

	if r != nil && r.RegisterObserver(u) {
		u.log.Info("index updater registered")
	}
}

// Disable turns the updater off and unregisters it. Changes logged while
// disabled never reach the index until a consistency check repairs it.
func (u *Updater) Disable() {
	u.mu.Lock()
	u.enabled = false
	r := u.registry
	u.registry = nil
	u.mu.Unlock()

	if r != nil && r.UnregisterObserver(u) {
		u.log.Info("index updater unregistered")
	}
}

// Enabled reports whether batches are applied.
func (u *Updater) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

// LastError returns the error of the most recent batch, nil if it succeeded.
func (u *Updater) LastError() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// NotifyResourceChanges applies changes to the index. Failures are logged
// and recorded in LastError; the batch is dropped and nil is returned so
// the notifier trims it.
func (u *Updater) NotifyResourceChanges(ctx context.Context, changes []resource.ChangeLogEntry) error {
	if !u.Enabled() {
		u.log.Warn("index updater disabled, dropping change batch", "changes", len(changes))
		u.metrics.UpdaterBatch(metrics.ResultDropped, len(changes))
		return nil
	}

	err := u.apply(ctx, changes)

	u.mu.Lock()
	u.lastErr = err
	u.mu.Unlock()

	if err != nil {
		u.metrics.UpdaterBatch(metrics.ResultFailed, len(changes))
		u.log.Error("index update failed, batch dropped", "changes", len(changes), "error", err)
		return nil
	}
	u.metrics.UpdaterBatch(metrics.ResultOK, len(changes))
	u.log.Debug("index updated", "changes", len(changes))
	return nil
}

// apply holds the index lock for the whole batch: deletions first, then a
// delete and fresh insert for every upserted uri, then a single commit.
func (u *Updater) apply(ctx context.Context, changes []resource.ChangeLogEntry) (err error) {
	if len(changes) == 0 {
		return nil
	}
	if err := u.index.Lock(ctx); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer u.index.Unlock()
	defer func() {
		if err != nil {
			u.index.Rollback()
		}
	}()

	deletions, upserts := partition(changes)

	for _, c := range deletions {
		if c.IsCollection {
			err = u.index.DeleteTreeByID(ctx, c.ResourceID)
		} else {
			err = u.index.DeleteByID(ctx, c.ResourceID)
		}
		if err != nil {
			return fmt.Errorf("delete %s: %w", c.URI, err)
		}
	}

	if len(upserts) > 0 {
		for _, uri := range upserts {
			if _, err := u.index.DeleteURI(ctx, uri); err != nil {
				return fmt.Errorf("delete %s: %w", uri, err)
			}
		}
		if err := u.addFresh(ctx, upserts); err != nil {
			return err
		}
	}

	if err := u.index.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (u *Updater) addFresh(ctx context.Context, uris []string) (err error) {
	it, err := u.store.PropertySetsForURIs(ctx, uris)
	if err != nil {
		return fmt.Errorf("fetch property sets: %w", err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			u.log.Warn("failed to close property set iterator", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	for it.Next() {
		ps := it.PropertySet()
		if err := u.index.Add(ctx, ps); err != nil {
			return fmt.Errorf("add %s: %w", ps.URI, err)
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("fetch property sets: %w", err)
	}
	return nil
}

// partition splits a batch into deletions and the distinct upserted uris,
// each in batch order.
func partition(changes []resource.ChangeLogEntry) (deletions []resource.ChangeLogEntry, upserts []string) {
	seen := make(map[string]bool)
	for _, c := range changes {
		if c.Type.IsDeletion() {
			deletions = append(deletions, c)
			continue
		}
		if !seen[c.URI] {
			seen[c.URI] = true
			upserts = append(upserts, c.URI)
		}
	}
	return deletions, upserts
}
