package consistency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/vtkindex/internal/metrics"
	"github.com/roach88/vtkindex/internal/resource"
)

// Index is the index surface a check reads and repairs.
type Index interface {
	Writer

	ValidateStorageIntegrity(ctx context.Context) error
	CountInstances(ctx context.Context, uri string) (int, error)
	PropertySetByURI(ctx context.Context, uri string) (resource.Lookup, error)
	URIs(ctx context.Context) (resource.URIIterator, error)
	Lock(ctx context.Context) error
	Unlock()
}

// BackingStore is the authoritative source of property sets.
type BackingStore interface {
	// OrderedPropertySets iterates every property set in byte-wise uri order.
	OrderedPropertySets(ctx context.Context) (resource.PropertySetIterator, error)
}

// Check is the result of one scan.
type Check struct {
	id      string
	index   Index
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	started         time.Time
	finished        time.Time
	completed       bool
	repaired        bool // set once a repair pass has started
	inconsistencies []Inconsistency
}

// Option configures a check.
type Option func(*Check)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Check) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records scan and repair outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Check) { c.metrics = m }
}

// WithIDGenerator overrides the UUIDv7 run id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Check) { c.id = g.Generate() }
}

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Check) {
		if now != nil {
			c.now = now
		}
	}
}

// Run validates the index storage and scans the backing store against it.
//
// If the index reports corruption, Run returns a *StorageCorruptionError and
// no check. If the scan fails part way, Run returns the partial check along
// with the error; the check is not completed and cannot be repaired.
func Run(ctx context.Context, index Index, store BackingStore, opts ...Option) (*Check, error) {
	c := &Check{
		index: index,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = UUIDv7Generator{}.Generate()
	}
	c.log = c.log.With("check", c.id)
	c.started = c.now()

	c.log.Info("consistency check starting")

	if err := index.ValidateStorageIntegrity(ctx); err != nil {
		c.finished = c.now()
		c.metrics.CheckFinished(metrics.ResultCorrupt, c.finished.Sub(c.started))
		c.log.Error("index storage corrupt, aborting check", "error", err)
		return nil, &StorageCorruptionError{Err: err}
	}

	err := c.scan(ctx, store)
	c.finished = c.now()
	if err != nil {
		c.metrics.CheckFinished(metrics.ResultFailed, c.finished.Sub(c.started))
		c.log.Error("consistency check failed",
			"error", err,
			"found", len(c.inconsistencies))
		return c, fmt.Errorf("consistency check %s: %w", c.id, err)
	}

	c.completed = true
	c.metrics.CheckFinished(metrics.ResultOK, c.finished.Sub(c.started))
	c.log.Info("consistency check completed",
		"inconsistencies", len(c.inconsistencies),
		"duration", c.finished.Sub(c.started))
	return c, nil
}

// scan walks the backing store in order, classifying each uri against the
// index, then walks the index uris to find the ones the store never named.
func (c *Check) scan(ctx context.Context, store BackingStore) error {
	storeIter, err := store.OrderedPropertySets(ctx)
	if err != nil {
		return fmt.Errorf("open backing store iterator: %w", err)
	}
	defer c.closeIter("backing store iterator", storeIter)

	uriIter, err := c.index.URIs(ctx)
	if err != nil {
		return fmt.Errorf("open index uri iterator: %w", err)
	}
	defer c.closeIter("index uri iterator", uriIter)

	seen := make(map[string]struct{})
	for storeIter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ps := storeIter.PropertySet()
		seen[ps.URI] = struct{}{}
		if err := c.classify(ctx, ps); err != nil {
			return err
		}
	}
	if err := storeIter.Err(); err != nil {
		return fmt.Errorf("scan backing store: %w", err)
	}

	// Each dangling uri is reported once, with the number of documents seen.
	var dangling []string
	counts := make(map[string]int)
	for uriIter.Next() {
		uri := uriIter.URI()
		if _, ok := seen[uri]; ok {
			continue
		}
		if counts[uri] == 0 {
			dangling = append(dangling, uri)
		}
		counts[uri]++
	}
	if err := uriIter.Err(); err != nil {
		return fmt.Errorf("scan index uris: %w", err)
	}
	for _, uri := range dangling {
		c.record(Inconsistency{Kind: Dangling, URI: uri, Count: counts[uri]})
	}
	return nil
}

func (c *Check) classify(ctx context.Context, ps resource.PropertySet) error {
	n, err := c.index.CountInstances(ctx, ps.URI)
	if err != nil {
		return err
	}
	canonical := ps

	switch {
	case n == 0:
		c.record(Inconsistency{Kind: Missing, URI: ps.URI, Canonical: &canonical})
		return nil
	case n > 1:
		c.record(Inconsistency{Kind: Multiples, URI: ps.URI, Count: n, Canonical: &canonical})
		return nil
	}

	lookup, err := c.index.PropertySetByURI(ctx, ps.URI)
	if err != nil {
		return err
	}
	switch lookup.Status {
	case resource.LookupAbsent:
		c.record(Inconsistency{Kind: Missing, URI: ps.URI, Canonical: &canonical})
	case resource.LookupAmbiguous:
		c.record(Inconsistency{Kind: Multiples, URI: ps.URI, Count: lookup.Count, Canonical: &canonical})
	case resource.LookupUnmappable:
		c.record(Inconsistency{Kind: Unmappable, URI: ps.URI, Count: 1, Canonical: &canonical, Reason: lookup.Reason})
	case resource.LookupFound:
		indexed := lookup.PropertySet
		switch {
		case indexed.ID != ps.ID:
			c.record(Inconsistency{Kind: InvalidUUID, URI: ps.URI, Count: 1, Canonical: &canonical, Indexed: &indexed})
		case indexed.ACLInheritedFrom != ps.ACLInheritedFrom:
			c.record(Inconsistency{Kind: InvalidACLInheritedFrom, URI: ps.URI, Count: 1, Canonical: &canonical, Indexed: &indexed})
		}
	}
	return nil
}

func (c *Check) record(inc Inconsistency) {
	c.inconsistencies = append(c.inconsistencies, inc)
	c.metrics.InconsistencyFound(inc.Kind.String())
	c.log.Debug("inconsistency", "kind", inc.Kind, "uri", inc.URI, "count", inc.Count)
}

func (c *Check) closeIter(name string, it io.Closer) {
	if err := it.Close(); err != nil {
		c.log.Warn("failed to close "+name, "error", err)
	}
}

// ID returns the run id.
func (c *Check) ID() string { return c.id }

// Completed reports whether the scan ran to the end.
func (c *Check) Completed() bool { return c.completed }

// Inconsistencies returns a copy of the findings in discovery order.
func (c *Check) Inconsistencies() []Inconsistency {
	return append([]Inconsistency(nil), c.inconsistencies...)
}

// RepairFailure records one repair that did not succeed.
type RepairFailure struct {
	URI   string `json:"uri"`
	Kind  Kind   `json:"kind"`
	Error string `json:"error"`
}

// RepairReport summarises a repair pass.
type RepairReport struct {
	Repaired int             `json:"repaired"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Failures []RepairFailure `json:"failures,omitempty"`
}

// Repair applies the corrective action for every repairable inconsistency
// in discovery order, holding the index write lock for the whole pass.
// Each repair commits on its own.
//
// With abortOnFailure the first failed repair stops the pass and is returned
// as a *RepairError; otherwise failures are logged and collected in the
// report. Unrepairable inconsistencies are skipped.
func (c *Check) Repair(ctx context.Context, abortOnFailure bool) (RepairReport, error) {
	var report RepairReport
	if !c.completed {
		return report, ErrNotCompleted
	}

	if err := c.index.Lock(ctx); err != nil {
		return report, fmt.Errorf("lock index for repair: %w", err)
	}
	defer c.index.Unlock()

	// Checks are one-shot. Findings go stale once repaired, so a second
	// pass must come from a fresh Run.
	if c.repaired {
		return report, ErrAlreadyRepaired
	}
	c.repaired = true

	c.log.Info("repair starting", "inconsistencies", len(c.inconsistencies), "abort_on_failure", abortOnFailure)

	for _, inc := range c.inconsistencies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !inc.CanRepair() {
			report.Skipped++
			c.metrics.Repaired(inc.Kind.String(), metrics.ResultSkipped)
			c.log.Warn("cannot repair inconsistency", "kind", inc.Kind, "uri", inc.URI)
			continue
		}

		if err := repair(ctx, c.index, inc); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, RepairFailure{URI: inc.URI, Kind: inc.Kind, Error: err.Error()})
			c.metrics.Repaired(inc.Kind.String(), metrics.ResultFailed)
			if abortOnFailure {
				c.log.Error("repair failed, aborting", "kind", inc.Kind, "uri", inc.URI, "error", err)
				return report, &RepairError{Inconsistency: inc, Err: err}
			}
			c.log.Error("repair failed", "kind", inc.Kind, "uri", inc.URI, "error", err)
			continue
		}
		report.Repaired++
		c.metrics.Repaired(inc.Kind.String(), metrics.ResultOK)
	}

	c.log.Info("repair finished",
		"repaired", report.Repaired,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

// IsStorageCorruption reports whether err is, or wraps, a *StorageCorruptionError.
func IsStorageCorruption(err error) bool {
	var sce *StorageCorruptionError
	return errors.As(err, &sce)
}
