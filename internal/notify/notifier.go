// Package notify polls the change log and fans each batch out to observers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/vtkindex/internal/metrics"
	"github.com/roach88/vtkindex/internal/resource"
)

// ChangeLog is the backing store's change log.
type ChangeLog interface {
	// MostRecentChangeLogEntries returns at most one entry per resource,
	// the newest, ordered by change id.
	MostRecentChangeLogEntries(ctx context.Context) ([]resource.ChangeLogEntry, error)
	// RemoveChangeLogEntries trims the delivered entries.
	RemoveChangeLogEntries(ctx context.Context, entries []resource.ChangeLogEntry) error
}

// Observer receives change batches. Observers are registered by identity,
// so implementations should be pointers.
type Observer interface {
	NotifyResourceChanges(ctx context.Context, changes []resource.ChangeLogEntry) error
}

// Notifier delivers change-log batches to registered observers.
//
// Entries are trimmed from the log only after every observer has accepted
// the batch. A failing observer keeps the batch in the log; it is delivered
// again, to every observer, on the next poll.
type Notifier struct {
	log     ChangeLog
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex // protects observers
	observers []Observer

	pollMu sync.Mutex  // serialises PollChanges
	guard  sync.Locker // optional; held across each poll
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics records poll outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithPollGuard makes every poll hold l. Callers that read and then mutate
// the index outside the notifier, such as consistency checks, take the same
// lock so that a poll never runs in the middle of them.
func WithPollGuard(l sync.Locker) Option {
	return func(n *Notifier) { n.guard = l }
}

func New(log ChangeLog, opts ...Option) *Notifier {
	n := &Notifier{log: log, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// RegisterObserver adds o. It reports false if o was already registered.
func (n *Notifier) RegisterObserver(o Observer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.observers {
		if existing == o {
			return false
		}
	}
	n.observers = append(n.observers, o)
	return true
}

// UnregisterObserver removes o. It reports false if o was not registered.
func (n *Notifier) UnregisterObserver(o Observer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.observers {
		if existing == o {
			// Copy so snapshots handed out earlier are not disturbed.
			next := make([]Observer, 0, len(n.observers)-1)
			next = append(next, n.observers[:i]...)
			n.observers = append(next, n.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Observers returns a snapshot of the registered observers.
func (n *Notifier) Observers() []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Observer(nil), n.observers...)
}

// PollChanges delivers the pending change batch, if any, to every observer
// and trims it from the log once all of them accepted it.
//
// Observer failures are logged, not returned. Failures to read or trim the
// change log are returned. Concurrent calls are serialised.
func (n *Notifier) PollChanges(ctx context.Context) error {
	n.pollMu.Lock()
	defer n.pollMu.Unlock()
	if n.guard != nil {
		n.guard.Lock()
		defer n.guard.Unlock()
	}

	entries, err := n.log.MostRecentChangeLogEntries(ctx)
	if err != nil {
		n.metrics.NotifierPoll(metrics.ResultFailed, 0)
		return fmt.Errorf("read change log: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	observers := n.Observers()
	failed := 0
	for _, o := range observers {
		if err := notifyObserver(ctx, o, entries); err != nil {
			failed++
			n.logger.Error("observer failed, keeping change batch",
				"observer", fmt.Sprintf("%T", o),
				"entries", len(entries),
				"error", err)
		}
	}
	if failed > 0 {
		n.metrics.NotifierPoll(metrics.ResultFailed, len(entries))
		return nil
	}

	if err := n.log.RemoveChangeLogEntries(ctx, entries); err != nil {
		n.metrics.NotifierPoll(metrics.ResultFailed, len(entries))
		return fmt.Errorf("trim change log: %w", err)
	}
	n.metrics.NotifierPoll(metrics.ResultOK, len(entries))
	n.logger.Debug("change batch delivered", "entries", len(entries), "observers", len(observers))
	return nil
}

// notifyObserver delivers entries to o, turning a panic into an error.
func notifyObserver(ctx context.Context, o Observer, entries []resource.ChangeLogEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.NotifyResourceChanges(ctx, entries)
}

// Run polls every interval until ctx is done. Poll errors are logged and
// polling continues.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info("change notifier started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("change notifier stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := n.PollChanges(ctx); err != nil {
				n.logger.Error("poll changes", "error", err)
			}
		}
	}
}
