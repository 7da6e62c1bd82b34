package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtkindex/internal/resource"
	"github.com/roach88/vtkindex/internal/testutil"
)

type recordingObserver struct {
	mu      sync.Mutex
	batches [][]resource.ChangeLogEntry
	err     error
	onCall  func()
}

func (o *recordingObserver) NotifyResourceChanges(ctx context.Context, changes []resource.ChangeLogEntry) error {
	if o.onCall != nil {
		o.onCall()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, changes)
	return o.err
}

func (o *recordingObserver) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

func TestRegisterObserverIsIdempotent(t *testing.T) {
	n := New(testutil.NewMemStore())
	o := &recordingObserver{}

	assert.True(t, n.RegisterObserver(o))
	assert.False(t, n.RegisterObserver(o))
	assert.Len(t, n.Observers(), 1)

	assert.True(t, n.UnregisterObserver(o))
	assert.False(t, n.UnregisterObserver(o))
	assert.Empty(t, n.Observers())
}

func TestPollChangesEmptyLogNotifiesNobody(t *testing.T) {
	log := testutil.NewMemStore()
	n := New(log)
	o := &recordingObserver{}
	n.RegisterObserver(o)

	require.NoError(t, n.PollChanges(context.Background()))
	assert.Zero(t, o.calls())
	assert.Zero(t, log.RemoveCalls())
}

func TestPollChangesDeliversSameBatchToAll(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)
	log.LogChange("/a", 2, false, resource.ChangeModified)
	log.LogChange("/b", 3, true, resource.ChangeDeleted)

	n := New(log)
	first, second := &recordingObserver{}, &recordingObserver{}
	n.RegisterObserver(first)
	n.RegisterObserver(second)

	require.NoError(t, n.PollChanges(context.Background()))

	require.Equal(t, 1, first.calls())
	require.Equal(t, 1, second.calls())
	assert.Equal(t, first.batches[0], second.batches[0])
	require.Len(t, first.batches[0], 2)
	assert.Equal(t, resource.ChangeModified, first.batches[0][0].Type)
	assert.Equal(t, resource.ChangeDeleted, first.batches[0][1].Type)

	assert.Empty(t, log.Pending())
	assert.Equal(t, 1, log.RemoveCalls())

	// Nothing left to deliver.
	require.NoError(t, n.PollChanges(context.Background()))
	assert.Equal(t, 1, first.calls())
	assert.Equal(t, 1, log.RemoveCalls())
}

func TestPollChangesKeepsBatchWhenObserverFails(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)

	n := New(log)
	failing := &recordingObserver{err: errors.New("index locked")}
	healthy := &recordingObserver{}
	n.RegisterObserver(failing)
	n.RegisterObserver(healthy)

	require.NoError(t, n.PollChanges(context.Background()))
	assert.Equal(t, 1, failing.calls())
	assert.Equal(t, 1, healthy.calls(), "every observer is notified even after a failure")
	assert.Len(t, log.Pending(), 1)
	assert.Zero(t, log.RemoveCalls())

	// The batch is redelivered and trimmed once everybody succeeds.
	failing.err = nil
	require.NoError(t, n.PollChanges(context.Background()))
	assert.Equal(t, 2, failing.calls())
	assert.Empty(t, log.Pending())
	assert.Equal(t, 1, log.RemoveCalls())
}

func TestPollChangesKeepsLaterChanges(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)

	n := New(log)
	o := &recordingObserver{}
	// A change arriving while observers run survives the trim.
	o.onCall = func() { log.LogChange("/a", 2, false, resource.ChangeModified) }
	n.RegisterObserver(o)

	require.NoError(t, n.PollChanges(context.Background()))
	pending := log.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, resource.ChangeModified, pending[0].Type)
}

func TestPollChangesReturnsChangeLogErrors(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)
	log.FailChangeLog(errors.New("database is locked"))

	n := New(log)
	o := &recordingObserver{}
	n.RegisterObserver(o)

	err := n.PollChanges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Zero(t, o.calls())
}

func TestPollChangesReturnsTrimErrors(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)
	log.FailRemove(errors.New("readonly database"))

	n := New(log)
	n.RegisterObserver(&recordingObserver{})

	err := n.PollChanges(context.Background())
	require.Error(t, err)
	assert.Len(t, log.Pending(), 1)
}

func TestUnregisterDuringPollUsesSnapshot(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)

	n := New(log)
	second := &recordingObserver{}
	first := &recordingObserver{}
	first.onCall = func() { n.UnregisterObserver(second) }
	n.RegisterObserver(first)
	n.RegisterObserver(second)

	require.NoError(t, n.PollChanges(context.Background()))
	assert.Equal(t, 1, second.calls(), "snapshot taken before the poll still includes second")
	assert.Len(t, n.Observers(), 1)
}

func TestPollChangesIsSerialised(t *testing.T) {
	log := testutil.NewMemStore()
	for i := 0; i < 50; i++ {
		log.LogChange("/r", resource.ID(i+10), false, resource.ChangeCreated)
	}

	n := New(log)
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	o := &recordingObserver{onCall: func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}}
	n.RegisterObserver(o)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.PollChanges(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 1, o.calls(), "one batch, delivered once")
	assert.Empty(t, log.Pending())
}

func TestRunStopsOnCancel(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)
	n := New(log)
	o := &recordingObserver{}
	n.RegisterObserver(o)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(log.Pending()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, o.calls())
}

type panickingObserver struct{}

func (panickingObserver) NotifyResourceChanges(context.Context, []resource.ChangeLogEntry) error {
	panic("index exploded")
}

func TestPollChangesSurvivesPanickingObserver(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)

	n := New(log)
	after := &recordingObserver{}
	n.RegisterObserver(&panickingObserver{})
	n.RegisterObserver(after)

	require.NotPanics(t, func() {
		require.NoError(t, n.PollChanges(context.Background()))
	})

	assert.Equal(t, 1, after.calls())
	assert.Zero(t, log.RemoveCalls())
	assert.Len(t, log.Pending(), 1)
}

func TestPollChangesHoldsGuard(t *testing.T) {
	log := testutil.NewMemStore()
	log.LogChange("/a", 2, false, resource.ChangeCreated)

	var guard sync.Mutex
	n := New(log, WithPollGuard(&guard))
	o := &recordingObserver{}
	n.RegisterObserver(o)

	guard.Lock()
	done := make(chan error, 1)
	go func() { done <- n.PollChanges(context.Background()) }()

	select {
	case <-done:
		t.Fatal("poll ran while the guard was held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, o.calls())

	guard.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not resume after the guard was released")
	}
	assert.Equal(t, 1, o.calls())
	assert.Empty(t, log.Pending())
}
