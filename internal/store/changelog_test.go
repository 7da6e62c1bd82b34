package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtkindex/internal/resource"
)

func TestMostRecentChangeLogEntries_Empty(t *testing.T) {
	s := createTestStore(t)

	entries, err := s.MostRecentChangeLogEntries(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestMostRecentChangeLogEntries_CoalescesPerResource(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tree := createTree(t, s, "/a", "/b")

	require.NoError(t, s.UpdateProperties(ctx, "/a", map[string]string{"v": "1"}))
	require.NoError(t, s.UpdateProperties(ctx, "/a", map[string]string{"v": "2"}))

	entries, err := s.MostRecentChangeLogEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3, "one entry per resource")

	byID := map[resource.ID]resource.ChangeLogEntry{}
	for _, e := range entries {
		byID[e.ResourceID] = e
	}
	assert.Equal(t, resource.ChangeCreated, byID[tree["/"].ID].Type)
	assert.Equal(t, resource.ChangeCreated, byID[tree["/b"].ID].Type)
	assert.Equal(t, resource.ChangeModified, byID[tree["/a"].ID].Type)
	assert.Equal(t, "/a", byID[tree["/a"].ID].URI)
}

func TestMostRecentChangeLogEntries_DeletedCollection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	tree := createTree(t, s, "/dir/", "/dir/file")
	drainChangeLog(t, s)

	require.NoError(t, s.DeleteResource(ctx, "/dir"))

	entries, err := s.MostRecentChangeLogEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, resource.ChangeDeleted, entries[0].Type)
	assert.Equal(t, tree["/dir"].ID, entries[0].ResourceID)
	assert.True(t, entries[0].IsCollection)
}

func TestMostRecentChangeLogEntries_BatchLimit(t *testing.T) {
	s := createTestStore(t, WithChangeBatchLimit(2))
	createTree(t, s, "/a", "/b", "/c")

	entries, err := s.MostRecentChangeLogEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/", entries[0].URI, "oldest entries first")
	assert.Equal(t, "/a", entries[1].URI)
}

func TestRemoveChangeLogEntries_KeepsLaterChanges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTree(t, s, "/a")

	polled, err := s.MostRecentChangeLogEntries(ctx)
	require.NoError(t, err)
	require.Len(t, polled, 2)

	// A change logged after the poll must survive the trim.
	require.NoError(t, s.UpdateProperties(ctx, "/a", map[string]string{"late": "yes"}))

	require.NoError(t, s.RemoveChangeLogEntries(ctx, polled))

	remaining, err := s.MostRecentChangeLogEntries(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "/a", remaining[0].URI)
	assert.Equal(t, resource.ChangeModified, remaining[0].Type)

	n, err := s.PendingChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemoveChangeLogEntries_Empty(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.RemoveChangeLogEntries(context.Background(), nil))
}
