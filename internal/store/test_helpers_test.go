package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vtkindex/internal/resource"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTree creates the root plus the given collections/documents.
// Paths ending in "/" are created as collections.
func createTree(t *testing.T, s *Store, paths ...string) map[string]resource.PropertySet {
	t.Helper()
	ctx := context.Background()
	created := map[string]resource.PropertySet{}

	root, err := s.CreateResource(ctx, NewResource{URI: "/", ResourceType: "collection"})
	require.NoError(t, err)
	created["/"] = root

	for _, p := range paths {
		isCollection := len(p) > 1 && p[len(p)-1] == '/'
		rt := "document"
		if isCollection {
			rt = "collection"
		}
		ps, err := s.CreateResource(ctx, NewResource{URI: p, ResourceType: rt, IsCollection: isCollection})
		require.NoError(t, err, "create %s", p)
		created[ps.URI] = ps
	}
	return created
}

// drain collects every property set from an iterator and closes it.
func drain(t *testing.T, it resource.PropertySetIterator) []resource.PropertySet {
	t.Helper()
	defer it.Close()
	var out []resource.PropertySet
	for it.Next() {
		out = append(out, it.PropertySet())
	}
	require.NoError(t, it.Err())
	return out
}

func uris(sets []resource.PropertySet) []string {
	out := make([]string, len(sets))
	for i, ps := range sets {
		out[i] = ps.URI
	}
	return out
}
