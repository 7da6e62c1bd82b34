package consistency

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtkindex/internal/index"
	"github.com/roach88/vtkindex/internal/resource"
	"github.com/roach88/vtkindex/internal/store"
)

func TestRun_SQLiteAndBleve(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "vtk.db"))
	require.NoError(t, err)
	defer st.Close()

	idx, err := index.Open("")
	require.NoError(t, err)
	defer idx.Close()

	var created []resource.PropertySet
	for _, nr := range []store.NewResource{
		{URI: "/", ResourceType: "collection", IsCollection: true},
		{URI: "/docs", ResourceType: "collection", IsCollection: true},
		{URI: "/docs/a.txt", ResourceType: "file", Properties: map[string]string{"title": "A"}},
		{URI: "/docs/b.txt", ResourceType: "file", OwnACL: true},
	} {
		ps, err := st.CreateResource(ctx, nr)
		require.NoError(t, err)
		created = append(created, ps)
	}
	root, docs, a, b := created[0], created[1], created[2], created[3]

	stale := b
	stale.ACLInheritedFrom = root.ID
	require.NoError(t, idx.Add(ctx, root))
	require.NoError(t, idx.Add(ctx, docs))
	require.NoError(t, idx.Add(ctx, docs))
	require.NoError(t, idx.Add(ctx, stale))
	require.NoError(t, idx.Add(ctx, resource.PropertySet{URI: "/old", ID: 999, ACLInheritedFrom: root.ID}))
	require.NoError(t, idx.Commit(ctx))

	check, err := Run(ctx, idx, st)
	require.NoError(t, err)

	kinds := map[string]Kind{}
	for _, inc := range check.Inconsistencies() {
		kinds[inc.URI] = inc.Kind
	}
	assert.Equal(t, map[string]Kind{
		"/docs": Multiples,
		a.URI:   Missing,
		b.URI:   InvalidACLInheritedFrom,
		"/old":  Dangling,
	}, kinds)

	report, err := check.Repair(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Repaired)

	again, err := Run(ctx, idx, st)
	require.NoError(t, err)
	assert.Empty(t, again.Inconsistencies())
	assert.True(t, again.Report().Consistent())

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}
