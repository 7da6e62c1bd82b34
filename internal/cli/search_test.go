package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFindsRepairedDocuments(t *testing.T) {
	db, idx := testPaths(t)
	seedStore(t, db)

	out, err := execute(t, "search", "--db", db, "--index", idx, "migration")
	require.NoError(t, err)
	assert.Contains(t, out, "no matches")

	_, err = execute(t, "check", "--db", db, "--index", idx, "--repair")
	require.NoError(t, err)

	out, err = execute(t, "search", "--db", db, "--index", idx, "migration")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/plan\tfile")

	out, err = execute(t, "search", "--db", db, "--index", idx, "--format", "json", "migration", "plan")
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			URI string `json:"uri"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "/docs/plan", resp.Data[0].URI)
}

func TestSearchRequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	require.Error(t, err)
}

func TestSearchRejectsBadLimit(t *testing.T) {
	db, idx := testPaths(t)
	_, err := execute(t, "search", "--db", db, "--index", idx, "--limit", "0", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
