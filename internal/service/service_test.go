package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtkindex/internal/config"
	"github.com/roach88/vtkindex/internal/consistency"
	"github.com/roach88/vtkindex/internal/logging"
	"github.com/roach88/vtkindex/internal/store"
)

func openTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "vtk.db")
	cfg.Index.Path = ""
	cfg.Index.LockTimeout = time.Second
	cfg.Notifier.PollInterval = 10 * time.Millisecond
	cfg.Admin.Listen = ""
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := Open(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	for _, nr := range []store.NewResource{
		{URI: "/", ResourceType: "collection", IsCollection: true},
		{URI: "/reports", ResourceType: "collection", IsCollection: true},
		{URI: "/reports/q1", ResourceType: "file", Properties: map[string]string{"title": "quarterly budget"}},
	} {
		_, err := s.Store().CreateResource(ctx, nr)
		require.NoError(t, err)
	}
}

func doRequest(t *testing.T, h http.Handler, method, target string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, body
}

func TestUpdaterKeepsIndexInStep(t *testing.T) {
	s := openTestService(t, nil)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Notifier().PollChanges(ctx))

	hits, err := s.Index().Search(ctx, "budget", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/reports/q1", hits[0].URI)

	result, err := s.RunCheck(ctx, false, false)
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Consistent())

	pending, err := s.Store().PendingChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDisabledUpdaterDriftIsRepairedByCheck(t *testing.T) {
	s := openTestService(t, func(c *config.Config) { c.Updater.Enabled = false })
	seed(t, s)
	ctx := context.Background()
	assert.False(t, s.UpdaterEnabled())

	require.NoError(t, s.Notifier().PollChanges(ctx))
	n, err := s.Index().DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	result, err := s.RunCheck(ctx, true, false)
	require.NoError(t, err)
	require.NotNil(t, result.Repair)
	assert.Equal(t, 3, result.Repair.Repaired)
	assert.Equal(t, 3, result.Report.Counts[consistency.Missing])

	again, err := s.RunCheck(ctx, false, false)
	require.NoError(t, err)
	assert.True(t, again.Report.Consistent())

	last, ok := s.LastCheck()
	require.True(t, ok)
	assert.Same(t, again, last)
}

func TestPollWaitsForCheckAndRepair(t *testing.T) {
	s := openTestService(t, nil)
	seed(t, s)
	ctx := context.Background()

	// The check sees every resource as missing. A poll started between its
	// scan and its repair must not index them before the repair does.
	polled := make(chan error, 1)
	s.afterScan = func() {
		go func() { polled <- s.Notifier().PollChanges(ctx) }()
		select {
		case <-polled:
			t.Error("change poll ran between scan and repair")
		case <-time.After(50 * time.Millisecond):
		}
	}

	result, err := s.RunCheck(ctx, true, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Report.Counts[consistency.Missing])
	assert.Equal(t, 3, result.Repair.Repaired)

	select {
	case err := <-polled:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not run after the check finished")
	}
	s.afterScan = nil

	for _, uri := range []string{"/", "/reports", "/reports/q1"} {
		n, err := s.Index().CountInstances(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, 1, n, uri)
	}
	again, err := s.RunCheck(ctx, false, false)
	require.NoError(t, err)
	assert.True(t, again.Report.Consistent())
}

func TestRunCheckIsSerialised(t *testing.T) {
	s := openTestService(t, nil)
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	_, err := s.RunCheck(context.Background(), false, false)
	assert.ErrorIs(t, err, ErrCheckRunning)

	res, _ := doRequest(t, s.Handler(), http.MethodPost, "/admin/check")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestAdminCheckEndpoints(t *testing.T) {
	s := openTestService(t, func(c *config.Config) { c.Updater.Enabled = false })
	seed(t, s)
	h := s.Handler()

	res, _ := doRequest(t, h, http.MethodGet, "/admin/check")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body := doRequest(t, h, http.MethodPost, "/admin/check?repair=true")
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var result struct {
		Report struct {
			Inconsistencies []struct {
				URI  string `json:"uri"`
				Kind string `json:"kind"`
			} `json:"inconsistencies"`
		} `json:"report"`
		Repair struct {
			Repaired int `json:"repaired"`
		} `json:"repair"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Report.Inconsistencies, 3)
	assert.Equal(t, "missing", result.Report.Inconsistencies[0].Kind)
	assert.Equal(t, 3, result.Repair.Repaired)

	res, body = doRequest(t, h, http.MethodGet, "/admin/check")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"repaired":3`)

	res, _ = doRequest(t, h, http.MethodPost, "/admin/check?repair=maybe")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAdminUpdaterToggle(t *testing.T) {
	s := openTestService(t, nil)
	h := s.Handler()

	res, body := doRequest(t, h, http.MethodPost, "/admin/updater/disable")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"enabled":false}`, string(body))
	assert.Empty(t, s.Notifier().Observers())

	res, body = doRequest(t, h, http.MethodPost, "/admin/updater/enable")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"enabled":true}`, string(body))
	assert.Len(t, s.Notifier().Observers(), 1)

	res, body = doRequest(t, h, http.MethodGet, "/admin/updater")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"enabled":true}`, string(body))

	res, _ = doRequest(t, h, http.MethodGet, "/admin/updater/enable")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestAdminSearchAndHealth(t *testing.T) {
	s := openTestService(t, nil)
	seed(t, s)
	require.NoError(t, s.Notifier().PollChanges(context.Background()))
	h := s.Handler()

	res, body := doRequest(t, h, http.MethodGet, "/admin/search?q=quarterly")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `"/reports/q1"`)

	res, _ = doRequest(t, h, http.MethodGet, "/admin/search")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := openTestService(t, nil)
	seed(t, s)
	require.NoError(t, s.Notifier().PollChanges(context.Background()))
	_, err := s.RunCheck(context.Background(), false, false)
	require.NoError(t, err)

	res, body := doRequest(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	text := string(body)
	assert.True(t, strings.Contains(text, "vtkindex_index_documents 3"), text)
	assert.Contains(t, text, "vtkindex_consistency_checks_total")
	assert.Contains(t, text, "vtkindex_updater_batches_total")
	assert.Contains(t, text, "vtkindex_changelog_pending_entries 0")
}

func TestRunPollsUntilCancelled(t *testing.T) {
	s := openTestService(t, func(c *config.Config) {
		c.Consistency.Interval = 20 * time.Millisecond
	})
	seed(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := s.Index().DocCount()
		return err == nil && n == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := s.LastCheck()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
