package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Ishiihara/chroma/compactor"
	"github.com/Ishiihara/chroma/config"
	"github.com/Ishiihara/chroma/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	mu        sync.Mutex
	jobs      []compactor.JobInfo
	failed    []compactor.FailedJob
	submitted []compactor.Task
	err       error
}

func (a *fakeAdmin) Jobs(context.Context) ([]compactor.JobInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.jobs, nil
}

func (a *fakeAdmin) FailedJobs() []compactor.FailedJob { return a.failed }

func (a *fakeAdmin) Submit(_ context.Context, task compactor.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.submitted = append(a.submitted, task)
	return nil
}

func newTestDebugServer(t *testing.T, cfg config.DebugConfig, admin Admin, ing Ingester) *httptest.Server {
	t.Helper()
	s := NewDebugServer(DebugServerParams{Config: &cfg, Admin: admin, Ingester: ing})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func allEnabled() config.DebugConfig {
	return config.DebugConfig{Enabled: true, MetricsEnabled: true, PProfEnabled: true, AdminEnabled: true}
}

func TestDebugServer_Health(t *testing.T) {
	ts := newTestDebugServer(t, config.DebugConfig{}, nil, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))
}

func TestDebugServer_MetricsAndPprof(t *testing.T) {
	ts := newTestDebugServer(t, allEnabled(), nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	resp.Body.Close()
	assert.Contains(t, vars, "memstats")

	resp, err = http.Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDebugServer_DisabledRoutes(t *testing.T) {
	ts := newTestDebugServer(t, config.DebugConfig{}, &fakeAdmin{}, nil)
	for _, path := range []string{"/metrics", "/debug/pprof/", "/admin/jobs"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestDebugServer_Jobs(t *testing.T) {
	admin := &fakeAdmin{
		jobs:   []compactor.JobInfo{{CollectionID: "c1", Status: "writing"}},
		failed: []compactor.FailedJob{{JobInfo: compactor.JobInfo{CollectionID: "c2", Status: "failed"}}},
	}
	ts := newTestDebugServer(t, allEnabled(), admin, nil)

	resp, err := http.Get(ts.URL + "/admin/jobs")
	require.NoError(t, err)
	var jobs []compactor.JobInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	resp.Body.Close()
	require.Len(t, jobs, 1)
	assert.Equal(t, "c1", jobs[0].CollectionID)

	resp, err = http.Get(ts.URL + "/admin/jobs/failed")
	require.NoError(t, err)
	var failed []compactor.FailedJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	resp.Body.Close()
	require.Len(t, failed, 1)
	assert.Equal(t, "c2", failed[0].CollectionID)
}

func TestDebugServer_JobsUnavailable(t *testing.T) {
	ts := newTestDebugServer(t, allEnabled(), &fakeAdmin{err: errors.New("mailbox closed")}, nil)
	resp, err := http.Get(ts.URL + "/admin/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDebugServer_Compact(t *testing.T) {
	admin := &fakeAdmin{}
	ts := newTestDebugServer(t, allEnabled(), admin, nil)

	resp, err := http.Post(ts.URL+"/admin/collections/c7/compact", contentTypeJSON,
		strings.NewReader(`{"tenant_id":"t1","offset":40,"batch_size":10}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, admin.submitted, 1)
	task := admin.submitted[0]
	assert.Equal(t, "c7", task.CollectionID)
	assert.Equal(t, "t1", task.TenantID)
	assert.Equal(t, int64(40), task.Offset)
	assert.Equal(t, 10, task.BatchSize)

	// An empty body uses defaults.
	resp, err = http.Post(ts.URL+"/admin/collections/c8/compact", contentTypeJSON, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, admin.submitted, 2)
	assert.Equal(t, compactor.DefaultScanBatchSize, admin.submitted[1].BatchSize)
}

func TestDebugServer_CompactBusyCollection(t *testing.T) {
	admin := &fakeAdmin{err: fmt.Errorf("schedule c7: %w", compactor.ErrAlreadyScheduled)}
	ts := newTestDebugServer(t, allEnabled(), admin, nil)

	resp, err := http.Post(ts.URL+"/admin/collections/c7/compact", contentTypeJSON, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, admin.submitted)
}

func TestDebugServer_Ingest(t *testing.T) {
	var got []*core.EmbeddingRecord
	var tenant string
	ing := IngesterFunc(func(_ context.Context, tenantID string, records []*core.EmbeddingRecord) (int, error) {
		tenant, got = tenantID, records
		return len(records), nil
	})
	ts := newTestDebugServer(t, allEnabled(), nil, ing)

	body := `{"tenant_id":"t1","records":[
		{"id":"a","embedding":[1,2],"metadata":{"k":"v"}},
		{"id":"b","operation":"delete"}]}`
	resp, err := http.Post(ts.URL+"/admin/collections/c1/records", contentTypeJSON, strings.NewReader(body))
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out["ingested"])

	assert.Equal(t, "t1", tenant)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].CollectionID)
	assert.Equal(t, core.OperationAdd, got[0].Operation)
	assert.Equal(t, []float32{1, 2}, got[0].Embedding)
	assert.Equal(t, core.OperationDelete, got[1].Operation)
}

func TestDebugServer_IngestRejectsBadInput(t *testing.T) {
	var calls atomic.Int32
	ing := IngesterFunc(func(context.Context, string, []*core.EmbeddingRecord) (int, error) {
		calls.Add(1)
		return 0, nil
	})
	ts := newTestDebugServer(t, allEnabled(), nil, ing)

	for _, body := range []string{`{`, `{"records":[]}`, `{"records":[{"id":"a","operation":"merge"}]}`} {
		resp, err := http.Post(ts.URL+"/admin/collections/c1/records", contentTypeJSON, strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Zero(t, calls.Load())
}
