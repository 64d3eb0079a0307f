package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/bootstrap"
	"github.com/JonMunkholm/poimport/internal/config"
	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target/memtarget"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Import.Strategy = "standalone"
	cfg.Import.StandardsWorkspaceName = "PMO Standards"
	cfg.Import.BatchSize = 100
	cfg.Import.MaxConcurrent = 1
	cfg.Import.MaxWaitTime = 20 * time.Millisecond
	cfg.Import.Timeout = time.Minute
	cfg.Retry = config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.Ledger.Driver = "memory"
	cfg.Server.RequestTimeout = 10 * time.Second
	return cfg
}

func apollo() *source.ProjectData {
	return &source.ProjectData{
		Project: source.Project{ID: "p-1", Name: "Apollo"},
		Tasks: []source.Task{
			{ID: "t-1", Name: "Design", TaskIndex: 1, OutlineLevel: 1},
			{ID: "t-2", Name: "Build", TaskIndex: 2, OutlineLevel: 1},
		},
	}
}

type testServer struct {
	srv  *Server
	orch *core.Orchestrator
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	inj := bootstrap.BuildContainer(cfg, bootstrap.Overrides{
		Source: source.NewStatic(apollo()),
		Target: memtarget.New(),
		Logger: zap.NewNop(),
	})
	t.Cleanup(func() { _ = inj.Shutdown() })

	orch := do.MustInvoke[*core.Orchestrator](inj)
	return &testServer{srv: NewServer(orch, cfg, zap.NewNop()), orch: orch}
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

// startImport posts an import for p-1 and waits for it to finish.
func (ts *testServer) startImport(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/imports/p-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted importAccepted
	require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.RunID)
	assert.Equal(t, "/api/imports/"+accepted.RunID, rec.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := ts.orch.Wait(ctx, accepted.RunID)
	require.NoError(t, err)
	return accepted.RunID
}

// ---- Health ----

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"dryRun":false`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

// ---- Imports ----

func TestStartImport(t *testing.T) {
	ts := newTestServer(t, testConfig())
	runID := ts.startImport(t)

	rec := ts.do(http.MethodGet, "/api/imports/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p core.ImportProgress
	require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, core.PhaseComplete, p.Phase)
	assert.Equal(t, core.StageDone, p.Stage)
	assert.Equal(t, 100, p.Percent())

	rec = ts.do(http.MethodGet, "/api/imports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID)

	rec = ts.do(http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run ledger.Run
	require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
	assert.False(t, run.DryRun)

	rec = ts.do(http.MethodGet, "/api/mappings/p-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Apollo")
}

func TestStartImport_BadBody(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"templateId":`},
		{"negative template", `{"templateId":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/imports/p-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"REQ001"`)
		})
	}
}

func TestStartImport_Saturated(t *testing.T) {
	ts := newTestServer(t, testConfig())

	limiter := ts.orch.Limiter()
	require.True(t, limiter.TryAcquire())
	defer limiter.Release()

	rec := ts.do(http.MethodPost, "/api/imports/p-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestImport_UnknownRun(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/imports/missing"},
		{http.MethodPost, "/api/imports/missing/cancel"},
		{http.MethodGet, "/api/imports/missing/events"},
		{http.MethodGet, "/api/runs/missing"},
		{http.MethodGet, "/api/mappings/missing"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestImportEvents(t *testing.T) {
	ts := newTestServer(t, testConfig())
	runID := ts.startImport(t)

	rec := ts.do(http.MethodGet, "/api/imports/"+runID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 100\nevent: progress\n")
	assert.Contains(t, body, `"phase":"complete"`)
	assert.True(t, strings.HasSuffix(body, "event: complete\ndata: {}\n\n"))
}

func TestImportEvents_ResumeStillSendsFinal(t *testing.T) {
	ts := newTestServer(t, testConfig())
	runID := ts.startImport(t)

	rec := ts.do(http.MethodGet, "/api/imports/"+runID+"/events", "", "Last-Event-ID", "100")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"complete"`)
}

// ---- Runs ----

func TestListRuns(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	runID := ts.startImport(t)

	rec = ts.do(http.MethodGet, "/api/runs?project=p-1&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []ledger.Run
	require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)

	rec = ts.do(http.MethodGet, "/api/runs?project=p-2", "")
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

// ---- Catalog ----

func TestEnsureCatalog(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodPost, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cat core.Catalog
	require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &cat))
	assert.Equal(t, "PMO Standards", cat.WorkspaceName)
	assert.NotEmpty(t, cat.Sheets)
}

// ---- Index page ----

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "No runs recorded.")

	runID := ts.startImport(t)

	rec = ts.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Recent runs")
	assert.Contains(t, body, "In progress")
	assert.Contains(t, body, runID[:8])
	assert.Contains(t, body, "Apollo (p-1)")
	assert.Contains(t, body, "succeeded")
}

func TestIndexPage_WithAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	ts := newTestServer(t, cfg)

	rec := ts.do(http.MethodGet, "/", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ---- Auth ----

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/runs", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/runs", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/imports/x/events", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/runs", "", "X-API-Key", "secret").Code)
}
