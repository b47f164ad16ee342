package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veilhq/stealthcrawler/internal/acquire"
	"github.com/veilhq/stealthcrawler/internal/challenge"
	"github.com/veilhq/stealthcrawler/internal/config"
	"github.com/veilhq/stealthcrawler/internal/metrics"
	"github.com/veilhq/stealthcrawler/internal/orchestrator"
	"github.com/veilhq/stealthcrawler/internal/profile"
	queuemem "github.com/veilhq/stealthcrawler/internal/queue/memory"
	"github.com/veilhq/stealthcrawler/internal/scheduler"
	storemem "github.com/veilhq/stealthcrawler/internal/storage/memory"
	"github.com/veilhq/stealthcrawler/internal/stealth"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("job-%d", g.next), nil
}

// fakeExecutor returns the scripted result or error on every call.
type fakeExecutor struct {
	mu     sync.Mutex
	result *acquire.Result
	err    error
	calls  int
}

func (e *fakeExecutor) Execute(_ context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	attempt := orchestrator.Attempt{ProfileName: "chrome-win-01", PathKey: "alpha:us-east", Level: job.StealthLevel}
	if e.err != nil {
		return nil, attempt, e.err
	}
	return e.result, attempt, nil
}

type testEnv struct {
	server *Server
	store  *storemem.JobStore
	queue  *queuemem.Queue
	exec   *fakeExecutor
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	metrics.Init()

	clock := fixedClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	store := storemem.NewJobStore(clock)
	queue := queuemem.NewQueue(16, clock)
	exec := &fakeExecutor{
		result: &acquire.Result{
			URL:        "https://news.example.com/prices",
			Structured: map[string]any{"title": "Prices"},
			RawContent: "<html><body>Prices</body></html>",
			Metadata: acquire.ResultMetadata{
				ProfileUsed:  "chrome-win-01",
				PathUsed:     "alpha:us-east",
				StealthLevel: 2,
			},
		},
	}
	sched := scheduler.New(scheduler.Config{Workers: 1, MaxAttempts: 3}, queue, store, exec, clock, &fakeIDGen{}, zap.NewNop())

	catalog, err := profile.NewCatalog(profile.DefaultProfiles(), 11)
	require.NoError(t, err)
	pipeline := challenge.NewPipeline(nil, 3, nil, zap.NewNop())

	cfg := config.Config{}
	cfg.Stealth.DefaultLevel = 2
	if mutate != nil {
		mutate(&cfg)
	}

	server := NewServer(sched, store, exec, catalog, pipeline, clock, cfg, zap.NewNop())
	return &testEnv{server: server, store: store, queue: queue, exec: exec, sched: sched}
}

func do(t *testing.T, server *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_EnqueueHighPriority(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodPost, "/v1/jobs",
		`{"url":"https://news.example.com/prices","priority":"high","stealthLevel":3}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, "queued", resp.Status)
	require.Equal(t, "high", resp.Priority)
	require.Equal(t, 1, env.queue.Len())

	get := do(t, env.server, http.MethodGet, "/v1/jobs/"+resp.JobID, "")
	require.Equal(t, http.StatusOK, get.Code)
	var job acquire.Job
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &job))
	require.Equal(t, acquire.JobStatusPending, job.Status)
	require.Equal(t, 3, job.StealthLevel)
}

func TestServer_EnqueueRejectsBadTarget(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodPost, "/v1/jobs", `{"url":"ftp://example.com/file"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "unsupported scheme")
	require.False(t, resp.Timestamp.IsZero())
	require.Equal(t, 0, env.queue.Len())
}

func TestServer_EnqueueInvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodPost, "/v1/jobs", "{invalid")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ScrapeSynchronous(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodPost, "/v1/scrape",
		`{"url":"https://news.example.com/prices"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result acquire.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "https://news.example.com/prices", result.URL)
	require.Equal(t, "Prices", result.Structured["title"])
	require.Equal(t, "chrome-win-01", result.Metadata.ProfileUsed)
	require.Equal(t, 1, env.exec.calls)
	// Synchronous scrapes never touch the store or the queue.
	require.Equal(t, 0, env.queue.Len())
	counts, err := env.store.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, counts.Total)
}

func TestServer_ScrapePathExhausted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.err = acquire.NewError(acquire.CodePathExhausted, "no viable network path")

	rec := do(t, env.server, http.MethodPost, "/v1/scrape", `{"url":"https://blocked.example.com/"}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "no viable network path")
	require.False(t, resp.Timestamp.IsZero())
}

func TestServer_ScrapeComplianceDenied(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.exec.err = acquire.NewError(acquire.CodeComplianceDenied, "host denied by policy")

	rec := do(t, env.server, http.MethodPost, "/v1/scrape", `{"url":"https://denied.example.com/"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_ScrapeDefaultsStealthLevel(t *testing.T) {
	t.Parallel()

	var seen int
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Stealth.DefaultLevel = 3
	})
	env.exec.result = &acquire.Result{URL: "https://example.com/"}
	env.server.executor = executorFunc(func(ctx context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error) {
		seen = job.StealthLevel
		return &acquire.Result{URL: job.URL}, orchestrator.Attempt{}, nil
	})

	rec := do(t, env.server, http.MethodPost, "/v1/scrape", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, seen)
}

type executorFunc func(ctx context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error)

func (f executorFunc) Execute(ctx context.Context, job acquire.Job) (*acquire.Result, orchestrator.Attempt, error) {
	return f(ctx, job)
}

func TestServer_GetJobNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodGet, "/v1/jobs/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job not found", resp.Error)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	enq := do(t, env.server, http.MethodPost, "/v1/jobs", `{"url":"https://example.com/a"}`)
	require.Equal(t, http.StatusAccepted, enq.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(enq.Body.Bytes(), &resp))

	rec := do(t, env.server, http.MethodPost, "/v1/jobs/"+resp.JobID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := env.store.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, acquire.JobStatusFailed, job.Status)

	// A second cancel hits a terminal job.
	again := do(t, env.server, http.MethodPost, "/v1/jobs/"+resp.JobID+"/cancel", "")
	require.Equal(t, http.StatusConflict, again.Code)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	for _, target := range []string{"https://example.com/a", "https://example.com/b"} {
		rec := do(t, env.server, http.MethodPost, "/v1/jobs", `{"url":"`+target+`"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := do(t, env.server, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	require.Equal(t, 2, resp.Pending)
	require.Equal(t, len(profile.DefaultProfiles()), resp.AvailableProfiles)
	require.False(t, resp.ChallengeSolverConfigured)
	require.Equal(t, stealth.Levels(), resp.StealthLevels)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "secret"
	})

	rec := do(t, env.server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := do(t, env.server, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
