package shuttle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/log"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/gate"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/queue"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

const testAdminToken = "hunter2"

const ciWorkflow = `
when:
  - event: ["push", "pull_request"]
    branch: ["master"]
    paths-ignore: ["README.md", "*.md"]
concurrency:
  cancel-in-progress: true
steps:
  - name: build
    run: cargo build
  - name: test
    run: cargo test
`

type fakeStep struct{ name string }

func (f fakeStep) Name() string          { return f.name }
func (f fakeStep) Command() string       { return "true" }
func (f fakeStep) Kind() models.StepKind { return models.StepKindUser }

type fakeEngine struct {
	mu       sync.Mutex
	block    bool
	started  chan struct{}
	executed []string
}

func (f *fakeEngine) InitWorkflow(cw workflow.Compiled, _ api.Event) (*models.Workflow, error) {
	wf, err := workflow.FromFile(cw.Name, cw.Raw)
	if err != nil {
		return nil, err
	}
	out := &models.Workflow{Name: cw.Name}
	for _, s := range wf.Steps {
		out.Steps = append(out.Steps, fakeStep{name: s.Name})
	}
	return out, nil
}

func (f *fakeEngine) SetupWorkflow(context.Context, models.WorkflowId, *models.Workflow) error {
	return nil
}

func (f *fakeEngine) WorkflowTimeout() time.Duration { return time.Minute }

func (f *fakeEngine) DestroyWorkflow(context.Context, models.WorkflowId) error { return nil }

func (f *fakeEngine) RunStep(ctx context.Context, _ models.WorkflowId, w *models.Workflow, idx int, _ []secrets.UnlockedSecret, _ *models.WorkflowLogger) error {
	f.mu.Lock()
	f.executed = append(f.executed, w.Steps[idx].Name())
	started := f.started
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func testShuttle(t *testing.T, fake *fakeEngine) *Shuttle {
	t.Helper()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(log.NewContext(context.Background(), "test"))

	d, err := db.Make(filepath.Join(dir, "shuttle.db"))
	require.NoError(t, err)

	vault, err := secrets.NewSQLiteManager(filepath.Join(dir, "secrets.db"))
	require.NoError(t, err)

	n := notifier.New()
	cfg := &config.Config{
		Server: config.Server{AdminToken: testAdminToken},
		Pipelines: config.Pipelines{
			DefaultImage:    "ubuntu:24.04",
			WorkflowTimeout: "1m",
			LogDir:          dir,
			QueueSize:       10,
			Workers:         2,
		},
	}

	engines := map[string]models.Engine{workflow.DefaultRunsOn: fake}

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers)
	jq.Start()
	// cancel run contexts before draining the queue, a blocked
	// worker would deadlock Stop otherwise
	t.Cleanup(jq.Stop)
	t.Cleanup(cancel)

	return &Shuttle{
		db:      d,
		l:       log.FromContext(ctx),
		n:       &n,
		eng:     engine.New(ctx, d, &n, cfg, vault, engines),
		jq:      jq,
		gate:    gate.New(),
		cfg:     cfg,
		vault:   vault,
		baseCtx: ctx,
	}
}

func postEvent(t *testing.T, s *Shuttle, ev api.Event) (*httptest.ResponseRecorder, EventResponse) {
	t.Helper()

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp EventResponse
	if rec.Code == http.StatusAccepted || rec.Code == http.StatusUnprocessableEntity {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	}
	return rec, resp
}

func masterPush(paths ...string) api.Event {
	return api.Event{
		Repo: api.Repo{
			Owner:         "acme",
			Name:          "widget",
			CloneURL:      "https://git.example.com/acme/widget",
			DefaultBranch: "master",
		},
		Trigger: api.Trigger{
			Kind: api.TriggerKindPush,
			Push: &api.PushTrigger{
				Ref:    "refs/heads/master",
				OldSha: "aaaa",
				NewSha: "bbbb",
			},
			ChangedPaths: paths,
		},
		Workflows: []api.RawWorkflow{
			{Name: "ci", Contents: []byte(ciWorkflow)},
		},
	}
}

func TestHandleEvent_UnknownRepo(t *testing.T) {
	s := testShuttle(t, &fakeEngine{})

	rec, _ := postEvent(t, s, masterPush("src/main.rs"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEvent_ReadmeOnlyPushStartsNothing(t *testing.T) {
	s := testShuttle(t, &fakeEngine{})
	require.NoError(t, s.db.AddRepo("acme", "widget"))

	rec, resp := postEvent(t, s, masterPush("README.md"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, resp.Runs)
	assert.NotEmpty(t, resp.Warnings)
}

func TestHandleEvent_PushRunsToCompletion(t *testing.T) {
	fake := &fakeEngine{}
	s := testShuttle(t, fake)
	require.NoError(t, s.db.AddRepo("acme", "widget"))

	rec, resp := postEvent(t, s, masterPush("src/main.rs"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, resp.Runs, 1)

	id := resp.Runs[0].Id
	require.Eventually(t, func() bool {
		run, err := s.db.GetRun(id)
		return err == nil && run.Status == models.StatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"build", "test"}, fake.executed)
}

func TestHandleEvent_OffBranchPushSkipped(t *testing.T) {
	s := testShuttle(t, &fakeEngine{})
	require.NoError(t, s.db.AddRepo("acme", "widget"))

	ev := masterPush("src/main.rs")
	ev.Trigger.Push.Ref = "refs/heads/feature"

	rec, resp := postEvent(t, s, ev)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, resp.Runs)
}

func TestHandleEvent_CancelInProgress(t *testing.T) {
	fake := &fakeEngine{block: true, started: make(chan struct{})}
	s := testShuttle(t, fake)
	require.NoError(t, s.db.AddRepo("acme", "widget"))

	started := fake.started

	rec, first := postEvent(t, s, masterPush("src/main.rs"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, first.Runs, 1)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	rec, second := postEvent(t, s, masterPush("src/lib.rs"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, second.Runs, 1)

	require.Eventually(t, func() bool {
		run, err := s.db.GetRun(first.Runs[0].Id)
		return err == nil && run.Status == models.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdminAuth(t *testing.T) {
	s := testShuttle(t, &fakeEngine{})
	router := s.Router()

	req := httptest.NewRequest(http.MethodPut, "/repos/acme/widget", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/repos/acme/widget", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	known, err := s.db.KnownRepo("acme", "widget")
	require.NoError(t, err)
	assert.True(t, known)
}
