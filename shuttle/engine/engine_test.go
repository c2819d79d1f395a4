package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

type fakeStep struct {
	name string
}

func (s fakeStep) Name() string          { return s.name }
func (s fakeStep) Command() string       { return "true" }
func (s fakeStep) Kind() models.StepKind { return models.StepKindUser }

// fakeEngine executes steps by consulting a script of per-step errors.
type fakeEngine struct {
	stepNames []string
	stepErrs  map[int]error

	executed  []string
	destroyed bool

	// when set, RunStep blocks until the context is done
	block   bool
	started chan struct{}

	// when set, SetupWorkflow blocks until the context is done
	blockSetup   bool
	setupStarted chan struct{}
}

func (f *fakeEngine) InitWorkflow(cw workflow.Compiled, ev api.Event) (*models.Workflow, error) {
	wf := &models.Workflow{Name: cw.Name}
	for _, n := range f.stepNames {
		wf.Steps = append(wf.Steps, fakeStep{name: n})
	}
	return wf, nil
}

func (f *fakeEngine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	if f.blockSetup {
		close(f.setupStarted)
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeEngine) WorkflowTimeout() time.Duration { return time.Minute }

func (f *fakeEngine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	f.destroyed = true
	return nil
}

func (f *fakeEngine) RunStep(ctx context.Context, wid models.WorkflowId, w *models.Workflow, idx int, _ []secrets.UnlockedSecret, _ *models.WorkflowLogger) error {
	if f.block {
		close(f.started)
		<-ctx.Done()
		return ctx.Err()
	}

	f.executed = append(f.executed, w.Steps[idx].Name())
	return f.stepErrs[idx]
}

func testHarness(t *testing.T, fake *fakeEngine) (*Engine, *db.DB, *notifier.Notifier) {
	t.Helper()

	d, err := db.Make(filepath.Join(t.TempDir(), "shuttle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	n := notifier.New()

	vault, err := secrets.NewSQLiteManager(filepath.Join(t.TempDir(), "secrets.db"))
	require.NoError(t, err)

	cfg := &config.Config{
		Pipelines: config.Pipelines{LogDir: t.TempDir()},
	}

	e := New(context.Background(), d, &n, cfg, vault, map[string]models.Engine{
		workflow.DefaultRunsOn: fake,
	})
	return e, d, &n
}

var testEvent = api.Event{
	Repo: api.Repo{Owner: "acme", Name: "subway"},
	Trigger: api.Trigger{
		Kind: api.TriggerKindPush,
		Push: &api.PushTrigger{Ref: "refs/heads/master"},
	},
}

func createRun(t *testing.T, d *db.DB, n *notifier.Notifier, id models.RunId) workflow.Compiled {
	t.Helper()

	cw := workflow.Compiled{
		Name:           "ci.yml",
		RunsOn:         workflow.DefaultRunsOn,
		ConcurrencyKey: "acme/subway/ci.yml/master",
	}
	require.NoError(t, d.CreateRun(db.Run{
		Id:             id,
		Repo:           "acme/subway",
		Workflow:       cw.Name,
		ConcurrencyKey: cw.ConcurrencyKey,
	}, n))
	return cw
}

func TestStartRun_StepsRunInOrder(t *testing.T) {
	fake := &fakeEngine{stepNames: []string{"toolchain", "checkout", "fmt-check", "clippy", "build", "test"}}
	e, d, n := testHarness(t, fake)
	cw := createRun(t, d, n, "run-1")

	require.NoError(t, e.StartRun(context.Background(), "run-1", testEvent, cw))

	assert.Equal(t, []string{"toolchain", "checkout", "fmt-check", "clippy", "build", "test"}, fake.executed)
	assert.True(t, fake.destroyed, "ephemeral environment must be torn down")

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
}

func TestStartRun_FirstFailureAbortsRemainder(t *testing.T) {
	fake := &fakeEngine{
		stepNames: []string{"toolchain", "checkout", "fmt-check", "clippy", "build", "test"},
		stepErrs:  map[int]error{2: &StepFailedError{ExitCode: 1}},
	}
	e, d, n := testHarness(t, fake)
	cw := createRun(t, d, n, "run-1")

	require.NoError(t, e.StartRun(context.Background(), "run-1", testEvent, cw))

	// fmt-check failing prevents clippy, build, test from running
	assert.Equal(t, []string{"toolchain", "checkout", "fmt-check"}, fake.executed)
	assert.True(t, fake.destroyed)

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "fmt-check", got.Step)
	assert.Equal(t, 1, got.ExitCode)
}

func TestStartRun_CancelledBeforeStart(t *testing.T) {
	fake := &fakeEngine{stepNames: []string{"build"}}
	e, d, n := testHarness(t, fake)
	cw := createRun(t, d, n, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.StartRun(ctx, "run-1", testEvent, cw))

	assert.Empty(t, fake.executed)

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestStartRun_CancelledMidRun(t *testing.T) {
	fake := &fakeEngine{stepNames: []string{"build"}, block: true, started: make(chan struct{})}
	e, d, n := testHarness(t, fake)
	cw := createRun(t, d, n, "run-1")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- e.StartRun(ctx, "run-1", testEvent, cw)
	}()

	<-fake.started
	cancel()
	require.NoError(t, <-done)

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status, "supersession is cancelled, not failed")
	assert.True(t, fake.destroyed)
}

// image pulls make setup the longest window for supersession; a run
// cancelled there must be recorded as cancelled, not failed
func TestStartRun_CancelledDuringSetup(t *testing.T) {
	fake := &fakeEngine{
		stepNames:    []string{"build"},
		blockSetup:   true,
		setupStarted: make(chan struct{}),
	}
	e, d, n := testHarness(t, fake)
	cw := createRun(t, d, n, "run-1")

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- e.StartRun(ctx, "run-1", testEvent, cw)
	}()

	<-fake.setupStarted
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, fake.executed)

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status, "supersession during setup is cancelled, not failed")
	assert.True(t, fake.destroyed)
}

func TestStartRun_UnknownRunsOnLabel(t *testing.T) {
	fake := &fakeEngine{stepNames: []string{"build"}}
	e, d, n := testHarness(t, fake)

	cw := workflow.Compiled{Name: "ci.yml", RunsOn: "mainframe"}
	require.NoError(t, d.CreateRun(db.Run{
		Id: "run-1", Repo: "acme/subway", Workflow: cw.Name, ConcurrencyKey: "k",
	}, n))

	require.NoError(t, e.StartRun(context.Background(), "run-1", testEvent, cw))

	got, err := d.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}
