package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/workflow"
)

const rawWorkflow = `
when:
  - event: ["push"]
    branch: ["master"]
steps:
  - uses: setup-rust
    with:
      components: rustfmt, clippy
  - uses: checkout
  - name: fmt-check
    run: cargo fmt --all -- --check
  - name: clippy
    run: cargo clippy -- -D warnings
  - name: build
    run: cargo build --verbose
  - name: test
    run: cargo test --verbose
`

func testEngine() *Engine {
	return &Engine{
		cfg: &config.Config{
			Pipelines: config.Pipelines{
				DefaultImage:    "ubuntu:24.04",
				WorkflowTimeout: "5m",
			},
		},
	}
}

func TestInitWorkflow_StepOrderPreserved(t *testing.T) {
	e := testEngine()

	wf, err := e.InitWorkflow(workflow.Compiled{Name: "ci", Raw: []byte(rawWorkflow)}, pushEvent())
	require.NoError(t, err)
	require.Len(t, wf.Steps, 6)

	assert.Equal(t, models.StepKindSystem, wf.Steps[0].Kind())
	assert.Equal(t, models.StepKindSystem, wf.Steps[1].Kind())
	for i, name := range []string{"fmt-check", "clippy", "build", "test"} {
		step := wf.Steps[i+2]
		assert.Equal(t, name, step.Name())
		assert.Equal(t, models.StepKindUser, step.Kind())
	}
}

func TestInitWorkflow_DefaultImage(t *testing.T) {
	e := testEngine()

	wf, err := e.InitWorkflow(workflow.Compiled{Name: "ci", Raw: []byte(rawWorkflow)}, pushEvent())
	require.NoError(t, err)

	addl := wf.Data.(addlFields)
	assert.Equal(t, "ubuntu:24.04", addl.image)
}

func TestInitWorkflow_ImageOverride(t *testing.T) {
	e := testEngine()

	raw := "image: rust:1.79\nsteps:\n  - name: build\n    run: cargo build\n"
	wf, err := e.InitWorkflow(workflow.Compiled{Name: "ci", Raw: []byte(raw)}, pushEvent())
	require.NoError(t, err)

	addl := wf.Data.(addlFields)
	assert.Equal(t, "rust:1.79", addl.image)
}

func TestInitWorkflow_UnknownAction(t *testing.T) {
	e := testEngine()

	raw := "steps:\n  - uses: nonexistent\n"
	_, err := e.InitWorkflow(workflow.Compiled{Name: "ci", Raw: []byte(raw)}, pushEvent())
	assert.ErrorContains(t, err, "unknown action")
}

func TestWorkflowTimeout_BadDurationFallsBack(t *testing.T) {
	e := testEngine()
	e.cfg.Pipelines.WorkflowTimeout = "whenever"
	e.l = log.New("test")

	assert.Equal(t, "5m0s", e.WorkflowTimeout().String())
}
