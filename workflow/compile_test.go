package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"shuttleci.dev/core/api"
)

var repo = api.Repo{Owner: "acme", Name: "subway", CloneURL: "https://forge.example/acme/subway"}

var trigger = api.Trigger{
	Kind: api.TriggerKindPush,
	Push: &api.PushTrigger{
		Ref:    "refs/heads/master",
		OldSha: strings.Repeat("0", 40),
		NewSha: strings.Repeat("f", 40),
	},
}

var when = []Constraint{
	{
		Event:  []string{"push"},
		Branch: []string{"master"},
	},
}

var steps = []Step{
	{Name: "checkout", Uses: "checkout"},
	{Name: "build", Run: "cargo build"},
}

func TestCompileWorkflow_MatchingWorkflowWithSteps(t *testing.T) {
	wf := Workflow{
		Name:   "ci.yml",
		RunsOn: DefaultRunsOn,
		When:   when,
		Steps:  steps,
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	plan := c.Compile(Pipeline{wf})

	assert.Len(t, plan.Workflows, 1)
	assert.Equal(t, wf.Name, plan.Workflows[0].Name)
	assert.Equal(t, "acme/subway/ci.yml/master", plan.Workflows[0].ConcurrencyKey)
	assert.False(t, c.Diagnostics.IsErr())
}

func TestCompileWorkflow_TriggerMismatch(t *testing.T) {
	wf := Workflow{
		Name: "mismatch.yml",
		When: []Constraint{
			{
				Event:  []string{"push"},
				Branch: []string{"develop"}, // different branch
			},
		},
		Steps: steps,
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	plan := c.Compile(Pipeline{wf})

	assert.Len(t, plan.Workflows, 0)
	assert.Len(t, c.Diagnostics.Warnings, 1)
	assert.Equal(t, WorkflowSkipped, c.Diagnostics.Warnings[0].Type)
	assert.False(t, c.Diagnostics.IsErr(), "a trigger mismatch is a no-op, not an error")
}

func TestCompileWorkflow_NoSteps(t *testing.T) {
	wf := Workflow{
		Name: "empty.yml",
		When: when,
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	plan := c.Compile(Pipeline{wf})

	assert.Len(t, plan.Workflows, 0)
	assert.Len(t, c.Diagnostics.Errors, 1)
	assert.Equal(t, ErrNoSteps, c.Diagnostics.Errors[0].Error)
}

func TestCompileWorkflow_InvalidStep(t *testing.T) {
	wf := Workflow{
		Name:  "bad.yml",
		When:  when,
		Steps: []Step{{Name: "both", Run: "ls", Uses: "checkout"}},
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	plan := c.Compile(Pipeline{wf})

	assert.Len(t, plan.Workflows, 0)
	assert.True(t, c.Diagnostics.IsErr())
}

func TestCompileWorkflow_CloneSkipWithDepth(t *testing.T) {
	wf := Workflow{
		Name:  "clone_skip.yml",
		When:  when,
		Steps: steps,
		CloneOpts: CloneOpts{
			Skip:  true,
			Depth: 1,
		},
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	plan := c.Compile(Pipeline{wf})

	assert.Len(t, plan.Workflows, 1)
	assert.Len(t, c.Diagnostics.Warnings, 1)
	assert.Equal(t, InvalidConfiguration, c.Diagnostics.Warnings[0].Type)
}

func TestParse_CollectsErrors(t *testing.T) {
	raw := []api.RawWorkflow{
		{Name: "ok.yml", Contents: []byte("steps:\n  - name: b\n    run: make\n")},
		{Name: "broken.yml", Contents: []byte("steps: [}")},
	}

	c := Compiler{Repo: repo, Trigger: trigger}
	pp := c.Parse(raw)

	assert.Len(t, pp, 1)
	assert.Len(t, c.Diagnostics.Errors, 1)
	assert.Equal(t, "broken.yml", c.Diagnostics.Errors[0].Path)
}

// push to master with only a README change must not start a run, a
// source change must
func TestCompile_ReadmeOnlyPush(t *testing.T) {
	contents := []byte(`
when:
  - event: push
    branch: master
    paths-ignore: README.md

concurrency:
  cancel-in-progress: true

steps:
  - name: checkout
    uses: checkout
  - name: fmt-check
    run: cargo fmt --all -- --check
  - name: clippy
    run: cargo clippy -- -D warnings
  - name: build
    run: cargo build
  - name: test
    run: cargo test
`)

	readmeOnly := trigger
	readmeOnly.ChangedPaths = []string{"README.md"}

	c := Compiler{Repo: repo, Trigger: readmeOnly}
	plan := c.Compile(c.Parse([]api.RawWorkflow{{Name: "ci.yml", Contents: contents}}))
	assert.Len(t, plan.Workflows, 0)

	srcChange := trigger
	srcChange.ChangedPaths = []string{"src/main.rs"}

	c = Compiler{Repo: repo, Trigger: srcChange}
	plan = c.Compile(c.Parse([]api.RawWorkflow{{Name: "ci.yml", Contents: contents}}))
	assert.Len(t, plan.Workflows, 1)
	assert.True(t, plan.Workflows[0].CancelInProgress)
}
