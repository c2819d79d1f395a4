package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shuttleci.dev/core/api"
)

func TestUnmarshalWorkflow(t *testing.T) {
	yamlData := `
when:
  - event: ["push", "pull_request"]
    branch: ["main", "develop"]
    paths-ignore: "README.md"

steps:
  - name: build
    run: make build`

	wf, err := FromFile("ci.yml", []byte(yamlData))
	assert.NoError(t, err, "YAML should unmarshal without error")

	assert.Len(t, wf.When, 1, "Should have one constraint")
	assert.ElementsMatch(t, []string{"main", "develop"}, wf.When[0].Branch)
	assert.ElementsMatch(t, []string{"push", "pull_request"}, wf.When[0].Event)
	assert.ElementsMatch(t, []string{"README.md"}, wf.When[0].PathsIgnore)

	assert.Equal(t, DefaultRunsOn, wf.RunsOn, "runs-on should default")
	assert.False(t, wf.CloneOpts.Skip, "Skip should default to false")
	assert.False(t, wf.Concurrency.CancelInProgress)
}

func TestUnmarshalUsesStep(t *testing.T) {
	yamlData := `
when:
  - event: push

concurrency:
  group: "{repo}/{branch}"
  cancel-in-progress: true

steps:
  - name: checkout
    uses: checkout
    with:
      depth: "1"
  - name: test
    run: cargo test
`

	wf, err := FromFile("ci.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.Len(t, wf.Steps, 2)
	assert.Equal(t, "checkout", wf.Steps[0].Uses)
	assert.Equal(t, "1", wf.Steps[0].With["depth"])
	assert.Equal(t, "cargo test", wf.Steps[1].Run)
	assert.True(t, wf.Concurrency.CancelInProgress)

	for _, s := range wf.Steps {
		assert.NoError(t, s.Validate())
	}
}

func TestStepValidate(t *testing.T) {
	assert.Error(t, Step{Name: "both", Run: "ls", Uses: "checkout"}.Validate())
	assert.Error(t, Step{Name: "neither"}.Validate())
	assert.NoError(t, Step{Name: "run", Run: "ls"}.Validate())
	assert.NoError(t, Step{Name: "uses", Uses: "checkout"}.Validate())
}

func TestConcurrencyKey(t *testing.T) {
	trigger := api.Trigger{
		Kind: api.TriggerKindPush,
		Push: &api.PushTrigger{Ref: "refs/heads/master"},
	}

	wf := Workflow{Name: "ci.yml"}
	other := Workflow{Name: "ci.yml"}

	// identical (workflow, branch) inputs render identical keys
	assert.Equal(t,
		wf.ConcurrencyKey("acme/subway", trigger),
		other.ConcurrencyKey("acme/subway", trigger),
	)
	assert.Equal(t, "acme/subway/ci.yml/master", wf.ConcurrencyKey("acme/subway", trigger))

	wf.Concurrency.Group = "{workflow}-{event}"
	assert.Equal(t, "ci.yml-push", wf.ConcurrencyKey("acme/subway", trigger))
}
