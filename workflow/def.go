package workflow

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"shuttleci.dev/core/api"
)

// - an event on a repo results in the trigger of a "Pipeline"
// - a repo could carry several workflow files
//   * .shuttle/workflows/test.yml
//   * .shuttle/workflows/lint.yml
// - a pipeline is the set of workflows matching the trigger; each
//   workflow becomes its own run, and its steps execute serially

type (
	Pipeline []Workflow

	// structural representation of a single workflow file
	Workflow struct {
		Name        string            `yaml:"-"` // name of the workflow file
		When        []Constraint      `yaml:"when"`
		Concurrency Concurrency       `yaml:"concurrency"`
		RunsOn      string            `yaml:"runs-on"`
		Image       string            `yaml:"image"`
		Environment map[string]string `yaml:"environment"`
		Steps       []Step            `yaml:"steps"`
		CloneOpts   CloneOpts         `yaml:"clone"`

		// original file contents, carried through compilation so
		// engines can reparse without a round-trip to the forge
		Raw []byte `yaml:"-"`
	}

	Constraint struct {
		Event  StringList `yaml:"event"`
		Branch StringList `yaml:"branch"` // optional, empty means any branch
		// changes confined to these globs do not trigger a run
		PathsIgnore StringList `yaml:"paths-ignore"`
	}

	// Concurrency dedupes in-flight runs: two runs rendering the same
	// group key may not both stay active, the older one is cancelled.
	Concurrency struct {
		Group            string `yaml:"group"`
		CancelInProgress bool   `yaml:"cancel-in-progress"`
	}

	CloneOpts struct {
		Skip              bool `yaml:"skip"`
		Depth             int  `yaml:"depth"`
		IncludeSubmodules bool `yaml:"submodules"`
	}

	// a step either references a reusable action (uses/with) or runs a
	// literal command line, never both
	Step struct {
		Name        string            `yaml:"name"`
		Run         string            `yaml:"run"`
		Uses        string            `yaml:"uses"`
		With        map[string]string `yaml:"with"`
		Environment map[string]string `yaml:"environment"`
	}

	StringList []string
)

const DefaultRunsOn = "docker"

// default concurrency group: one slot per workflow per branch
const defaultGroup = "{repo}/{workflow}/{branch}"

func FromFile(name string, contents []byte) (Workflow, error) {
	var wf Workflow

	err := yaml.Unmarshal(contents, &wf)
	if err != nil {
		return wf, err
	}

	wf.Name = name
	wf.Raw = contents

	if wf.RunsOn == "" {
		wf.RunsOn = DefaultRunsOn
	}

	return wf, nil
}

func (s Step) Validate() error {
	if s.Run != "" && s.Uses != "" {
		return fmt.Errorf("step %q: cannot set both `run` and `uses`", s.Name)
	}
	if s.Run == "" && s.Uses == "" {
		return fmt.Errorf("step %q: one of `run` or `uses` is required", s.Name)
	}
	return nil
}

// ConcurrencyKey renders the workflow's concurrency group against a
// trigger. Identical (workflow, branch) inputs always render identical
// keys.
func (w *Workflow) ConcurrencyKey(repo string, t api.Trigger) string {
	group := w.Concurrency.Group
	if group == "" {
		group = defaultGroup
	}

	r := strings.NewReplacer(
		"{repo}", repo,
		"{workflow}", w.Name,
		"{branch}", branchOf(t),
		"{event}", t.Kind,
	)
	return r.Replace(group)
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {
		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
