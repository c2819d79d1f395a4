package workflow

import (
	"errors"
	"fmt"

	"shuttleci.dev/core/api"
)

type Compiler struct {
	Repo        api.Repo
	Trigger     api.Trigger
	Diagnostics Diagnostics
}

// Plan is the fully compiled form of a pipeline that runners accept:
// only the workflows matching the trigger, each with its rendered
// concurrency key.
type Plan struct {
	Repo      api.Repo
	Trigger   api.Trigger
	Workflows []Compiled
}

type Compiled struct {
	Name             string
	RunsOn           string
	ConcurrencyKey   string
	CancelInProgress bool
	Raw              []byte
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var ErrNoSteps = errors.New("workflow has no steps")

type WarningKind string

var (
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

func (compiler *Compiler) Parse(raw []api.RawWorkflow) Pipeline {
	var pp Pipeline

	for _, w := range raw {
		wf, err := FromFile(w.Name, w.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		pp = append(pp, wf)
	}

	return pp
}

// Compile turns a repository's workflow files into the plan a runner
// accepts. Workflows that do not match the trigger are dropped with a
// warning; a trigger mismatch is a no-op, not an error.
func (compiler *Compiler) Compile(p Pipeline) Plan {
	plan := Plan{
		Repo:    compiler.Repo,
		Trigger: compiler.Trigger,
	}

	for _, wf := range p {
		cw := compiler.compileWorkflow(wf)

		if cw == nil {
			continue
		}

		plan.Workflows = append(plan.Workflows, *cw)
	}

	return plan
}

func (compiler *Compiler) compileWorkflow(w Workflow) *Compiled {
	matched, err := w.Match(compiler.Trigger)
	if err != nil {
		compiler.Diagnostics.AddError(
			w.Name,
			fmt.Errorf("failed to evaluate trigger: %w", err),
		)
		return nil
	}
	if !matched {
		compiler.Diagnostics.AddWarning(
			w.Name,
			WorkflowSkipped,
			fmt.Sprintf("did not match trigger %s", compiler.Trigger.Kind),
		)
		return nil
	}

	if len(w.Steps) == 0 {
		compiler.Diagnostics.AddError(w.Name, ErrNoSteps)
		return nil
	}

	for _, s := range w.Steps {
		if err := s.Validate(); err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			return nil
		}
	}

	compiler.analyzeCloneOptions(w)

	return &Compiled{
		Name:             w.Name,
		RunsOn:           w.RunsOn,
		ConcurrencyKey:   w.ConcurrencyKey(compiler.Repo.FullName(), compiler.Trigger),
		CancelInProgress: w.Concurrency.CancelInProgress,
		Raw:              w.Raw,
	}
}

func (compiler *Compiler) analyzeCloneOptions(w Workflow) {
	if w.CloneOpts.Skip && w.CloneOpts.IncludeSubmodules {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.submodules`",
		)
	}

	if w.CloneOpts.Skip && w.CloneOpts.Depth > 0 {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.depth`",
		)
	}
}
