package models

type Step interface {
	Name() string
	Command() string
	Kind() StepKind
}

type StepKind int

const (
	// steps injected by the runner (resolved actions, clone commands)
	StepKindSystem StepKind = iota
	// steps written by the user in the workflow file
	StepKindUser
)

// Workflow is the runtime form of a compiled workflow: the full step
// list an engine will execute in order, plus engine-private data.
type Workflow struct {
	Steps []Step
	Name  string
	Data  any
}
