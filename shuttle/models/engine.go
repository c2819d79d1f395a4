package models

import (
	"context"
	"time"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

// Engine provisions ephemeral environments and executes steps in them.
// Implementations are selected by the workflow's runs-on label.
type Engine interface {
	InitWorkflow(cw workflow.Compiled, ev api.Event) (*Workflow, error)
	SetupWorkflow(ctx context.Context, wid WorkflowId, wf *Workflow) error
	WorkflowTimeout() time.Duration
	DestroyWorkflow(ctx context.Context, wid WorkflowId) error
	RunStep(ctx context.Context, wid WorkflowId, w *Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *WorkflowLogger) error
}
