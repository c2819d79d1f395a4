// Package engine drives runs to completion: it hands a compiled
// workflow to the engine selected by its runs-on label, executes the
// steps strictly in order, and records every state transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/log"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/secrets"
	"shuttleci.dev/core/workflow"
)

type Engine struct {
	l       *slog.Logger
	db      *db.DB
	n       *notifier.Notifier
	cfg     *config.Config
	vault   secrets.Manager
	engines map[string]models.Engine
}

func New(ctx context.Context, d *db.DB, n *notifier.Notifier, cfg *config.Config, vault secrets.Manager, engines map[string]models.Engine) *Engine {
	l := log.FromContext(ctx).With("component", "engine")

	return &Engine{
		l:       l,
		db:      d,
		n:       n,
		cfg:     cfg,
		vault:   vault,
		engines: engines,
	}
}

// StartRun executes one run to a terminal state. Steps run strictly
// sequentially; the first error aborts everything after it. The error
// return covers bookkeeping failures only, a failed step is a handled
// outcome, not an error.
func (e *Engine) StartRun(ctx context.Context, id models.RunId, ev api.Event, cw workflow.Compiled) error {
	l := e.l.With("run", id, "workflow", cw.Name, "repo", ev.Repo.FullName())

	// superseded while still queued
	if ctx.Err() != nil {
		l.Info("run cancelled before start")
		return e.db.MarkRunCancelled(id, e.n)
	}

	eng, ok := e.engines[cw.RunsOn]
	if !ok {
		l.Error("no engine for runs-on label", "runs-on", cw.RunsOn)
		return e.db.MarkRunFailed(id, "", -1, fmt.Sprintf("no engine for runs-on label %q", cw.RunsOn), e.n)
	}

	wf, err := eng.InitWorkflow(cw, ev)
	if err != nil {
		l.Error("failed to init workflow", "error", err)
		return e.db.MarkRunFailed(id, "", -1, err.Error(), e.n)
	}

	if err := e.db.MarkRunRunning(id, e.n); err != nil {
		return err
	}

	wid := models.WorkflowId{Run: id, Name: cw.Name}

	wfLogger, err := models.NewWorkflowLogger(e.cfg.Pipelines.LogDir, wid)
	if err != nil {
		l.Error("failed to create workflow logger", "error", err)
		wfLogger = nil
	} else {
		defer wfLogger.Close()
	}

	// the run's environment is disposable; tear it down whatever the
	// outcome, even when setup got partway or the run context is
	// already cancelled
	defer func() {
		if err := eng.DestroyWorkflow(context.WithoutCancel(ctx), wid); err != nil {
			l.Error("failed to destroy workflow", "error", err)
		}
	}()

	if err := eng.SetupWorkflow(ctx, wid, wf); err != nil {
		// superseded mid-setup (image pull is the longest window):
		// cancellation is not a failure
		if ctx.Err() != nil {
			l.Info("run cancelled during setup")
			return e.db.MarkRunCancelled(id, e.n)
		}
		l.Error("failed to set up workflow", "error", err)
		return e.db.MarkRunFailed(id, "", -1, err.Error(), e.n)
	}

	unlocked, err := e.vault.GetSecretsUnlocked(ctx, secrets.Repo(ev.Repo.FullName()))
	if err != nil {
		if ctx.Err() != nil {
			l.Info("run cancelled while unlocking secrets")
			return e.db.MarkRunCancelled(id, e.n)
		}
		l.Error("failed to unlock secrets", "error", err)
		return e.db.MarkRunFailed(id, "", -1, fmt.Sprintf("unlocking secrets: %s", err), e.n)
	}

	tctx, cancel := context.WithTimeout(ctx, eng.WorkflowTimeout())
	defer cancel()

	for idx, step := range wf.Steps {
		l.Info("running step", "step", step.Name(), "idx", idx)
		e.control(wfLogger, idx, step, models.StatusRunning)

		err := eng.RunStep(tctx, wid, wf, idx, unlocked, wfLogger)
		if err == nil {
			e.control(wfLogger, idx, step, models.StatusSucceeded)
			continue
		}

		// a non-zero exit aborts all subsequent steps in this run
		e.control(wfLogger, idx, step, models.StatusFailed)
		return e.settle(l, id, step, err, ctx, tctx)
	}

	l.Info("run succeeded")
	return e.db.MarkRunSucceeded(id, e.n)
}

// settle maps a step error to the run's terminal state.
func (e *Engine) settle(l *slog.Logger, id models.RunId, step models.Step, err error, ctx, tctx context.Context) error {
	switch {
	case ctx.Err() != nil:
		// the whole-run context was cancelled: superseded, not failed
		l.Info("run cancelled", "step", step.Name())
		return e.db.MarkRunCancelled(id, e.n)

	case errors.Is(err, ErrTimedOut), tctx.Err() == context.DeadlineExceeded:
		l.Error("run timed out", "step", step.Name())
		return e.db.MarkRunFailed(id, step.Name(), -1, "workflow timed out", e.n)

	default:
		var sf *StepFailedError
		if errors.As(err, &sf) {
			l.Error("run failed", "step", step.Name(), "exit_code", sf.ExitCode)
			return e.db.MarkRunFailed(id, step.Name(), sf.ExitCode, err.Error(), e.n)
		}

		l.Error("run failed", "step", step.Name(), "error", err)
		return e.db.MarkRunFailed(id, step.Name(), -1, err.Error(), e.n)
	}
}

func (e *Engine) control(wfLogger *models.WorkflowLogger, idx int, step models.Step, status models.StatusKind) {
	if wfLogger == nil {
		return
	}
	if err := wfLogger.Control(idx, step, status); err != nil {
		e.l.Error("failed to write control line", "error", err)
	}
}
