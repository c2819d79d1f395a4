package shuttle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/queue"
	"shuttleci.dev/core/workflow"
)

type RunRef struct {
	Id       models.RunId `json:"id"`
	Workflow string       `json:"workflow"`
}

type EventResponse struct {
	Runs     []RunRef `json:"runs"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleEvent ingests a forge event: evaluate every workflow against
// the trigger, mint a run for each match and hand them to the queue.
// Non-matching workflows are skipped silently save for a warning in
// the response.
func (s *Shuttle) HandleEvent(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "HandleEvent")

	var ev api.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	known, err := s.db.KnownRepo(ev.Repo.Owner, ev.Repo.Name)
	if err != nil {
		l.Error("failed to look up repo", "repo", ev.Repo.FullName(), "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !known {
		l.Info("dropping event for unregistered repo", "repo", ev.Repo.FullName())
		writeError(w, "unknown repo", http.StatusNotFound)
		return
	}

	compiler := workflow.Compiler{
		Repo:    ev.Repo,
		Trigger: ev.Trigger,
	}
	plan := compiler.Compile(compiler.Parse(ev.Workflows))

	resp := EventResponse{Runs: []RunRef{}}
	for _, e := range compiler.Diagnostics.Errors {
		resp.Errors = append(resp.Errors, e.String())
	}
	for _, warning := range compiler.Diagnostics.Warnings {
		resp.Warnings = append(resp.Warnings, warning.String())
	}

	for _, cw := range plan.Workflows {
		id := models.RunId(uuid.New().String())

		if err := s.db.CreateRun(db.Run{
			Id:             id,
			Repo:           ev.Repo.FullName(),
			Workflow:       cw.Name,
			ConcurrencyKey: cw.ConcurrencyKey,
		}, s.n); err != nil {
			l.Error("failed to create run", "workflow", cw.Name, "error", err)
			continue
		}

		s.startRun(l.With("run", id, "workflow", cw.Name), id, ev, cw)
		resp.Runs = append(resp.Runs, RunRef{Id: id, Workflow: cw.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	if compiler.Diagnostics.IsErr() && len(resp.Runs) == 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Shuttle) startRun(l *slog.Logger, id models.RunId, ev api.Event, cw workflow.Compiled) {
	rctx, rcancel := context.WithCancel(s.baseCtx)

	if cw.CancelInProgress {
		if superseded, ok := s.gate.Acquire(cw.ConcurrencyKey, id, rcancel); ok {
			l.Info("superseding in-progress run", "key", cw.ConcurrencyKey, "superseded", superseded)
		}
	}

	release := func() {
		if cw.CancelInProgress {
			s.gate.Release(cw.ConcurrencyKey, id)
		}
		rcancel()
	}

	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			defer release()
			return s.eng.StartRun(rctx, id, ev, cw)
		},
		OnFail: func(jobError error) {
			l.Error("run failed", "error", jobError)
		},
	})
	if ok {
		l.Info("run enqueued")
		return
	}

	l.Error("failed to enqueue run: queue is full")
	release()
	if err := s.db.MarkRunFailed(id, "", -1, "queue is full", s.n); err != nil {
		l.Error("failed to mark run failed", "error", err)
	}
}

func (s *Shuttle) GetRun(w http.ResponseWriter, r *http.Request) {
	id := models.RunId(chi.URLParam(r, "run"))

	run, err := s.db.GetRun(id)
	if err != nil {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (s *Shuttle) AddRepo(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	if err := s.db.AddRepo(owner, name); err != nil {
		s.l.Error("failed to register repo", "owner", owner, "name", name, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Shuttle) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	if err := s.db.RemoveRepo(owner, name); err != nil {
		s.l.Error("failed to remove repo", "owner", owner, "name", name, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
