package shuttle

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hpcloud/tail"

	"shuttleci.dev/core/shuttle/models"
)

// Logs streams a workflow's log file as JSONL. Finished runs get the
// file as-is; in-flight runs are followed until the run reaches a
// terminal status.
func (s *Shuttle) Logs(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Logs")

	wid := models.WorkflowId{
		Run:  models.RunId(chi.URLParam(r, "run")),
		Name: chi.URLParam(r, "workflow"),
	}

	run, err := s.db.GetRun(wid.Run)
	if err != nil {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}

	path := models.LogFilePath(s.cfg.Pipelines.LogDir, wid)

	t, err := tail.TailFile(path, tail.Config{
		Follow:    !run.Status.Terminal(),
		MustExist: run.Status.Terminal(),
		ReOpen:    false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		l.Error("failed to open log file", "path", path, "error", err)
		writeError(w, "logs not found", http.StatusNotFound)
		return
	}
	defer t.Cleanup()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	// watch for the run finishing so a followed tail terminates
	sub := s.n.Subscribe()
	defer sub.Close()

	done := r.Context().Done()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				l.Error("tail error", "error", line.Err)
				return
			}
			if _, err := w.Write(append([]byte(line.Text), '\n')); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}

		case <-sub.C:
			run, err := s.db.GetRun(wid.Run)
			if err == nil && run.Status.Terminal() {
				t.StopAtEOF()
			}

		case <-done:
			t.Stop()
			return
		}
	}
}
