package db

import (
	"time"

	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/models"
)

type Run struct {
	Id             models.RunId      `json:"id"`
	Repo           string            `json:"repo"`
	Workflow       string            `json:"workflow"`
	ConcurrencyKey string            `json:"concurrency_key"`
	Status         models.StatusKind `json:"status"`

	// only if failed
	Step     string `json:"step,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (d *DB) CreateRun(r Run, n *notifier.Notifier) error {
	_, err := d.Exec(`
		insert into runs (id, repo, workflow, concurrency_key, status)
		values (?, ?, ?, ?, ?)
	`, r.Id, r.Repo, r.Workflow, r.ConcurrencyKey, models.StatusPending)
	if err != nil {
		return err
	}

	return d.createStatusEvent(r.Id, models.StatusPending, nil, nil, nil, n)
}

func (d *DB) MarkRunRunning(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusRunning, id)
	if err != nil {
		return err
	}

	return d.createStatusEvent(id, models.StatusRunning, nil, nil, nil, n)
}

// MarkRunFailed records the terminal failed state together with the
// only failure detail the system reports: which step failed, and how.
func (d *DB) MarkRunFailed(id models.RunId, step string, exitCode int, errMsg string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    step = ?,
		    exit_code = ?,
		    error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusFailed, step, exitCode, errMsg, id)
	if err != nil {
		return err
	}

	code := int64(exitCode)
	return d.createStatusEvent(id, models.StatusFailed, &step, &code, &errMsg, n)
}

// MarkRunCancelled records supersession by a newer run on the same
// concurrency key; distinct from failure.
func (d *DB) MarkRunCancelled(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusCancelled, id)
	if err != nil {
		return err
	}

	return d.createStatusEvent(id, models.StatusCancelled, nil, nil, nil, n)
}

func (d *DB) MarkRunSucceeded(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusSucceeded, id)
	if err != nil {
		return err
	}

	return d.createStatusEvent(id, models.StatusSucceeded, nil, nil, nil, n)
}

func (d *DB) GetRun(id models.RunId) (Run, error) {
	var r Run
	var started, updated string
	var finished *string

	err := d.QueryRow(`
		select id, repo, workflow, concurrency_key, status, step, exit_code, error,
		       started_at, updated_at, finished_at
		from runs
		where id = ?
	`, id).Scan(&r.Id, &r.Repo, &r.Workflow, &r.ConcurrencyKey, &r.Status,
		&r.Step, &r.ExitCode, &r.Error, &started, &updated, &finished)
	if err != nil {
		return r, err
	}

	r.StartedAt, _ = time.Parse(time.RFC3339, started)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	if finished != nil {
		if t, err := time.Parse(time.RFC3339, *finished); err == nil {
			r.FinishedAt = &t
		}
	}

	return r, nil
}

func (d *DB) GetRuns(repo string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.Query(`
		select id, repo, workflow, concurrency_key, status, step, exit_code, error,
		       started_at, updated_at, finished_at
		from runs
		where repo = ?
		order by started_at desc
		limit ?
	`, repo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, updated string
		var finished *string
		if err := rows.Scan(&r.Id, &r.Repo, &r.Workflow, &r.ConcurrencyKey, &r.Status,
			&r.Step, &r.ExitCode, &r.Error, &started, &updated, &finished); err != nil {
			return nil, err
		}

		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		if finished != nil {
			if t, err := time.Parse(time.RFC3339, *finished); err == nil {
				r.FinishedAt = &t
			}
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}
