package db

import (
	"encoding/json"
	"fmt"
	"time"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/models"
)

type Event struct {
	Id        int64  `json:"id"`
	Run       string `json:"run"`
	Created   int64  `json:"created"`
	EventJson string `json:"event"`
}

func (d *DB) InsertEvent(event Event, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into events (run, event, created) values (?, ?, ?)`,
		event.Run,
		event.EventJson,
		time.Now().UnixNano(),
	)
	if err != nil {
		return err
	}

	// wake subscribers only once the event is actually on disk
	n.NotifyAll()

	return nil
}

// GetEvents returns events after the cursor, oldest first, capped at
// 100 per page.
func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	whereClause := ""
	args := []any{}
	if cursor > 0 {
		whereClause = "where id > ?"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select id, run, event, created
		from events
		%s
		order by id asc
		limit 100
	`, whereClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Id, &ev.Run, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	return evts, rows.Err()
}

func (d *DB) createStatusEvent(
	id models.RunId,
	status models.StatusKind,
	step *string,
	exitCode *int64,
	errMsg *string,
	n *notifier.Notifier,
) error {
	var repo, workflow string
	err := d.QueryRow(`select repo, workflow from runs where id = ?`, id).Scan(&repo, &workflow)
	if err != nil {
		return err
	}

	s := api.StatusEvent{
		Run:       string(id),
		Repo:      repo,
		Workflow:  workflow,
		Status:    string(status),
		Step:      step,
		ExitCode:  exitCode,
		Error:     errMsg,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	eventJson, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return d.InsertEvent(Event{
		Run:       string(id),
		EventJson: string(eventJson),
	}, n)
}

// GetStatus returns the latest status event recorded for a run.
func (d *DB) GetStatus(id models.RunId) (*api.StatusEvent, error) {
	var eventJson string
	err := d.QueryRow(`
		select event from events
		where run = ?
		order by id desc
		limit 1
	`, id).Scan(&eventJson)
	if err != nil {
		return nil, err
	}

	var status api.StatusEvent
	if err := json.Unmarshal([]byte(eventJson), &status); err != nil {
		return nil, err
	}

	return &status, nil
}
