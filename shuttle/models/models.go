package models

import (
	"fmt"
	"regexp"
)

var re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// RunId identifies one execution instance of a workflow, minted when
// the trigger fires and discarded with the run.
type RunId string

type WorkflowId struct {
	Run  RunId
	Name string
}

func (wid WorkflowId) String() string {
	return fmt.Sprintf("%s-%s", wid.Run, normalize(wid.Name))
}

func normalize(name string) string {
	return re.ReplaceAllString(name, "-")
}

type StatusKind string

const (
	StatusPending   StatusKind = "pending"
	StatusRunning   StatusKind = "running"
	StatusSucceeded StatusKind = "succeeded"
	StatusFailed    StatusKind = "failed"
	StatusCancelled StatusKind = "cancelled"
)

// Terminal reports whether a run in this state may never transition
// again.
func (s StatusKind) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
