// Package api holds the wire types exchanged between a forge and a
// shuttle instance: the repository events that trigger pipelines and
// the status events emitted while runs execute.
package api

import "encoding/json"

const (
	TriggerKindPush        = "push"
	TriggerKindPullRequest = "pull_request"
	TriggerKindManual      = "manual"
)

// Event is the payload a forge posts to a shuttle when something
// happens on a repository. It carries the raw workflow files present
// in the repo at the triggering commit; shuttle never talks to the
// forge to fetch them.
type Event struct {
	Repo      Repo          `json:"repo"`
	Trigger   Trigger       `json:"trigger"`
	Workflows []RawWorkflow `json:"workflows"`
}

type Repo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// "owner/name" identifier, used as the secrets scope and for repo
// filtering.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

type Trigger struct {
	Kind string `json:"kind"`

	// exactly one of these is set, matching Kind
	Push        *PushTrigger        `json:"push,omitempty"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty"`
	Manual      *ManualTrigger      `json:"manual,omitempty"`

	// paths touched by the triggering change, as computed by the forge
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

type PushTrigger struct {
	Ref    string `json:"ref"`
	OldSha string `json:"old_sha"`
	NewSha string `json:"new_sha"`
}

type PullRequestTrigger struct {
	Number       int    `json:"number"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	SourceSha    string `json:"source_sha"`
}

type ManualTrigger struct {
	Branch string `json:"branch,omitempty"`
	Sha    string `json:"sha,omitempty"`
}

type RawWorkflow struct {
	// file name relative to the workflow dir, e.g. "ci.yml"
	Name     string `json:"name"`
	Contents []byte `json:"contents"`
}

// StatusEvent is one entry on the status stream. Terminal events for
// failed runs carry the failing step and its exit code; nothing more
// granular is reported.
type StatusEvent struct {
	Run      string `json:"run"`
	Repo     string `json:"repo"`
	Workflow string `json:"workflow"`
	Status   string `json:"status"`

	Step     *string `json:"step,omitempty"`
	ExitCode *int64  `json:"exit_code,omitempty"`
	Error    *string `json:"error,omitempty"`

	CreatedAt string `json:"created_at"`
}

func (s StatusEvent) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// StreamedEvent is the envelope sent on the status stream websocket.
// Id is the cursor a consumer passes back to resume after a
// disconnect.
type StreamedEvent struct {
	Id    int64           `json:"id"`
	Event json.RawMessage `json:"event"`
}
