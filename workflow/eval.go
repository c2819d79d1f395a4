package workflow

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"

	"shuttleci.dev/core/api"
)

// Match reports whether the trigger should start a run of this
// workflow. If any of the constraints on a workflow is true, return
// true. The only error case is a malformed paths-ignore pattern.
func (w *Workflow) Match(trigger api.Trigger) (bool, error) {
	// manual triggers always run the workflow
	if trigger.Manual != nil {
		return true, nil
	}

	for _, c := range w.When {
		ok, err := c.Match(trigger)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	// no constraints, always run this workflow
	if len(w.When) == 0 {
		return true, nil
	}

	return false, nil
}

func (c *Constraint) Match(trigger api.Trigger) (bool, error) {
	if trigger.Manual != nil {
		return true, nil
	}

	if !c.MatchEvent(trigger.Kind) {
		return false, nil
	}

	if trigger.PullRequest != nil && !c.MatchBranch(trigger.PullRequest.TargetBranch) {
		return false, nil
	}

	if trigger.Push != nil && !c.MatchRef(trigger.Push.Ref) {
		return false, nil
	}

	// a change confined to ignored paths does not trigger a run
	ignored, err := c.allPathsIgnored(trigger.ChangedPaths)
	if err != nil {
		return false, err
	}
	if ignored {
		return false, nil
	}

	return true, nil
}

func (c *Constraint) MatchEvent(event string) bool {
	return slices.Contains(c.Event, event)
}

func (c *Constraint) MatchBranch(branch string) bool {
	if len(c.Branch) == 0 {
		return true
	}
	return slices.Contains(c.Branch, branch)
}

func (c *Constraint) MatchRef(ref string) bool {
	refName := plumbing.ReferenceName(ref)
	if refName.IsBranch() {
		return c.MatchBranch(refName.Short())
	}
	return false
}

// allPathsIgnored is true only when there is at least one changed path
// and every one of them matches some paths-ignore glob.
func (c *Constraint) allPathsIgnored(paths []string) (bool, error) {
	if len(c.PathsIgnore) == 0 || len(paths) == 0 {
		return false, nil
	}

	for _, p := range paths {
		matched := false
		for _, pattern := range c.PathsIgnore {
			ok, err := doublestar.Match(pattern, p)
			if err != nil {
				return false, fmt.Errorf("paths-ignore pattern %q: %w", pattern, err)
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	return true, nil
}

// branchOf extracts the branch a trigger concerns, empty when the
// trigger has no branch (tag pushes, manual runs without one).
func branchOf(t api.Trigger) string {
	switch {
	case t.Push != nil:
		refName := plumbing.ReferenceName(t.Push.Ref)
		if refName.IsBranch() {
			return refName.Short()
		}
		return ""
	case t.PullRequest != nil:
		return t.PullRequest.TargetBranch
	case t.Manual != nil:
		return t.Manual.Branch
	}
	return ""
}
