package docker

import (
	"fmt"
	"strconv"
	"strings"

	"shuttleci.dev/core/api"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/workflow"
)

// builtin reusable actions: a `uses:` reference resolves to shell
// commands injected as a system step. Versions after '@' are accepted
// and ignored, there is only one builtin implementation per action.
type actionFunc func(step workflow.Step, ev api.Event) (Step, error)

var actions = map[string]actionFunc{
	"cache":      cacheAction,
	"checkout":   checkoutAction,
	"setup-rust": setupRustAction,
}

func resolveAction(step workflow.Step, ev api.Event) (Step, error) {
	name, _, _ := strings.Cut(step.Uses, "@")

	fn, ok := actions[name]
	if !ok {
		return Step{}, fmt.Errorf("unknown action %q", step.Uses)
	}

	resolved, err := fn(step, ev)
	if err != nil {
		return Step{}, err
	}

	if step.Name != "" {
		resolved.name = step.Name
	}
	resolved.kind = models.StepKindSystem
	resolved.environment = mergeEnv(resolved.environment, step.Environment)

	return resolved, nil
}

// checkoutAction generates git clone commands. The working directory
// is already the workspace when these run.
//
// The generated commands are:
// - git init
// - git remote add origin <url>
// - git fetch --depth=<d> [--recurse-submodules=yes] origin <sha>
// - git checkout FETCH_HEAD
func checkoutAction(step workflow.Step, ev api.Event) (Step, error) {
	sha, err := commitSHA(ev.Trigger)
	if err != nil {
		return Step{}, fmt.Errorf("checkout: %w", err)
	}

	depth := 1
	if d, ok := step.With["depth"]; ok {
		depth, err = strconv.Atoi(d)
		if err != nil || depth < 1 {
			return Step{}, fmt.Errorf("checkout: invalid depth %q", d)
		}
	}

	fetchArgs := []string{fmt.Sprintf("--depth=%d", depth)}
	if step.With["submodules"] == "true" {
		fetchArgs = append(fetchArgs, "--recurse-submodules=yes")
	}
	fetchArgs = append(fetchArgs, "origin")
	if sha != "" {
		fetchArgs = append(fetchArgs, sha)
	}

	commands := []string{
		"git init",
		fmt.Sprintf("git remote add origin %s", ev.Repo.CloneURL),
		fmt.Sprintf("git fetch %s", strings.Join(fetchArgs, " ")),
		"git checkout FETCH_HEAD",
	}

	return Step{
		name:    "Check out repository",
		command: strings.Join(commands, "\n"),
	}, nil
}

// commitSHA extracts the commit to check out from trigger metadata
func commitSHA(t api.Trigger) (string, error) {
	switch t.Kind {
	case api.TriggerKindPush:
		if t.Push == nil {
			return "", fmt.Errorf("push trigger metadata is nil")
		}
		return t.Push.NewSha, nil

	case api.TriggerKindPullRequest:
		if t.PullRequest == nil {
			return "", fmt.Errorf("pull request trigger metadata is nil")
		}
		return t.PullRequest.SourceSha, nil

	case api.TriggerKindManual:
		if t.Manual == nil {
			return "", nil
		}
		return t.Manual.Sha, nil

	default:
		return "", fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}
}

// cacheAction pre-creates the requested directories inside the
// workspace. The workspace volume already persists for the lifetime
// of the run, so keeping a path cached between steps is just making
// sure it exists before anything writes to it.
func cacheAction(step workflow.Step, _ api.Event) (Step, error) {
	paths := step.With["path"]
	if paths == "" {
		return Step{}, fmt.Errorf("cache: missing path")
	}

	var commands []string
	for p := range strings.SplitSeq(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		commands = append(commands, fmt.Sprintf("mkdir -p %s", p))
	}
	if len(commands) == 0 {
		return Step{}, fmt.Errorf("cache: missing path")
	}

	return Step{
		name:    fmt.Sprintf("Prepare cache (%s)", paths),
		command: strings.Join(commands, "\n"),
	}, nil
}

// setupRustAction installs a rust toolchain via rustup and makes it
// the default.
func setupRustAction(step workflow.Step, _ api.Event) (Step, error) {
	toolchain := step.With["toolchain"]
	if toolchain == "" {
		toolchain = "stable"
	}

	install := fmt.Sprintf("rustup toolchain install %s --profile minimal", toolchain)
	if components := step.With["components"]; components != "" {
		for c := range strings.SplitSeq(components, ",") {
			install += fmt.Sprintf(" --component %s", strings.TrimSpace(c))
		}
	}

	commands := []string{
		install,
		fmt.Sprintf("rustup default %s", toolchain),
	}

	return Step{
		name:    fmt.Sprintf("Install rust toolchain (%s)", toolchain),
		command: strings.Join(commands, "\n"),
		environment: map[string]string{
			"RUSTUP_HOME": workspaceDir + "/.rustup",
			"CARGO_HOME":  workspaceDir + "/.cargo",
		},
	}, nil
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	if len(overlay) == 0 {
		return base
	}
	return envMap{}.merge(base).merge(overlay)
}
