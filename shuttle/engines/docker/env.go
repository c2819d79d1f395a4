package docker

import (
	"fmt"
	"maps"
	"slices"
)

// envMap accumulates the environment for one step. Later writes win,
// so precedence is the merge order: workflow values, then secrets,
// then step-level overrides.
type envMap map[string]string

func (m envMap) merge(overlay map[string]string) envMap {
	maps.Copy(m, overlay)
	return m
}

func (m envMap) set(key, value string) envMap {
	m[key] = value
	return m
}

// slice renders the map docker-style ("KEY=value"), sorted so that
// container configs are deterministic.
func (m envMap) slice() []string {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return out
}
