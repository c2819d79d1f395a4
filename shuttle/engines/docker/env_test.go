package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvMap_Precedence(t *testing.T) {
	env := envMap{}.merge(map[string]string{"FOO": "workflow", "BAR": "workflow"})
	env.set("FOO", "secret")
	env.merge(map[string]string{"FOO": "step"})
	env.set("HOME", workspaceDir)

	assert.Equal(t, []string{
		"BAR=workflow",
		"FOO=step",
		"HOME=" + workspaceDir,
	}, env.slice())
}

func TestEnvMap_SliceIsSorted(t *testing.T) {
	env := envMap{"Z": "1", "A": "2", "M": "3"}
	assert.Equal(t, []string{"A=2", "M=3", "Z=1"}, env.slice())
}
