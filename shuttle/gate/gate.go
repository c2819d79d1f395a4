// Package gate enforces single-in-flight-run-per-key semantics: a new
// run acquiring a key cancels the previous holder rather than queueing
// behind it.
package gate

import (
	"context"
	"sync"

	"shuttleci.dev/core/shuttle/models"
)

type holder struct {
	run    models.RunId
	cancel context.CancelFunc
}

type Gate struct {
	mu     sync.Mutex
	active map[string]holder
}

func New() *Gate {
	return &Gate{
		active: make(map[string]holder),
	}
}

// Acquire registers run as the holder of key. Any previous holder is
// cancelled and superseded; cancellation is cooperative, the older run
// winds down through its context. Returns the superseded run id, if
// any.
func (g *Gate) Acquire(key string, run models.RunId, cancel context.CancelFunc) (models.RunId, bool) {
	g.mu.Lock()
	prev, ok := g.active[key]
	g.active[key] = holder{run: run, cancel: cancel}
	g.mu.Unlock()

	if ok {
		prev.cancel()
		return prev.run, true
	}
	return "", false
}

// Release drops run's claim on key. A no-op when a newer run has
// already superseded it.
func (g *Gate) Release(key string, run models.RunId) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.active[key]; ok && h.run == run {
		delete(g.active, key)
	}
}

// Active returns the run currently holding key.
func (g *Gate) Active(key string) (models.RunId, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.active[key]
	return h.run, ok
}
