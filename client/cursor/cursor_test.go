package cursor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	var s MemoryStore
	assert.EqualValues(t, 0, s.Get("a"))

	s.Set("a", 42)
	s.Set("b", 7)
	assert.EqualValues(t, 42, s.Get("a"))
	assert.EqualValues(t, 7, s.Get("b"))
}

func TestSqliteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	assert.EqualValues(t, 0, s.Get("ci.example.com"))

	s.Set("ci.example.com", 100)
	s.Set("ci.example.com", 250)
	assert.EqualValues(t, 250, s.Get("ci.example.com"))

	// survives reopening
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	assert.EqualValues(t, 250, s2.Get("ci.example.com"))
}
