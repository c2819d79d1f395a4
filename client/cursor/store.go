package cursor

import "sync"

type Store interface {
	Set(source string, cursor int64)
	Get(source string) (cursor int64)
}

// MemoryStore loses its cursors on restart; consumers backfill from
// the beginning of the stream.
type MemoryStore struct {
	m sync.Map
}

func (s *MemoryStore) Set(source string, cursor int64) {
	s.m.Store(source, cursor)
}

func (s *MemoryStore) Get(source string) int64 {
	v, ok := s.m.Load(source)
	if !ok {
		return 0
	}
	return v.(int64)
}
