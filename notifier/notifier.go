// Package notifier is a minimal in-process fanout used to wake status
// stream subscribers whenever a run changes state. Signals carry no
// payload and coalesce: a subscriber that has not drained its channel
// yet sees at most one pending wakeup.
package notifier

import (
	"sync"
)

type Notifier struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]chan struct{}
}

func New() Notifier {
	return Notifier{
		subs: make(map[uint64]chan struct{}),
	}
}

// Subscription is one listener's handle on the notifier. Close it
// when done; reads from C after Close see a closed channel.
type Subscription struct {
	C <-chan struct{}

	id uint64
	n  *Notifier
}

func (n *Notifier) Subscribe() *Subscription {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	return &Subscription{C: ch, id: id, n: n}
}

func (s *Subscription) Close() {
	s.n.mu.Lock()
	if ch, ok := s.n.subs[s.id]; ok {
		delete(s.n.subs, s.id)
		close(ch)
	}
	s.n.mu.Unlock()
}

func (n *Notifier) NotifyAll() {
	n.mu.Lock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
			// subscriber already has a pending wakeup
		}
	}
	n.mu.Unlock()
}
