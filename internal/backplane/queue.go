package backplane

import (
	"sync"

	"github.com/relaymesh/relaymesh/pkg/types"
)

// queue is the bounded FIFO holding envelopes while the backplane is
// unreachable. On overflow the oldest entry is dropped: for UI-state traffic
// the newest update supersedes older ones, so freshness beats completeness.
type queue struct {
	mu    sync.Mutex
	cap   int
	items []types.Envelope
}

func newQueue(capacity int) *queue {
	return &queue{cap: capacity}
}

// push appends env, evicting the oldest entry when full. Returns true when
// an entry was dropped. A zero-capacity queue drops everything.
func (q *queue) push(env types.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cap == 0 {
		return true
	}
	dropped := false
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, env)
	return dropped
}

// drain removes and returns all queued envelopes in FIFO order.
func (q *queue) drain() []types.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
