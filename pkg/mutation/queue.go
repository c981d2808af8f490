package mutation

import (
	"context"
	"slices"
	"sync"
)

// keyQueue serializes commands that share a key in arrival order. A ticket
// joins the tail of every key it needs in one step, so waiting never forms a
// cycle.
type keyQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{tails: make(map[string]chan struct{})}
}

type ticket struct {
	q     *keyQueue
	keys  []string
	waits []chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (q *keyQueue) enqueue(keys []string) *ticket {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))

	q.mu.Lock()
	defer q.mu.Unlock()

	t := &ticket{q: q, keys: keys, done: make(chan struct{})}
	for _, k := range keys {
		if prev, ok := q.tails[k]; ok {
			t.waits = append(t.waits, prev)
		}
		q.tails[k] = t.done
	}
	return t
}

// wait blocks until every earlier ticket on the same keys has been released.
// When ctx ends first the ticket still releases itself once its predecessors
// finish, so later commands keep their order.
func (t *ticket) wait(ctx context.Context) error {
	for _, w := range t.waits {
		select {
		case <-w:
		case <-ctx.Done():
			go func() {
				for _, w := range t.waits {
					<-w
				}
				t.release()
			}()
			return ctx.Err()
		}
	}
	return nil
}

func (t *ticket) release() {
	t.once.Do(func() {
		t.q.mu.Lock()
		defer t.q.mu.Unlock()
		for _, k := range t.keys {
			if t.q.tails[k] == t.done {
				delete(t.q.tails, k)
			}
		}
		close(t.done)
	})
}

// pending reports how many keys currently have a queue.
func (q *keyQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
