// Package schedule runs deferred callbacks tied to the lifetime of their
// owner. Closing the group cancels everything still pending.
package schedule

import (
	"sync"
	"time"
)

// Group owns a set of pending timers.
type Group struct {
	mu     sync.Mutex
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// NewGroup creates an open group.
func NewGroup() *Group {
	return &Group{timers: make(map[uint64]*time.Timer)}
}

// After schedules fn to run once after d. The returned func cancels it.
// After on a closed group schedules nothing.
func (g *Group) After(d time.Duration, fn func()) (cancel func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return func() {}
	}

	g.nextID++
	id := g.nextID
	g.wg.Add(1)
	g.timers[id] = time.AfterFunc(d, func() {
		defer g.wg.Done()
		if !g.claim(id) {
			return
		}
		fn()
	})
	return func() { g.cancel(id) }
}

// claim removes id from the pending set and reports whether fn may run.
// It holds the lock, so Close cannot interleave between the check and the
// start of the callback.
func (g *Group) claim(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	if _, ok := g.timers[id]; !ok {
		return false
	}
	delete(g.timers, id)
	return true
}

func (g *Group) cancel(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.timers[id]
	if !ok {
		return
	}
	delete(g.timers, id)
	if t.Stop() {
		g.wg.Done()
	}
}

// Pending reports how many callbacks are still scheduled.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// Close cancels all pending callbacks and waits for any that already
// started. It must not be called from inside a callback of the same group.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for id, t := range g.timers {
		delete(g.timers, id)
		if t.Stop() {
			g.wg.Done()
		}
	}
	g.mu.Unlock()
	g.wg.Wait()
}
