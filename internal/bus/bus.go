// Package bus is the publish/subscribe channel for named UI actions. It
// decouples the assistant from the page components that own the UI
// elements it wants to open.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives the opaque payload of one action.
type Handler func(payload any)

// Handlers maps action names to their handler.
type Handlers map[string]Handler

// Bus broadcasts actions to every current subscription. Actions fired while
// nobody listens are dropped; there is no replay for late subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
	logger *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int64]*Subscription),
		logger: logger,
	}
}

// Subscription is one listener registration. The handler map it dispatches
// to can be swapped with Update without re-registering.
type Subscription struct {
	id       int64
	bus      *Bus
	handlers atomic.Pointer[Handlers]
	once     sync.Once
}

// Listen registers handlers until the returned subscription is closed.
func (b *Bus) Listen(handlers Handlers) *Subscription {
	sub := &Subscription{bus: b}
	sub.Update(handlers)

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Update replaces the handler map used by future dispatches.
func (s *Subscription) Update(handlers Handlers) {
	cp := make(Handlers, len(handlers))
	for name, h := range handlers {
		cp[name] = h
	}
	s.handlers.Store(&cp)
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) lookup(action string) Handler {
	hs := s.handlers.Load()
	if hs == nil {
		return nil
	}
	return (*hs)[action]
}

// Trigger delivers action to every subscription that currently has a
// handler for it. It never blocks on acknowledgement and reports how many
// handlers ran.
func (b *Bus) Trigger(action string, payload any) int {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if h := sub.lookup(action); h != nil {
			targets = append(targets, h)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.logger.Debug("ui action dropped, no listener", "action", action)
		return 0
	}
	for _, h := range targets {
		b.dispatch(action, h, payload)
	}
	return len(targets)
}

func (b *Bus) dispatch(action string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("ui action handler panicked", "action", action, "panic", r)
		}
	}()
	h(payload)
}
