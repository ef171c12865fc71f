package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/ashureev/assist-engine/internal/bus"
	"github.com/ashureev/assist-engine/internal/contextstore"
	"github.com/ashureev/assist-engine/internal/navigation"
	"github.com/ashureev/assist-engine/internal/store"
)

// Runtime is the state shared by every mount of one device: its action
// bus, context store and location indicator.
type Runtime struct {
	DeviceID  string
	Bus       *bus.Bus
	Contexts  *contextstore.Store
	Location  *navigation.StoredLocation
	Navigator *navigation.Trigger

	refs int
}

// Registry hands out device runtimes and drops them once the last mount
// of a device releases its reference.
type Registry struct {
	repo   store.Repository
	param  string
	logger *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewRegistry creates a registry over repo. param names the location
// parameter that carries the tab.
func NewRegistry(repo store.Repository, param string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:     repo,
		param:    param,
		logger:   logger,
		runtimes: make(map[string]*Runtime),
	}
}

// Acquire returns the runtime of deviceID, creating it on first use. The
// returned release func must be called exactly once when the mount ends.
func (r *Registry) Acquire(ctx context.Context, deviceID string) (*Runtime, func(), error) {
	if deviceID == "" {
		return nil, nil, errors.New("widget: device id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.runtimes[deviceID]
	if !ok {
		var err error
		rt, err = r.build(ctx, deviceID)
		if err != nil {
			return nil, nil, err
		}
		r.runtimes[deviceID] = rt
	}
	rt.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(deviceID) })
	}
	return rt, release, nil
}

// Active returns the number of live runtimes.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

func (r *Registry) release(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[deviceID]
	if !ok {
		return
	}
	rt.refs--
	if rt.refs <= 0 {
		delete(r.runtimes, deviceID)
		r.logger.Debug("device runtime released", "device_id", deviceID)
	}
}

func (r *Registry) build(ctx context.Context, deviceID string) (*Runtime, error) {
	logger := r.logger.With("device_id", deviceID)

	contexts, err := contextstore.New(r.repo, deviceID, contextstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("widget: context store: %w", err)
	}
	location := navigation.LoadLocation(ctx, r.repo, deviceID)
	location.OnChange(func(q url.Values) {
		logger.Debug("location changed", "query", q.Encode())
	})
	nav, err := navigation.NewTrigger(contexts, location, r.param)
	if err != nil {
		return nil, fmt.Errorf("widget: navigation trigger: %w", err)
	}

	return &Runtime{
		DeviceID:  deviceID,
		Bus:       bus.New(logger),
		Contexts:  contexts,
		Location:  location,
		Navigator: nav,
	}, nil
}
