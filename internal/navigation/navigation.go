// Package navigation maps logical destinations onto the shareable location
// indicator of the host page.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/ashureev/assist-engine/internal/store"
)

// DefaultParam is the query parameter that carries the active tab.
const DefaultParam = "tab"

// KeyLocationQuery is the device key holding the last known query string.
const KeyLocationQuery = "location_query"

// Location is a settable, gettable set of query parameters.
type Location interface {
	Query() url.Values
	SetQuery(q url.Values)
}

// ContextRecorder records that a navigation happened.
type ContextRecorder interface {
	SetNavigationContext(ctx context.Context, tab, reason string) error
}

// Trigger records navigation contexts and moves the location indicator.
type Trigger struct {
	contexts ContextRecorder
	location Location
	param    string
}

// NewTrigger creates a Trigger. An empty param selects DefaultParam.
func NewTrigger(contexts ContextRecorder, location Location, param string) (*Trigger, error) {
	if contexts == nil {
		return nil, errors.New("navigation: context recorder must not be nil")
	}
	if location == nil {
		return nil, errors.New("navigation: location must not be nil")
	}
	if param == "" {
		param = DefaultParam
	}
	return &Trigger{contexts: contexts, location: location, param: param}, nil
}

// NavigateTo records a pending context for tab and then sets the tab
// parameter, keeping every other parameter already present.
func (t *Trigger) NavigateTo(ctx context.Context, tab, reason string) error {
	if err := t.contexts.SetNavigationContext(ctx, tab, reason); err != nil {
		return fmt.Errorf("navigation: record context: %w", err)
	}
	q := t.location.Query()
	q.Set(t.param, tab)
	t.location.SetQuery(q)
	return nil
}

// Current returns the tab currently shown by the indicator.
func (t *Trigger) Current() string {
	return t.location.Query().Get(t.param)
}

// KV is the slice of store.Repository StoredLocation needs.
type KV interface {
	GetValue(ctx context.Context, deviceID, key string) ([]byte, error)
	PutValue(ctx context.Context, deviceID, key string, value []byte) error
}

// StoredLocation is a Location persisted in the device namespace so that the
// indicator survives a reload. OnChange, when set, is told about every update.
type StoredLocation struct {
	kv       KV
	deviceID string

	mu       sync.Mutex
	query    url.Values
	onChange func(url.Values)
}

// LoadLocation restores the device's last known location. A missing or
// undecodable value yields an empty location.
func LoadLocation(ctx context.Context, kv KV, deviceID string) *StoredLocation {
	l := &StoredLocation{kv: kv, deviceID: deviceID, query: url.Values{}}
	raw, err := kv.GetValue(ctx, deviceID, KeyLocationQuery)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("failed to restore location", "device_id", deviceID, "error", err)
		}
		return l
	}
	q, err := url.ParseQuery(string(raw))
	if err != nil {
		slog.Warn("discarding corrupt location", "device_id", deviceID, "error", err)
		return l
	}
	l.query = q
	return l
}

// OnChange sets the callback invoked after every SetQuery.
func (l *StoredLocation) OnChange(fn func(url.Values)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Query returns a copy of the current parameters.
func (l *StoredLocation) Query() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneValues(l.query)
}

// Merge overlays q on the current parameters, e.g. from the page URL the
// widget was mounted on.
func (l *StoredLocation) Merge(q url.Values) {
	cur := l.Query()
	for k, vs := range q {
		cur[k] = append([]string(nil), vs...)
	}
	l.SetQuery(cur)
}

// SetQuery replaces the parameters and persists them.
func (l *StoredLocation) SetQuery(q url.Values) {
	l.mu.Lock()
	l.query = cloneValues(q)
	fn := l.onChange
	encoded := l.query.Encode()
	l.mu.Unlock()

	if err := l.kv.PutValue(context.Background(), l.deviceID, KeyLocationQuery, []byte(encoded)); err != nil {
		slog.Error("failed to persist location", "device_id", l.deviceID, "error", err)
	}
	if fn != nil {
		fn(cloneValues(q))
	}
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
