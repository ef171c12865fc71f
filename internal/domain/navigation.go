package domain

import "time"

// ContextStatus is the lifecycle status of a NavigationContext.
type ContextStatus string

// StatusPending marks a suggestion that still awaits the user's verdict.
const StatusPending ContextStatus = "PENDING"

// NavigationContext records the most recent suggested action that fired.
// At most one exists per device.
type NavigationContext struct {
	LastNavigationTab string        `json:"lastNavigationTab"`
	NavigationReason  string        `json:"navigationReason"`
	Timestamp         time.Time     `json:"timestamp"`
	Status            ContextStatus `json:"status,omitempty"`
}

// IsPending reports whether the context awaits a follow-up answer.
func (c *NavigationContext) IsPending() bool {
	return c != nil && c.Status == StatusPending
}

// IsStale reports whether the context is older than window at now.
func (c *NavigationContext) IsStale(now time.Time, window time.Duration) bool {
	if c == nil {
		return true
	}
	return now.Sub(c.Timestamp) > window
}

// Snapshot returns a copy detached from the stored record.
func (c *NavigationContext) Snapshot() *NavigationContext {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Insight is an immutable outcome record of a past suggestion.
type Insight struct {
	Solved    bool      `json:"solved"`
	Reason    string    `json:"reason"`
	Tab       string    `json:"tab,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
