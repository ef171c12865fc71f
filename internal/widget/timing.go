package widget

import "time"

// Timing holds the delays of the suggestion lifecycle.
type Timing struct {
	// AckDelay separates a uiAction acknowledgement from persisting its context.
	AckDelay time.Duration
	// NavigateDelay separates an "Opening..." acknowledgement from navigating.
	NavigateDelay time.Duration
	// FollowUpDelay is how long after an action the follow-up is checked.
	FollowUpDelay time.Duration
	// MountFollowUpDelay keeps a restored follow-up from landing on the greeting.
	MountFollowUpDelay time.Duration
	// SupportDelay separates a clarification from the support nudge.
	SupportDelay time.Duration
	// StaleWindow is the age after which a pending context is ignored.
	StaleWindow time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		AckDelay:           1500 * time.Millisecond,
		NavigateDelay:      time.Second,
		FollowUpDelay:      30 * time.Second,
		MountFollowUpDelay: 2 * time.Second,
		SupportDelay:       2 * time.Second,
		StaleWindow:        24 * time.Hour,
	}
}

// withDefaults fills unset durations from DefaultTiming.
func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.AckDelay <= 0 {
		t.AckDelay = def.AckDelay
	}
	if t.NavigateDelay <= 0 {
		t.NavigateDelay = def.NavigateDelay
	}
	if t.FollowUpDelay <= 0 {
		t.FollowUpDelay = def.FollowUpDelay
	}
	if t.MountFollowUpDelay <= 0 {
		t.MountFollowUpDelay = def.MountFollowUpDelay
	}
	if t.SupportDelay <= 0 {
		t.SupportDelay = def.SupportDelay
	}
	if t.StaleWindow <= 0 {
		t.StaleWindow = def.StaleWindow
	}
	return t
}
