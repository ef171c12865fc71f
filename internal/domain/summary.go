package domain

import "time"

// Appointment states reported by the backend.
const (
	AppointmentRequested = "REQUESTED"
	AppointmentPending   = "PENDING"
)

// Case states reported by the backend.
const (
	CaseOpen       = "OPEN"
	CaseInProgress = "IN_PROGRESS"
	CaseAssigned   = "ASSIGNED"
)

// VerificationPending is the profile verification status that still needs action.
const VerificationPending = "PENDING"

// Appointment is a role-scoped appointment summary. Date is either RFC 3339
// or a bare calendar date (2006-01-02).
type Appointment struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Date   string `json:"date"`
}

// OnDay reports whether the appointment falls on the calendar day of day,
// evaluated in day's location. Unparseable dates never match.
func (a Appointment) OnDay(day time.Time) bool {
	if t, err := time.Parse(time.RFC3339, a.Date); err == nil {
		t = t.In(day.Location())
		return sameDay(t, day)
	}
	if t, err := time.ParseInLocation(time.DateOnly, a.Date, day.Location()); err == nil {
		return sameDay(t, day)
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Case is a role-scoped case summary.
type Case struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

// Profile is the caller's own profile summary.
type Profile struct {
	VerificationStatus string `json:"verificationStatus"`
}
