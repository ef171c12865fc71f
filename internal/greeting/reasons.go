package greeting

// Reason tags attached to suggested actions. The follow-up flow branches on
// them when the user says a suggestion did not help.
const (
	ReasonPendingAppointments = "pending_appointments"
	ReasonCaseTracking        = "case_tracking"
	ReasonNewCase             = "new_case"
	ReasonCaseReview          = "case_review"
	ReasonTodaysSchedule      = "todays_schedule"
	ReasonVerificationPending = "verification_pending"
	ReasonSupport             = "support"
)
