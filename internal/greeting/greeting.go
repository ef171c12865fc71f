// Package greeting decides the proactive first message of a widget mount
// from role-scoped summaries of the user's data.
package greeting

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/assist-engine/internal/domain"
)

// Summaries are the read-only, role-scoped queries the procedure consults.
// Implementations report failures through the empty Result variant.
type Summaries interface {
	Appointments(ctx context.Context, role domain.Role) Result[[]domain.Appointment]
	Cases(ctx context.Context, role domain.Role) Result[[]domain.Case]
	Profile(ctx context.Context, role domain.Role) Result[*domain.Profile]
}

// Greeting is a proactive message with its suggested action.
type Greeting struct {
	Text   string
	Action *domain.SuggestedAction
}

// Procedure evaluates the greeting rules.
type Procedure struct {
	summaries Summaries
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Procedure.
type Option func(*Procedure)

// WithClock sets the clock used for "today" comparisons. Its location is
// the caller's local calendar.
func WithClock(now func() time.Time) Option {
	return func(p *Procedure) {
		p.now = now
	}
}

// WithLogger sets the logger used for failed queries.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Procedure) {
		p.logger = logger
	}
}

// NewProcedure creates a Procedure.
func NewProcedure(summaries Summaries, opts ...Option) *Procedure {
	p := &Procedure{
		summaries: summaries,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SmartGreeting returns at most one greeting for role. Rules are checked in
// priority order and the first match wins.
func (p *Procedure) SmartGreeting(ctx context.Context, role domain.Role) *Greeting {
	switch role {
	case domain.RoleCitizen:
		appts, cases := p.fetchAppointmentsAndCases(ctx, role)
		return citizenGreeting(appts, cases)
	case domain.RoleLawyer:
		appts, cases := p.fetchAppointmentsAndCases(ctx, role)
		return lawyerGreeting(appts, cases, p.now())
	case domain.RoleNGO:
		profile := p.summaries.Profile(ctx, role)
		p.logFailure(role, "profile", profile.Err)
		return ngoGreeting(profile.Value)
	default:
		return nil
	}
}

func (p *Procedure) fetchAppointmentsAndCases(ctx context.Context, role domain.Role) ([]domain.Appointment, []domain.Case) {
	var (
		appts Result[[]domain.Appointment]
		cases Result[[]domain.Case]
	)
	var eg errgroup.Group
	eg.Go(func() error {
		appts = p.summaries.Appointments(ctx, role)
		return nil
	})
	eg.Go(func() error {
		cases = p.summaries.Cases(ctx, role)
		return nil
	})
	_ = eg.Wait()

	p.logFailure(role, "appointments", appts.Err)
	p.logFailure(role, "cases", cases.Err)
	return appts.Value, cases.Value
}

func (p *Procedure) logFailure(role domain.Role, query string, err error) {
	if err != nil {
		p.logger.Warn("summary query failed, treating as empty", "role", role, "query", query, "error", err)
	}
}

func citizenGreeting(appts []domain.Appointment, cases []domain.Case) *Greeting {
	for _, a := range appts {
		if a.Status == domain.AppointmentRequested || a.Status == domain.AppointmentPending {
			return &Greeting{
				Text: "You have appointment requests waiting for confirmation.",
				Action: &domain.SuggestedAction{
					Label:  "Check Schedule",
					Tab:    "appointments",
					Reason: ReasonPendingAppointments,
				},
			}
		}
	}
	for _, c := range cases {
		if c.Status == domain.CaseOpen || c.Status == domain.CaseInProgress {
			return &Greeting{
				Text: "Your case is moving forward. Want to check its latest status?",
				Action: &domain.SuggestedAction{
					Label:  "Track Case",
					Tab:    "cases",
					Reason: ReasonCaseTracking,
				},
			}
		}
	}
	return &Greeting{
		Text: "Need legal help? You can submit a new case in a few steps.",
		Action: &domain.SuggestedAction{
			Label:    "Submit a Case",
			Tab:      "submit",
			UIAction: "OPEN_CASE_FORM",
			Reason:   ReasonNewCase,
		},
	}
}

func lawyerGreeting(appts []domain.Appointment, cases []domain.Case, now time.Time) *Greeting {
	for _, c := range cases {
		if c.Status == domain.CaseAssigned {
			return &Greeting{
				Text: "You have new cases waiting for review.",
				Action: &domain.SuggestedAction{
					Label:    "Review Cases",
					Tab:      "cases",
					UIAction: "OPEN_ASSIGNED_CASE",
					Reason:   ReasonCaseReview,
				},
			}
		}
	}
	for _, a := range appts {
		if a.OnDay(now) {
			return &Greeting{
				Text: "You have appointments scheduled for today.",
				Action: &domain.SuggestedAction{
					Label:  "View Today's Schedule",
					Tab:    "appointments",
					Reason: ReasonTodaysSchedule,
				},
			}
		}
	}
	return nil
}

func ngoGreeting(profile *domain.Profile) *Greeting {
	if profile == nil || profile.VerificationStatus != domain.VerificationPending {
		return nil
	}
	return &Greeting{
		Text: "Your organization's verification is still pending. Complete it to start receiving cases.",
		Action: &domain.SuggestedAction{
			Label:    "Complete Verification",
			Tab:      "profile",
			UIAction: "OPEN_VERIFICATION_FORM",
			Reason:   ReasonVerificationPending,
		},
	}
}
