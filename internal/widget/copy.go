package widget

import (
	"fmt"

	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/greeting"
)

// Copy is the canned text the window injects locally.
type Copy struct {
	ActionDone           string
	OpeningFormat        string
	FollowUpQuestion     string
	SolvedAck            string
	Clarifications       map[string]string
	GenericClarification string
	SupportNudge         string
	SupportAction        domain.SuggestedAction
}

// DefaultCopy returns the stock copy.
func DefaultCopy() Copy {
	return Copy{
		ActionDone:       "Done! I've opened that for you.",
		OpeningFormat:    "Opening %s...",
		FollowUpQuestion: "Did that solve your problem?",
		SolvedAck:        "Great! Glad I could help.",
		Clarifications: map[string]string{
			greeting.ReasonPendingAppointments: "Are you trying to reschedule or contact your lawyer?",
			greeting.ReasonCaseTracking:        "Are you looking for a case update or need to upload documents?",
			greeting.ReasonCaseReview:          "Do you need help accepting the case or contacting the client?",
			greeting.ReasonVerificationPending: "Are you missing documents or stuck on a verification step?",
		},
		GenericClarification: "Could you tell me a bit more about what you were trying to do?",
		SupportNudge:         "If you still need help, our support team can assist you.",
		SupportAction: domain.SuggestedAction{
			Label:  "Contact Support",
			Tab:    "support",
			Reason: greeting.ReasonSupport,
		},
	}
}

// WithClarifications returns a copy with overrides applied on top of the
// stock clarifications. Empty values are ignored.
func (c Copy) WithClarifications(overrides map[string]string) Copy {
	merged := make(map[string]string, len(c.Clarifications)+len(overrides))
	for k, v := range c.Clarifications {
		merged[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			merged[k] = v
		}
	}
	c.Clarifications = merged
	return c
}

// Clarification picks the prompt for reason, falling back to the generic one.
func (c Copy) Clarification(reason string) string {
	if text, ok := c.Clarifications[reason]; ok {
		return text
	}
	return c.GenericClarification
}

// Opening formats the acknowledgement for a navigation to label.
func (c Copy) Opening(label string) string {
	return fmt.Sprintf(c.OpeningFormat, label)
}
