package domain

// Sender identifies who produced a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// SuggestedAction is a bot-proposed next step. It may open an in-page UI
// element (UIAction), navigate to a logical destination (Tab), or both.
type SuggestedAction struct {
	Label       string `json:"label"`
	UIAction    string `json:"uiAction,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	Tab         string `json:"tab,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AutoTrigger bool   `json:"autoTrigger,omitempty"`
}

// IsInert reports whether the action has nothing to execute.
func (a *SuggestedAction) IsInert() bool {
	return a == nil || (a.UIAction == "" && a.Tab == "")
}

// Destination is the value recorded as the navigation target of the action:
// the tab when present, otherwise the UI action name.
func (a *SuggestedAction) Destination() string {
	if a == nil {
		return ""
	}
	if a.Tab != "" {
		return a.Tab
	}
	return a.UIAction
}

// Message is one transcript entry. Messages are never mutated after they
// are appended.
type Message struct {
	Sender     Sender             `json:"sender"`
	Text       string             `json:"text"`
	Action     *SuggestedAction   `json:"action,omitempty"`
	IsFollowUp bool               `json:"isFollowUp,omitempty"`
	Context    *NavigationContext `json:"context,omitempty"`
}
