// Package chat talks to the remote chat inference endpoint. Every turn is a
// stateless request carrying only the user's text and role.
package chat

import (
	"context"

	"github.com/ashureev/assist-engine/internal/domain"
)

// TurnRequest is one user message sent to the endpoint.
type TurnRequest struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// TurnReply is the endpoint's answer, optionally with a suggested action.
type TurnReply struct {
	Reply  string                  `json:"reply"`
	Action *domain.SuggestedAction `json:"action,omitempty"`
}

// Client performs one chat turn.
type Client interface {
	Turn(ctx context.Context, req TurnRequest) (TurnReply, error)
}
