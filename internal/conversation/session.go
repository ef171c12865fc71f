// Package conversation holds the ordered transcript of one widget mount and
// the request/response cycle against the chat endpoint.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/assist-engine/internal/chat"
	"github.com/ashureev/assist-engine/internal/domain"
)

// Canned session copy.
const (
	WelcomeText = "Hi! I'm your legal assistant. How can I help you today?"
	ApologyText = "Sorry, I couldn't reach the assistant right now. Please try again."
)

// BotMessage is a structured local bot injection.
type BotMessage struct {
	Text       string
	Action     *domain.SuggestedAction
	IsFollowUp bool
	Context    *domain.NavigationContext
}

// Session is an append-only transcript. It is safe for concurrent use;
// observers see appends one at a time in transcript order.
type Session struct {
	client chat.Client
	logger *slog.Logger

	// notifyMu serializes append+notify so observers never see indexes out
	// of order. Observers must not append from within the callback.
	notifyMu sync.Mutex

	mu        sync.Mutex
	messages  []domain.Message
	loading   bool
	err       error
	onAppend  func(index int, m domain.Message)
	onLoading func(loading bool)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// OnAppend registers the observer called after every append.
func OnAppend(fn func(index int, m domain.Message)) Option {
	return func(s *Session) {
		s.onAppend = fn
	}
}

// OnLoading registers the observer called whenever the loading flag flips.
func OnLoading(fn func(loading bool)) Option {
	return func(s *Session) {
		s.onLoading = fn
	}
}

// NewSession creates a transcript seeded with the welcome message.
func NewSession(client chat.Client, opts ...Option) *Session {
	s := &Session{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.append(domain.Message{Sender: domain.SenderBot, Text: WelcomeText})
	return s
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Message returns the entry at index.
func (s *Session) Message(index int) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return domain.Message{}, false
	}
	return s.messages[index], true
}

// Len returns the number of transcript entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Loading reports whether a turn is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the error of the most recent failed turn, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SendMessage appends the user's text and runs one turn against the chat
// endpoint. Blank input is ignored. Failures append the apology and are
// kept in Err; they are never returned.
func (s *Session) SendMessage(ctx context.Context, text string, role domain.Role) {
	if !s.AppendUser(text) {
		return
	}
	s.Reply(ctx, text, role)
}

// AppendUser appends the user's text to the transcript and reports whether
// it did. Blank input is ignored.
func (s *Session) AppendUser(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.append(domain.Message{Sender: domain.SenderUser, Text: text})
	return true
}

// Reply runs the turn for a user message already appended with AppendUser
// and appends the bot's answer or the apology.
func (s *Session) Reply(ctx context.Context, text string, role domain.Role) {
	s.setLoading(true)
	defer s.setLoading(false)

	reply, err := s.turn(ctx, text, role)
	if err != nil {
		s.logger.Warn("chat turn failed", "role", role, "error", err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.append(domain.Message{Sender: domain.SenderBot, Text: ApologyText})
		return
	}

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.append(domain.Message{Sender: domain.SenderBot, Text: reply.Reply, Action: reply.Action})
}

func (s *Session) turn(ctx context.Context, text string, role domain.Role) (chat.TurnReply, error) {
	if s.client == nil {
		return chat.TurnReply{}, errors.New("conversation: no chat client configured")
	}
	return s.client.Turn(ctx, chat.TurnRequest{Message: text, Role: string(role)})
}

// AddBotText injects a plain bot message without touching the network.
func (s *Session) AddBotText(text string) int {
	return s.append(domain.Message{Sender: domain.SenderBot, Text: text})
}

// AddBotMessage injects a structured bot message, preserving every field.
func (s *Session) AddBotMessage(m BotMessage) int {
	return s.append(domain.Message{
		Sender:     domain.SenderBot,
		Text:       m.Text,
		Action:     m.Action,
		IsFollowUp: m.IsFollowUp,
		Context:    m.Context,
	})
}

func (s *Session) append(m domain.Message) int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.messages = append(s.messages, m)
	index := len(s.messages) - 1
	fn := s.onAppend
	s.mu.Unlock()

	if fn != nil {
		fn(index, m)
	}
	return index
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	fn := s.onLoading
	s.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}
