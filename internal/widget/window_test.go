package widget

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/assist-engine/internal/bus"
	"github.com/ashureev/assist-engine/internal/chat"
	"github.com/ashureev/assist-engine/internal/contextstore"
	"github.com/ashureev/assist-engine/internal/conversation"
	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/greeting"
	"github.com/ashureev/assist-engine/internal/navigation"
	"github.com/ashureev/assist-engine/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var fastTiming = Timing{
	AckDelay:           10 * time.Millisecond,
	NavigateDelay:      10 * time.Millisecond,
	FollowUpDelay:      30 * time.Millisecond,
	MountFollowUpDelay: 10 * time.Millisecond,
	SupportDelay:       10 * time.Millisecond,
	StaleWindow:        time.Hour,
}

type recEmitter struct {
	mu        sync.Mutex
	indexes   []int
	navigates []string
	loading   []bool
}

func (e *recEmitter) EmitMessage(index int, _ domain.Message) {
	e.mu.Lock()
	e.indexes = append(e.indexes, index)
	e.mu.Unlock()
}

func (e *recEmitter) EmitLoading(loading bool) {
	e.mu.Lock()
	e.loading = append(e.loading, loading)
	e.mu.Unlock()
}

func (e *recEmitter) EmitNavigate(tab string, _ url.Values) {
	e.mu.Lock()
	e.navigates = append(e.navigates, tab)
	e.mu.Unlock()
}

func (e *recEmitter) snapshot() (indexes []int, navigates []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.indexes...), append([]string(nil), e.navigates...)
}

type stubChat struct {
	reply chat.TurnReply
	err   error
}

func (s stubChat) Turn(context.Context, chat.TurnRequest) (chat.TurnReply, error) {
	return s.reply, s.err
}

type stubSummaries struct {
	appts   []domain.Appointment
	cases   []domain.Case
	profile *domain.Profile
}

func (s stubSummaries) Appointments(context.Context, domain.Role) greeting.Result[[]domain.Appointment] {
	return greeting.OK(s.appts)
}

func (s stubSummaries) Cases(context.Context, domain.Role) greeting.Result[[]domain.Case] {
	return greeting.OK(s.cases)
}

func (s stubSummaries) Profile(context.Context, domain.Role) greeting.Result[*domain.Profile] {
	return greeting.OK(s.profile)
}

type harness struct {
	t        *testing.T
	repo     *store.SQLiteStore
	contexts *contextstore.Store
	location *navigation.StoredLocation
	nav      *navigation.Trigger
	bus      *bus.Bus
	emitter  *recEmitter
}

func newHarness(t *testing.T, opts ...contextstore.Option) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "widget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	contexts, err := contextstore.New(repo, "dev-1", opts...)
	require.NoError(t, err)
	location := navigation.LoadLocation(context.Background(), repo, "dev-1")
	nav, err := navigation.NewTrigger(contexts, location, "")
	require.NoError(t, err)

	return &harness{
		t:        t,
		repo:     repo,
		contexts: contexts,
		location: location,
		nav:      nav,
		bus:      bus.New(nil),
		emitter:  &recEmitter{},
	}
}

func (h *harness) window(role domain.Role, c chat.Client, g Greeter) *Window {
	h.t.Helper()
	w, err := NewWindow(WindowConfig{
		DeviceID:  "dev-1",
		SessionID: "tab-1",
		MountID:   "mount-1",
		Role:      role,
		Chat:      c,
		Greeter:   g,
		Contexts:  h.contexts,
		Bus:       h.bus,
		Navigator: h.nav,
		Location:  h.location,
		Emitter:   h.emitter,
		Timing:    fastTiming,
	})
	require.NoError(h.t, err)
	h.t.Cleanup(w.Close)
	return w
}

// waitForText returns the index of the first message with text.
func waitForText(t *testing.T, w *Window, text string) int {
	t.Helper()
	index := -1
	require.Eventually(t, func() bool {
		for i, m := range w.Session().Messages() {
			if m.Text == text {
				index = i
				return true
			}
		}
		return false
	}, waitFor, tick, "message %q never appeared", text)
	return index
}

func inject(w *Window, text string, action *domain.SuggestedAction) int {
	return w.Session().AddBotMessage(conversation.BotMessage{Text: text, Action: action})
}

func TestNewWindow_RequiresDependencies(t *testing.T) {
	_, err := NewWindow(WindowConfig{})
	require.Error(t, err)
}

func TestScenarioA_LawyerAssignedCaseGreeting(t *testing.T) {
	h := newHarness(t)
	g := greeting.NewProcedure(stubSummaries{cases: []domain.Case{{ID: "c1", Status: domain.CaseAssigned}}})
	w := h.window(domain.RoleLawyer, stubChat{}, g)
	require.NoError(t, w.Mount())

	idx := waitForText(t, w, "You have new cases waiting for review.")
	m, _ := w.Session().Message(idx)
	require.Equal(t, &domain.SuggestedAction{
		Label:    "Review Cases",
		Tab:      "cases",
		UIAction: "OPEN_ASSIGNED_CASE",
		Reason:   "case_review",
	}, m.Action)
	require.Nil(t, h.contexts.GetContext(context.Background()), "greetings are suggestions, not triggers")
}

func TestScenarioB_TabClickFollowUpAnsweredNo(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{}, nil)
	ctx := context.Background()

	idx := inject(w, "You have appointment requests waiting for confirmation.", &domain.SuggestedAction{
		Label:  "Check Schedule",
		Tab:    "appointments",
		Reason: "pending_appointments",
	})
	require.NoError(t, w.ClickAction(idx))

	waitForText(t, w, "Opening Check Schedule...")
	fu := waitForText(t, w, "Did that solve your problem?")

	_, navigates := h.emitter.snapshot()
	require.Equal(t, []string{"appointments"}, navigates)
	require.Equal(t, "appointments", h.nav.Current())

	m, _ := w.Session().Message(fu)
	require.True(t, m.IsFollowUp)
	require.NotNil(t, m.Context)
	require.Equal(t, "pending_appointments", m.Context.NavigationReason)

	require.NoError(t, w.AnswerFollowUp(fu, false))
	clar := waitForText(t, w, "Are you trying to reschedule or contact your lawyer?")
	sup := waitForText(t, w, "If you still need help, our support team can assist you.")
	require.Greater(t, sup, clar)

	support, _ := w.Session().Message(sup)
	require.NotNil(t, support.Action)
	require.Equal(t, "Contact Support", support.Action.Label)
	require.Equal(t, "support", support.Action.Tab)

	require.Nil(t, h.contexts.GetContext(ctx))
	insights := h.contexts.Insights(ctx)
	require.Len(t, insights, 1)
	require.False(t, insights[0].Solved)
	require.Equal(t, "pending_appointments", insights[0].Reason)
}

func TestScenarioC_VerifiedNGOGetsNoGreeting(t *testing.T) {
	h := newHarness(t)
	g := greeting.NewProcedure(stubSummaries{profile: &domain.Profile{VerificationStatus: "VERIFIED"}})
	w := h.window(domain.RoleNGO, stubChat{}, g)
	require.NoError(t, w.Mount())

	require.Never(t, func() bool { return w.Session().Len() > 1 }, 100*time.Millisecond, tick)
}

func TestUIActionClick_AcksPersistsAndFollowsUp(t *testing.T) {
	h := newHarness(t)
	fired := make(chan any, 1)
	sub := h.bus.Listen(bus.Handlers{"OPEN_CASE_FORM": func(p any) { fired <- p }})
	defer sub.Close()

	w := h.window(domain.RoleCitizen, stubChat{}, nil)
	idx := inject(w, "Need legal help?", &domain.SuggestedAction{
		Label:    "Submit a Case",
		UIAction: "OPEN_CASE_FORM",
		Payload:  map[string]any{"prefill": true},
		Reason:   "new_case",
	})
	require.NoError(t, w.ClickAction(idx))

	select {
	case p := <-fired:
		require.Equal(t, map[string]any{"prefill": true}, p)
	case <-time.After(waitFor):
		t.Fatal("ui action never fired")
	}
	waitForText(t, w, "Done! I've opened that for you.")

	require.Eventually(t, func() bool {
		nc := h.contexts.GetContext(context.Background())
		return nc.IsPending() && nc.LastNavigationTab == "OPEN_CASE_FORM" && nc.NavigationReason == "new_case"
	}, waitFor, tick)
	waitForText(t, w, "Did that solve your problem?")
}

func TestUIActionWithTab_NavigatesImmediately(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleLawyer, stubChat{}, nil)
	idx := inject(w, "You have new cases waiting for review.", &domain.SuggestedAction{
		Label:    "Review Cases",
		Tab:      "cases",
		UIAction: "OPEN_ASSIGNED_CASE",
		Reason:   "case_review",
	})
	require.NoError(t, w.ClickAction(idx))

	waitForText(t, w, "Done! I've opened that for you.")
	require.Eventually(t, func() bool { return h.nav.Current() == "cases" }, waitFor, tick)
	nc := h.contexts.GetContext(context.Background())
	require.NotNil(t, nc)
	require.Equal(t, "cases", nc.LastNavigationTab)
}

func TestAnswerYes_ClearsContextAndRecordsInsight(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{}, nil)
	ctx := context.Background()

	idx := inject(w, "Track it", &domain.SuggestedAction{Label: "Track Case", Tab: "cases", Reason: "case_tracking"})
	require.NoError(t, w.ClickAction(idx))
	fu := waitForText(t, w, "Did that solve your problem?")

	require.NoError(t, w.AnswerFollowUp(fu, true))
	require.NoError(t, w.AnswerFollowUp(fu, true))
	waitForText(t, w, "Great! Glad I could help.")

	require.Eventually(t, func() bool { return len(h.contexts.Insights(ctx)) == 1 }, waitFor, tick)
	require.Nil(t, h.contexts.GetContext(ctx))
	in := h.contexts.Insights(ctx)[0]
	require.True(t, in.Solved)
	require.Equal(t, "case_tracking", in.Reason)
	require.Equal(t, "cases", in.Tab)

	require.Never(t, func() bool { return len(h.contexts.Insights(ctx)) > 1 }, 50*time.Millisecond, tick)
}

func TestAnswerNo_UnknownReasonUsesGenericClarification(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{}, nil)

	idx := inject(w, "Go", &domain.SuggestedAction{Label: "Billing", Tab: "billing", Reason: "billing_question"})
	require.NoError(t, w.ClickAction(idx))
	fu := waitForText(t, w, "Did that solve your problem?")
	require.NoError(t, w.AnswerFollowUp(fu, false))

	waitForText(t, w, DefaultCopy().GenericClarification)
}

func TestAnswerOnNonFollowUpIsIgnored(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{}, nil)
	require.NoError(t, w.AnswerFollowUp(0, true))
	require.Never(t, func() bool { return w.Session().Len() > 1 }, 50*time.Millisecond, tick)
	require.Empty(t, h.contexts.Insights(context.Background()))
}

func TestAutoTriggerFromChatReply(t *testing.T) {
	h := newHarness(t)
	var (
		mu    sync.Mutex
		count int
	)
	sub := h.bus.Listen(bus.Handlers{"OPEN_VERIFICATION_FORM": func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	}})
	defer sub.Close()

	c := stubChat{reply: chat.TurnReply{
		Reply: "Let me open the verification form.",
		Action: &domain.SuggestedAction{
			Label:       "Complete Verification",
			UIAction:    "OPEN_VERIFICATION_FORM",
			Reason:      "verification_pending",
			AutoTrigger: true,
		},
	}}
	w := h.window(domain.RoleNGO, c, nil)
	require.NoError(t, w.Send(context.Background(), "verify me"))

	waitForText(t, w, "Let me open the verification form.")
	waitForText(t, w, "Did that solve your problem?")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
	_, navigates := h.emitter.snapshot()
	require.Empty(t, navigates)
}

func TestAutoTriggerInertActionCreatesNoContext(t *testing.T) {
	h := newHarness(t)
	c := stubChat{reply: chat.TurnReply{
		Reply:  "Nothing to open.",
		Action: &domain.SuggestedAction{Label: "Noop", AutoTrigger: true},
	}}
	w := h.window(domain.RoleCitizen, c, nil)
	require.NoError(t, w.Send(context.Background(), "hi"))

	waitForText(t, w, "Nothing to open.")
	require.Never(t, func() bool {
		return h.contexts.GetContext(context.Background()) != nil
	}, 80*time.Millisecond, tick)
}

type echoChat struct{}

func (echoChat) Turn(_ context.Context, req chat.TurnRequest) (chat.TurnReply, error) {
	time.Sleep(2 * time.Millisecond)
	return chat.TurnReply{Reply: "echo " + req.Message}, nil
}

func TestSendKeepsSendOrder(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, echoChat{}, nil)

	sent := []string{"m0", "m1", "m2", "m3", "m4"}
	for i, text := range sent {
		require.NoError(t, w.Send(context.Background(), text))
		users := userTexts(w)
		require.Len(t, users, i+1, "user message %q appended before Send returned", text)
		require.Equal(t, text, users[i])
	}
	waitForText(t, w, "echo m4")

	var replies []string
	for _, m := range w.Session().Messages()[1:] {
		if m.Sender == domain.SenderBot {
			replies = append(replies, m.Text)
		}
	}
	require.Equal(t, sent, userTexts(w))
	require.Equal(t, []string{"echo m0", "echo m1", "echo m2", "echo m3", "echo m4"}, replies)
}

func userTexts(w *Window) []string {
	var texts []string
	for _, m := range w.Session().Messages() {
		if m.Sender == domain.SenderUser {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func TestSendBlankIsIgnored(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, echoChat{}, nil)
	require.NoError(t, w.Send(context.Background(), "   "))
	require.Never(t, func() bool { return w.Session().Len() > 1 }, 40*time.Millisecond, tick)
}

func TestSendFailureAppendsApology(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{err: errors.New("boom")}, nil)
	require.NoError(t, w.Send(context.Background(), "hello"))

	waitForText(t, w, conversation.ApologyText)
	require.Eventually(t, func() bool {
		h.emitter.mu.Lock()
		defer h.emitter.mu.Unlock()
		return len(h.emitter.loading) == 2 && !h.emitter.loading[1]
	}, waitFor, tick)
}

func TestEmitterSeesAppendOrder(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{reply: chat.TurnReply{Reply: "pong"}}, nil)
	require.NoError(t, w.Send(context.Background(), "ping"))
	waitForText(t, w, "pong")
	w.Session().AddBotText("tail")

	require.Eventually(t, func() bool {
		indexes, _ := h.emitter.snapshot()
		return len(indexes) == 4
	}, waitFor, tick)
	indexes, _ := h.emitter.snapshot()
	require.Equal(t, []int{0, 1, 2, 3}, indexes)
}

func TestCancelFollowUpDropsArmedCheck(t *testing.T) {
	h := newHarness(t)
	w := h.window(domain.RoleCitizen, stubChat{}, nil)

	idx := inject(w, "Go", &domain.SuggestedAction{Label: "Cases", Tab: "cases", Reason: "case_tracking"})
	require.NoError(t, w.ClickAction(idx))
	require.Eventually(t, func() bool {
		return h.contexts.GetContext(context.Background()) != nil
	}, waitFor, tick)

	require.NoError(t, w.CancelFollowUp())
	require.Never(t, func() bool {
		for _, m := range w.Session().Messages() {
			if m.IsFollowUp {
				return true
			}
		}
		return false
	}, 4*fastTiming.FollowUpDelay, tick)
	require.NotNil(t, h.contexts.GetContext(context.Background()))

	w.Close()
	require.ErrorIs(t, w.CancelFollowUp(), ErrClosed)
}

func TestMount_RestoresPendingFollowUp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.contexts.SetNavigationContext(context.Background(), "cases", "case_tracking"))

	w := h.window(domain.RoleCitizen, stubChat{}, nil)
	require.NoError(t, w.Mount())
	require.NoError(t, w.Mount())

	fu := waitForText(t, w, "Did that solve your problem?")
	m, _ := w.Session().Message(fu)
	require.Equal(t, "cases", m.Context.LastNavigationTab)
	require.Never(t, func() bool {
		n := 0
		for _, m := range w.Session().Messages() {
			if m.IsFollowUp {
				n++
			}
		}
		return n > 1
	}, 50*time.Millisecond, tick)
}

func TestMount_IgnoresStaleContext(t *testing.T) {
	past := time.Now().Add(-25 * time.Hour)
	h := newHarness(t, contextstore.WithClock(func() time.Time { return past }))
	require.NoError(t, h.contexts.SetNavigationContext(context.Background(), "cases", "case_tracking"))

	w, err := NewWindow(WindowConfig{
		Contexts:  h.contexts,
		Bus:       h.bus,
		Navigator: h.nav,
		Timing:    Timing{MountFollowUpDelay: 5 * time.Millisecond, StaleWindow: 24 * time.Hour},
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Mount())

	require.Never(t, func() bool { return w.Session().Len() > 1 }, 80*time.Millisecond, tick)
	require.NotNil(t, h.contexts.GetContext(context.Background()), "stale contexts stay stored")
}

func TestClose_CancelsPendingWorkAndLeaksNothing(t *testing.T) {
	h := newHarness(t)
	ignore := goleak.IgnoreCurrent()

	w, err := NewWindow(WindowConfig{
		Contexts:  h.contexts,
		Bus:       h.bus,
		Navigator: h.nav,
		Emitter:   h.emitter,
		Timing:    Timing{NavigateDelay: 40 * time.Millisecond},
	})
	require.NoError(t, err)

	idx := inject(w, "Go", &domain.SuggestedAction{Label: "Cases", Tab: "cases", Reason: "case_tracking"})
	require.NoError(t, w.ClickAction(idx))
	waitForText(t, w, "Opening Cases...")

	w.Close()
	w.Close()
	before := w.Session().Len()

	time.Sleep(80 * time.Millisecond)
	_, navigates := h.emitter.snapshot()
	require.Empty(t, navigates)
	require.Equal(t, before, w.Session().Len())
	require.Nil(t, h.contexts.GetContext(context.Background()))

	require.ErrorIs(t, w.ClickAction(idx), ErrClosed)
	require.ErrorIs(t, w.AnswerFollowUp(idx, true), ErrClosed)
	require.ErrorIs(t, w.Send(context.Background(), "late"), ErrClosed)

	goleak.VerifyNone(t, ignore)
}

func TestCopy_ClarificationOverrides(t *testing.T) {
	c := DefaultCopy().WithClarifications(map[string]string{
		"case_tracking": "Do you want a status update?",
		"case_review":   "",
	})
	require.Equal(t, "Do you want a status update?", c.Clarification("case_tracking"))
	require.Equal(t, DefaultCopy().Clarification("case_review"), c.Clarification("case_review"))
	require.Equal(t, c.GenericClarification, c.Clarification("nope"))
	require.Equal(t, "Are you trying to reschedule or contact your lawyer?", DefaultCopy().Clarification("pending_appointments"))
}
