// Package widget hosts conversation windows: the per-mount orchestrator that
// drives greetings, suggested actions and follow-ups, and the WebSocket
// transport that connects it to the browser.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/assist-engine/internal/chat"
	"github.com/ashureev/assist-engine/internal/conversation"
	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/greeting"
	"github.com/ashureev/assist-engine/internal/schedule"
	"github.com/ashureev/assist-engine/internal/transcript"
)

// ErrClosed is returned by operations on a closed window.
var ErrClosed = errors.New("widget: window closed")

// Emitter receives the outbound events of one mount. Calls arrive from the
// window loop, one at a time, in transcript order.
type Emitter interface {
	EmitMessage(index int, m domain.Message)
	EmitLoading(loading bool)
	EmitNavigate(tab string, query url.Values)
}

// Greeter decides the mount-time greeting.
type Greeter interface {
	SmartGreeting(ctx context.Context, role domain.Role) *greeting.Greeting
}

// ContextStore is the durable suggestion state of the device.
type ContextStore interface {
	SetNavigationContext(ctx context.Context, tab, reason string) error
	GetContext(ctx context.Context) *domain.NavigationContext
	ClearContext(ctx context.Context)
	SaveInsight(ctx context.Context, insight domain.Insight)
}

// ActionBus delivers UI actions to the page.
type ActionBus interface {
	Trigger(action string, payload any) int
}

// Navigator moves the location indicator and records the context.
type Navigator interface {
	NavigateTo(ctx context.Context, tab, reason string) error
}

// QueryReader exposes the current location parameters.
type QueryReader interface {
	Query() url.Values
}

// WindowConfig wires a Window. Chat, Contexts, Bus and Navigator are
// required; everything else has a usable default.
type WindowConfig struct {
	DeviceID  string
	SessionID string
	MountID   string
	Role      domain.Role

	Chat      chat.Client
	Greeter   Greeter
	Contexts  ContextStore
	Bus       ActionBus
	Navigator Navigator
	Location  QueryReader
	Emitter   Emitter

	Timing Timing
	Copy   *Copy
	Log    transcript.ConversationLogger
	Logger *slog.Logger
	Now    func() time.Time
}

// Window is the orchestrator of one widget mount. All state transitions run
// on a single loop goroutine; public methods only post work to it.
type Window struct {
	cfg     WindowConfig
	timing  Timing
	copy    Copy
	logger  *slog.Logger
	session *conversation.Session

	queue *jobQueue
	turns *jobQueue
	group *schedule.Group

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	bgMu    sync.Mutex
	closing bool
	wg      sync.WaitGroup

	mountOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop goroutine.
	processed      int
	answered       map[int]bool
	cancelFollowUp func()
}

// NewWindow creates a window and starts its loop. The transcript starts
// with the welcome message; call Mount to run the greeting.
func NewWindow(cfg WindowConfig) (*Window, error) {
	if cfg.Contexts == nil {
		return nil, errors.New("widget: context store must not be nil")
	}
	if cfg.Bus == nil {
		return nil, errors.New("widget: action bus must not be nil")
	}
	if cfg.Navigator == nil {
		return nil, errors.New("widget: navigator must not be nil")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = noopEmitter{}
	}
	if cfg.Log == nil {
		cfg.Log = transcript.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device_id", cfg.DeviceID, "session_id", cfg.SessionID, "mount_id", cfg.MountID)

	cp := DefaultCopy()
	if cfg.Copy != nil {
		cp = *cfg.Copy
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		cfg:       cfg,
		timing:    cfg.Timing.withDefaults(),
		copy:      cp,
		logger:    logger,
		queue:     newJobQueue(),
		turns:     newJobQueue(),
		group:     schedule.NewGroup(),
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		processed: -1,
		answered:  make(map[int]bool),
	}
	w.session = conversation.NewSession(cfg.Chat,
		conversation.WithLogger(logger),
		conversation.OnAppend(func(index int, m domain.Message) {
			w.queue.post(func() { w.handleAppended(index, m) })
		}),
		conversation.OnLoading(func(loading bool) {
			w.queue.post(func() { w.cfg.Emitter.EmitLoading(loading) })
		}),
	)

	go w.run()
	w.wg.Add(1)
	go w.runTurns()
	return w, nil
}

// Session exposes the transcript.
func (w *Window) Session() *conversation.Session {
	return w.session
}

// Mount runs the greeting and re-arms a follow-up for a pending context
// left by an earlier mount. Only the first call has an effect.
func (w *Window) Mount() error {
	posted := true
	w.mountOnce.Do(func() {
		posted = w.queue.post(w.mount)
	})
	if !posted {
		return ErrClosed
	}
	return nil
}

// Send appends the user's text before returning and queues its chat turn.
// Turns of one window run one at a time in the order they were sent.
func (w *Window) Send(ctx context.Context, text string) error {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if w.closing {
		return ErrClosed
	}
	if !w.session.AppendUser(text) {
		return nil
	}
	w.turns.post(func() {
		turnCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(w.ctx, cancel)
		defer stop()
		if turnCtx.Err() != nil {
			return
		}
		w.session.Reply(turnCtx, text, w.cfg.Role)
	})
	return nil
}

// ClickAction executes the suggested action on the message at index.
func (w *Window) ClickAction(index int) error {
	if !w.queue.post(func() { w.click(index) }) {
		return ErrClosed
	}
	return nil
}

// AnswerFollowUp resolves the follow-up question at index.
func (w *Window) AnswerFollowUp(index int, solved bool) error {
	if !w.queue.post(func() { w.answer(index, solved) }) {
		return ErrClosed
	}
	return nil
}

// CancelFollowUp drops the follow-up check armed on this window, if any.
func (w *Window) CancelFollowUp() error {
	if !w.queue.post(func() { w.replaceFollowUp(nil) }) {
		return ErrClosed
	}
	return nil
}

// Close cancels every pending timer and in-flight request and stops the
// loop. No message is appended or emitted after Close returns. It must not
// be called from an Emitter callback.
func (w *Window) Close() {
	w.closeOnce.Do(func() {
		w.bgMu.Lock()
		w.closing = true
		w.bgMu.Unlock()

		w.cancel()
		w.group.Close()
		w.queue.close()
		w.turns.close()
		close(w.stop)
		<-w.done
		w.wg.Wait()
	})
}

func (w *Window) goBackground(fn func()) bool {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if w.closing {
		return false
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
	return true
}

// after schedules job on the loop once d has elapsed.
func (w *Window) after(d time.Duration, job func()) func() {
	return w.group.After(d, func() { w.queue.post(job) })
}

func (w *Window) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-w.queue.signal:
			for _, job := range w.queue.drain() {
				select {
				case <-w.stop:
					return
				default:
				}
				w.runJob(job)
			}
		}
	}
}

// runTurns executes queued chat turns in FIFO order.
func (w *Window) runTurns() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-w.turns.signal:
			for _, turn := range w.turns.drain() {
				select {
				case <-w.stop:
					return
				default:
				}
				w.runJob(turn)
			}
		}
	}
}

func (w *Window) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("window job panicked", "panic", r)
		}
	}()
	job()
}

func (w *Window) mount() {
	if w.cfg.Greeter != nil {
		w.goBackground(func() {
			g := w.cfg.Greeter.SmartGreeting(w.ctx, w.cfg.Role)
			if g == nil {
				return
			}
			w.queue.post(func() {
				w.session.AddBotMessage(conversation.BotMessage{Text: g.Text, Action: g.Action})
			})
		})
	}

	nc := w.cfg.Contexts.GetContext(w.ctx)
	if w.followUpDue(nc) {
		w.logger.Info("restoring pending follow-up", "tab", nc.LastNavigationTab, "reason", nc.NavigationReason)
		w.replaceFollowUp(w.after(w.timing.MountFollowUpDelay, w.checkFollowUp))
	}
}

func (w *Window) handleAppended(index int, m domain.Message) {
	w.cfg.Emitter.EmitMessage(index, m)
	w.logMessage(index, m)

	if index <= w.processed {
		return
	}
	w.processed = index

	if m.Sender != domain.SenderBot || m.Action == nil || !m.Action.AutoTrigger {
		return
	}
	a := m.Action
	if a.IsInert() {
		return
	}
	w.logger.Info("auto-triggering suggested action", "index", index, "ui_action", a.UIAction, "tab", a.Tab)
	if a.UIAction != "" {
		w.fireUIAction(a)
	}
	if a.Tab != "" {
		w.navigate(a)
	} else {
		w.persist(a)
	}
	w.armFollowUp()
}

func (w *Window) click(index int) {
	m, ok := w.session.Message(index)
	if !ok || m.Sender != domain.SenderBot || m.Action.IsInert() {
		w.logger.Debug("ignoring click on message without action", "index", index)
		return
	}
	a := m.Action

	if a.UIAction != "" {
		w.fireUIAction(a)
		if a.Tab != "" {
			w.navigate(a)
		}
		w.session.AddBotText(w.copy.ActionDone)
		w.after(w.timing.AckDelay, func() {
			w.persist(a)
			w.armFollowUp()
		})
		return
	}

	w.session.AddBotText(w.copy.Opening(a.Label))
	w.after(w.timing.NavigateDelay, func() {
		w.navigate(a)
		w.armFollowUp()
	})
}

func (w *Window) answer(index int, solved bool) {
	m, ok := w.session.Message(index)
	if !ok || !m.IsFollowUp {
		w.logger.Debug("ignoring answer to non follow-up message", "index", index)
		return
	}
	if w.answered[index] {
		return
	}
	w.answered[index] = true

	nc := m.Context
	if nc == nil {
		nc = w.cfg.Contexts.GetContext(w.ctx)
	}
	var reason, tab string
	if nc != nil {
		reason, tab = nc.NavigationReason, nc.LastNavigationTab
	}

	if solved {
		w.session.AddBotText(w.copy.SolvedAck)
		w.cfg.Contexts.ClearContext(w.ctx)
		w.cfg.Contexts.SaveInsight(w.ctx, domain.Insight{Solved: true, Reason: reason, Tab: tab})
		return
	}

	w.cfg.Contexts.SaveInsight(w.ctx, domain.Insight{Solved: false, Reason: reason})
	w.session.AddBotText(w.copy.Clarification(reason))
	w.cfg.Contexts.ClearContext(w.ctx)
	support := w.copy.SupportAction
	w.after(w.timing.SupportDelay, func() {
		w.session.AddBotMessage(conversation.BotMessage{Text: w.copy.SupportNudge, Action: &support})
	})
}

func (w *Window) fireUIAction(a *domain.SuggestedAction) {
	if n := w.cfg.Bus.Trigger(a.UIAction, a.Payload); n == 0 {
		w.logger.Debug("ui action had no listener", "ui_action", a.UIAction)
	}
}

func (w *Window) navigate(a *domain.SuggestedAction) {
	if err := w.cfg.Navigator.NavigateTo(w.ctx, a.Tab, a.Reason); err != nil {
		w.logger.Warn("navigation failed", "tab", a.Tab, "error", err)
	}
	var query url.Values
	if w.cfg.Location != nil {
		query = w.cfg.Location.Query()
	}
	w.cfg.Emitter.EmitNavigate(a.Tab, query)
}

func (w *Window) persist(a *domain.SuggestedAction) {
	if err := w.cfg.Contexts.SetNavigationContext(w.ctx, a.Destination(), a.Reason); err != nil {
		w.logger.Error("failed to persist navigation context", "tab", a.Destination(), "error", err)
	}
}

// armFollowUp replaces any follow-up check still waiting on this mount.
func (w *Window) armFollowUp() {
	w.replaceFollowUp(w.after(w.timing.FollowUpDelay, w.checkFollowUp))
}

func (w *Window) replaceFollowUp(cancel func()) {
	if w.cancelFollowUp != nil {
		w.cancelFollowUp()
	}
	w.cancelFollowUp = cancel
}

func (w *Window) checkFollowUp() {
	nc := w.cfg.Contexts.GetContext(w.ctx)
	if !w.followUpDue(nc) {
		return
	}
	w.session.AddBotMessage(conversation.BotMessage{
		Text:       w.copy.FollowUpQuestion,
		IsFollowUp: true,
		Context:    nc.Snapshot(),
	})
}

func (w *Window) followUpDue(nc *domain.NavigationContext) bool {
	return nc.IsPending() && !nc.IsStale(w.cfg.Now(), w.timing.StaleWindow)
}

func (w *Window) logMessage(index int, m domain.Message) {
	event := transcript.ConversationLogEvent{
		DeviceID:   w.cfg.DeviceID,
		SessionID:  w.cfg.SessionID,
		MountID:    w.cfg.MountID,
		Role:       string(w.cfg.Role),
		Direction:  "outbound",
		EventType:  "bot_message",
		Index:      index,
		ContentRaw: m.Text,
	}
	switch {
	case m.Sender == domain.SenderUser:
		event.Direction = "inbound"
		event.EventType = "user_message"
	case m.IsFollowUp:
		event.EventType = "follow_up"
	}
	if m.Action != nil {
		event.Meta = map[string]any{
			"label":     m.Action.Label,
			"ui_action": m.Action.UIAction,
			"tab":       m.Action.Tab,
			"reason":    m.Action.Reason,
		}
	}
	w.cfg.Log.Log(event)
}

type noopEmitter struct{}

func (noopEmitter) EmitMessage(int, domain.Message) {}
func (noopEmitter) EmitLoading(bool) {}
func (noopEmitter) EmitNavigate(string, url.Values) {}
