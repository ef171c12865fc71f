package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/assist-engine/internal/bus"
	"github.com/ashureev/assist-engine/internal/chat"
	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/greeting"
	"github.com/ashureev/assist-engine/internal/identity"
	"github.com/ashureev/assist-engine/internal/store"
	"github.com/ashureev/assist-engine/internal/transcript"
)

const writeTimeout = 5 * time.Second

// SummariesFactory builds the summary source for one mount from the
// credential the host page supplied.
type SummariesFactory func(bearer string) greeting.Summaries

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Repo          store.Repository
	Registry      *Registry
	Mounts        *MountManager
	Chat          chat.Client
	Summaries     SummariesFactory
	Timing        Timing
	Copy          Copy
	Log           transcript.ConversationLogger
	AllowedOrigin string
	IsDev         bool
	Logger        *slog.Logger
}

// Handler serves widget mounts over WebSocket.
type Handler struct {
	cfg    HandlerConfig
	logger *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Mounts == nil {
		cfg.Mounts = NewMountManager()
	}
	if cfg.Log == nil {
		cfg.Log = transcript.Noop()
	}
	if cfg.Copy.FollowUpQuestion == "" {
		cfg.Copy = DefaultCopy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger}
}

// inbound is a client frame.
type inbound struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Index    int      `json:"index,omitempty"`
	Solved   bool     `json:"solved,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Location string   `json:"location,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type    string          `json:"type"`
	Index   *int            `json:"index,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Loading *bool           `json:"loading,omitempty"`
	Tab     string          `json:"tab,omitempty"`
	Query   string          `json:"query,omitempty"`
	Action  string          `json:"action,omitempty"`
	Payload any             `json:"payload,omitempty"`
	MountID string          `json:"mount_id,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsEmitter writes window events to the connection. Writes are
// serialized so frames leave in the order they were produced.
type wsEmitter struct {
	conn   *websocket.Conn
	ctx    context.Context
	mu     sync.Mutex
	logger *slog.Logger
}

func (e *wsEmitter) write(frame outbound) {
	if e.ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		e.logger.Warn("failed to encode frame", "type", frame.Type, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := context.WithTimeout(e.ctx, writeTimeout)
	defer cancel()
	if err := e.conn.Write(ctx, websocket.MessageText, data); err != nil && e.ctx.Err() == nil {
		e.logger.Debug("WebSocket write error", "type", frame.Type, "error", err)
	}
}

func (e *wsEmitter) EmitMessage(index int, m domain.Message) {
	e.write(outbound{Type: "message", Index: &index, Message: &m})
}

func (e *wsEmitter) EmitLoading(loading bool) {
	e.write(outbound{Type: "loading", Loading: &loading})
}

func (e *wsEmitter) EmitNavigate(tab string, query url.Values) {
	e.write(outbound{Type: "navigate", Tab: tab, Query: query.Encode()})
}

func (e *wsEmitter) emitUIAction(action string, payload any) {
	e.write(outbound{Type: "ui_action", Action: action, Payload: payload})
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	role := identity.RoleFromContext(r.Context())
	bearer := identity.BearerFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "device_id", deviceID, "session_id", sessionID, "role", role, "ip", identity.IPFromRequest(r))

	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rt, release, err := h.cfg.Registry.Acquire(ctx, deviceID)
	if err != nil {
		h.logger.Error("Failed to load device runtime", "error", err, "device_id", deviceID)
		return
	}
	defer release()

	if raw := r.URL.Query().Get("location"); raw != "" {
		if q, err := url.ParseQuery(raw); err == nil {
			rt.Location.Merge(q)
		}
	}

	mountID := uuid.NewString()
	logger := h.logger.With("device_id", deviceID, "session_id", sessionID, "mount_id", mountID)
	emitter := &wsEmitter{conn: ws, ctx: ctx, logger: logger}
	emitter.write(outbound{Type: "ready", MountID: mountID})

	var greeter Greeter
	if h.cfg.Summaries != nil {
		if s := h.cfg.Summaries(bearer); s != nil {
			greeter = greeting.NewProcedure(s, greeting.WithLogger(logger))
		}
	}

	cp := h.cfg.Copy
	window, err := NewWindow(WindowConfig{
		DeviceID:  deviceID,
		SessionID: sessionID,
		MountID:   mountID,
		Role:      role,
		Chat:      h.cfg.Chat,
		Greeter:   greeter,
		Contexts:  rt.Contexts,
		Bus:       rt.Bus,
		Navigator: rt.Navigator,
		Location:  rt.Location,
		Emitter:   emitter,
		Timing:    h.cfg.Timing,
		Copy:      &cp,
		Log:       h.cfg.Log,
		Logger:    h.logger,
	})
	if err != nil {
		logger.Error("Failed to create window", "error", err)
		return
	}
	defer window.Close()

	sub := rt.Bus.Listen(nil)
	defer sub.Close()

	mount := &Mount{ID: mountID, DeviceID: deviceID, SessionID: sessionID, Window: window, Conn: ws}
	h.cfg.Mounts.Register(mount)
	defer h.cfg.Mounts.Unregister(mount)

	if err := window.Mount(); err != nil {
		logger.Warn("Failed to mount window", "error", err)
		return
	}

	h.readLoop(ctx, ws, window, sub, emitter, logger, deviceID)
	logger.Info("Widget session ended")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, window *Window, sub *bus.Subscription, emitter *wsEmitter, logger *slog.Logger, deviceID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			emitter.write(outbound{Type: "error", Error: "invalid_frame"})
			continue
		}

		switch msg.Type {
		case "send":
			err = window.Send(ctx, msg.Text)
		case "click":
			err = window.ClickAction(msg.Index)
		case "answer":
			err = window.AnswerFollowUp(msg.Index, msg.Solved)
		case "listen":
			sub.Update(listenHandlers(msg.Actions, emitter))
		case "ping":
			emitter.write(outbound{Type: "pong"})
		default:
			emitter.write(outbound{Type: "error", Error: "unknown_type"})
		}
		if err != nil {
			logger.Debug("Window rejected frame", "type", msg.Type, "error", err)
			return
		}

		h.touch(deviceID)
	}
}

// listenHandlers forwards every named action to the page.
func listenHandlers(actions []string, emitter *wsEmitter) bus.Handlers {
	handlers := make(bus.Handlers, len(actions))
	for _, name := range actions {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		handlers[name] = func(payload any) {
			emitter.emitUIAction(name, payload)
		}
	}
	return handlers
}

// touch updates last seen asynchronously with timeout.
func (h *Handler) touch(deviceID string) {
	if h.cfg.Repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.cfg.Repo.TouchDevice(ctx, deviceID, time.Now()); err != nil {
			h.logger.Warn("Failed to update last seen", "error", err)
		}
	}()
}
