// Package identity provides anonymous per-device identity primitives and the
// host page context (role, credential) a widget mount carries.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/store"
)

const (
	DeviceCookieName      = "assist_device_id"
	SessionHeaderName     = "X-Assist-Session-ID"
	RoleHeaderName        = "X-Assist-Role"
	DefaultSessionIDValue = "default"
	deviceCookieMaxAge    = 180 * 24 * time.Hour
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	sessionIDKey
	roleKey
	bearerKey
)

var (
	deviceIDPattern  = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// RoleFromContext extracts the host page role.
func RoleFromContext(ctx context.Context) domain.Role {
	if v, ok := ctx.Value(roleKey).(domain.Role); ok {
		return v
	}
	return ""
}

// BearerFromContext returns the Authorization value forwarded to the
// summary backend.
func BearerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(bearerKey).(string); ok {
		return v
	}
	return ""
}

// WithDevice returns ctx carrying the given identity. Used by tests and by
// callers that resolve identity themselves.
func WithDevice(ctx context.Context, deviceID, sessionID string, role domain.Role) context.Context {
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	ctx = context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
	return context.WithValue(ctx, roleKey, role)
}

func generateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

// IsValidDeviceID reports whether id has the shape of an issued device ID.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func ensureDevice(ctx context.Context, repo store.Repository, deviceID string) error {
	device, err := repo.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	now := time.Now()
	if device != nil {
		return repo.TouchDevice(ctx, deviceID, now)
	}
	return repo.UpsertDevice(ctx, &domain.Device{
		DeviceID:   deviceID,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
		id = c.Value
	} else {
		generated, err := generateDeviceID()
		if err != nil {
			return "", err
		}
		id = generated
	}

	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

func roleFromRequest(r *http.Request) domain.Role {
	role := r.URL.Query().Get("role")
	if role == "" {
		role = r.Header.Get(RoleHeaderName)
	}
	return domain.ParseRole(role)
}

// Middleware injects the device identity, tab session ID, role and
// credential into the request context.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureDevice(r.Context(), repo, deviceID); err != nil {
				http.Error(w, `{"error":"failed to initialize device"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithDevice(r.Context(), deviceID, sessionIDFromRequest(r), roleFromRequest(r))
			if bearer := r.Header.Get("Authorization"); bearer != "" {
				ctx = context.WithValue(ctx, bearerKey, bearer)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
