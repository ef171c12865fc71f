// Package domain contains core domain types for the assistant engine.
package domain

import (
	"strings"
	"time"
)

// Device is one browser installation, identified by an anonymous cookie.
// Everything the engine persists is scoped to a device.
type Device struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Role is the role of the signed-in user of the host application.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleLawyer  Role = "lawyer"
	RoleNGO     Role = "ngo"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a role string. Unknown values are kept so callers
// fall through to the generic behaviour.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}
