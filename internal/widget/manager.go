package widget

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Mount is one live widget: a window bound to a WebSocket connection.
type Mount struct {
	ID        string
	DeviceID  string
	SessionID string
	Window    *Window
	Conn      *websocket.Conn
}

// MountManager tracks the active mounts per device and tab session.
type MountManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Mount
}

// NewMountManager creates a new mount manager.
func NewMountManager() *MountManager {
	return &MountManager{
		active: make(map[string]map[string]*Mount),
	}
}

// Get returns the active mount for a device and session.
func (m *MountManager) Get(deviceID, sessionID string) *Mount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[deviceID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a mount. A previous mount of the same tab session is
// disconnected; its handler tears down its own window.
func (m *MountManager) Register(mount *Mount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[mount.DeviceID]; !exists {
		m.active[mount.DeviceID] = make(map[string]*Mount)
	}

	if existing, exists := m.active[mount.DeviceID][mount.SessionID]; exists && existing != mount && existing.Conn != nil {
		_ = existing.Conn.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[mount.DeviceID][mount.SessionID] = mount
	slog.Info("Widget mount registered", "device_id", mount.DeviceID, "session_id", mount.SessionID, "mount_id", mount.ID)
}

// Unregister removes a mount if it is still the current one for its session.
func (m *MountManager) Unregister(mount *Mount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[mount.DeviceID]; ok {
		if current, exists := sessions[mount.SessionID]; exists && current == mount {
			delete(sessions, mount.SessionID)
			if len(sessions) == 0 {
				delete(m.active, mount.DeviceID)
			}
			slog.Info("Widget mount unregistered", "device_id", mount.DeviceID, "session_id", mount.SessionID, "mount_id", mount.ID)
		}
	}
}

// Device returns the live mounts of a device.
func (m *MountManager) Device(deviceID string) []*Mount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := m.active[deviceID]
	mounts := make([]*Mount, 0, len(sessions))
	for _, mount := range sessions {
		mounts = append(mounts, mount)
	}
	return mounts
}

// Count returns the number of active mounts.
func (m *MountManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
