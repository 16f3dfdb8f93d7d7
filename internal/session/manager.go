// Copyright 2024 Canonical Ltd.

package session

import "github.com/canonical/wsfs/internal/mount"

// A Manager maps connection handles to Sessions, per spec.md §4.5. A
// Session exists iff its handle is present in the Manager; creation
// and removal are tied directly to connection lifecycle events.
//
// Linear scans for filesystem-handle lookups are acceptable: sessions
// per process are expected to number in the tens, not thousands
// (spec.md §4.5).
type Manager struct {
	sessions map[Handle]*Session
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[Handle]*Session)}
}

// Add registers s under its own handle. It replaces any previous
// Session registered under the same handle without disposing it —
// callers must not Add a handle that is still live.
func (m *Manager) Add(s *Session) {
	m.sessions[s.Handle()] = s
}

// Get returns the Session registered under the connection handle
// handle. Kernel mount handles are resolved by GetByFilesystemHandle.
func (m *Manager) Get(handle Handle) (*Session, bool) {
	s, ok := m.sessions[handle]
	return s, ok
}

// GetByFilesystemHandle returns the Session that owns the filesystem
// registered under handle, used to route FILESYSTEM_RAW_READABLE
// events.
func (m *Manager) GetByFilesystemHandle(handle mount.Handle) (*Session, bool) {
	for _, s := range m.sessions {
		if s.ContainsFilesystem(handle) {
			return s, true
		}
	}
	return nil, false
}

// Remove disposes of and forgets the Session registered under handle,
// if any.
func (m *Manager) Remove(handle Handle) {
	s, ok := m.sessions[handle]
	if !ok {
		return
	}
	s.Dispose()
	delete(m.sessions, handle)
}

// Len reports the number of live sessions. Used by tests.
func (m *Manager) Len() int {
	return len(m.sessions)
}

// DisposeAll disposes every live session and forgets it, used on
// process shutdown to apply spec.md §4.4's "Session closure (dispose)"
// to every open connection at once instead of one at a time via
// Remove.
func (m *Manager) DisposeAll() {
	for handle, s := range m.sessions {
		s.Dispose()
		delete(m.sessions, handle)
	}
}
