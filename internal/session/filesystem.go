// Copyright 2024 Canonical Ltd.

package session

import (
	"github.com/canonical/wsfs/internal/fsadapter"
	"github.com/canonical/wsfs/internal/mount"
)

// A Filesystem is one remote filesystem registered on a Session via
// add_filesystem, per spec.md §3: it owns a kernel mount and a
// non-owning pointer to the Session's Proxy, and is destroyed with the
// Session.
type Filesystem struct {
	name string
	mp   mount.Mountpoint
	adapter *fsadapter.Adapter
}

func newFilesystem(name string, mp mount.Mountpoint, adapter *fsadapter.Adapter) *Filesystem {
	return &Filesystem{
		name:    name,
		mp:      mp,
		adapter: adapter,
	}
}

// Name returns the registered filesystem name.
func (f *Filesystem) Name() string { return f.name }

// Handle returns the kernel mount handle used to route
// FILESYSTEM_RAW_READABLE events to this Filesystem.
func (f *Filesystem) Handle() mount.Handle { return f.mp.Handle() }

// Adapter returns the mount.Callbacks implementation the kernel
// filesystem host library should invoke for this Filesystem's
// operations.
func (f *Filesystem) Adapter() *fsadapter.Adapter { return f.adapter }

// close tears down the kernel mount. Called once, when the owning
// Session is destroyed.
func (f *Filesystem) close() error {
	return f.mp.Close()
}
