// Copyright 2024 Canonical Ltd.

// Package mount declares the Mountpoint Factory contract from
// spec.md §4.7/§6: the kernel filesystem host library is an external
// collaborator (spec.md §1), out of scope for this system. This
// package only specifies the boundary the Filesystem Adapter depends
// on — creating and tearing down a kernel-level mount for a named
// filesystem — so that package fsadapter can be built and tested
// without wiring a real FUSE-style host library.
package mount

import (
	"context"
	"syscall"
)

// A Handle identifies a kernel-level mount. Its concrete meaning
// (inode number, file descriptor, whatever the host library uses) is
// owned entirely by the Factory implementation; the core only ever
// compares handles for equality and routes raw-readable events by
// them (spec.md §4.4 "contains").
type Handle uint64

// A Mountpoint is the kernel-level presence of one registered remote
// filesystem. The core calls Close when the owning Filesystem is
// destroyed; it never inspects the Mountpoint's internals.
type Mountpoint interface {
	// Handle returns the kernel handle routed to this mountpoint by
	// FILESYSTEM_RAW_READABLE events.
	Handle() Handle

	// Close tears down the kernel-level mount. Called at most once,
	// when the owning Filesystem is destroyed.
	Close() error
}

// A Factory creates Mountpoints. An implementation backed by a real
// kernel filesystem host library lives outside this module; tests and
// the reference server wiring use a Factory that only tracks bookkeeping.
type Factory interface {
	// Mount creates a new kernel-level mount for the filesystem named
	// name, backed by ops for kernel callback dispatch. It returns an
	// error if the name is already mounted or mount creation fails at
	// the host-library level.
	Mount(ctx context.Context, name string, ops Callbacks) (Mountpoint, error)
}

// Attr is the translated stat information for lookup/getattr replies,
// matching the stat object fields in spec.md §6.
type Attr struct {
	Inode uint64
	Mode  uint32
	IsDir bool
	Size  int64
	Atime int64
	Mtime int64
	Ctime int64
}

// A DirEntry is one entry of a readdir reply.
type DirEntry struct {
	Name  string
	Inode uint64
}

// ErrENOENT is the generic not-available errno the adapter reports for
// any RPC failure, per spec.md §7 "the adapter never propagates raw
// RPC errors upward as different errno values in this baseline".
const ErrENOENT = syscall.ENOENT

// LookupReply is fulfilled exactly once by the Filesystem Adapter's
// lookup completion.
type LookupReply interface {
	Attr(attr Attr)
	Err(errno syscall.Errno)
}

// GetattrReply is fulfilled exactly once by the Filesystem Adapter's
// getattr completion.
type GetattrReply interface {
	Attr(attr Attr)
	Err(errno syscall.Errno)
}

// OpenReply is fulfilled exactly once by the Filesystem Adapter's open
// completion.
type OpenReply interface {
	Handle(handle uint64)
	Err(errno syscall.Errno)
}

// ReadReply is fulfilled exactly once by the Filesystem Adapter's read
// completion.
type ReadReply interface {
	Data(data []byte)
	Err(errno syscall.Errno)
}

// ReaddirReply is fulfilled exactly once by the Filesystem Adapter's
// readdir completion.
type ReaddirReply interface {
	Entries(entries []DirEntry)
	Err(errno syscall.Errno)
}

// ReleaseReply is fulfilled exactly once by the Filesystem Adapter's
// release completion.
type ReleaseReply interface {
	Done()
	Err(errno syscall.Errno)
}

// Callbacks is the set of kernel filesystem operations the Filesystem
// Adapter services, per spec.md §1/§4.6. A real host library would
// invoke these from its own request-dispatch machinery, pinning the
// kernel request handle inside the reply object; this package only
// names the contract.
type Callbacks interface {
	Lookup(ctx context.Context, parentInode uint64, name string, reply LookupReply)
	Getattr(ctx context.Context, inode uint64, reply GetattrReply)
	Open(ctx context.Context, inode uint64, flags int, reply OpenReply)
	Read(ctx context.Context, inode uint64, handle uint64, offset, length int64, reply ReadReply)
	Readdir(ctx context.Context, inode uint64, offset int64, reply ReaddirReply)
	Release(ctx context.Context, inode uint64, handle uint64, reply ReleaseReply)
}
