// Copyright 2024 Canonical Ltd.

// Package fsadapter implements the Filesystem Adapter component of
// spec.md §4.6: one Adapter per registered remote filesystem,
// translating kernel callbacks (lookup, getattr, open, read, readdir,
// release) into RPC invocations on a session's rpcproxy.Proxy, and
// translating RPC results back into kernel replies.
//
// Result validation is strict, per spec.md §4.6: a missing required
// field, a wrong JSON type, or an unrecognised enum value is treated
// identically to an RPC failure and reported to the kernel as ENOENT.
package fsadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/canonical/wsfs/internal/mount"
	"github.com/canonical/wsfs/internal/rpcproxy"
)

// An Adapter services kernel callbacks for one named remote
// filesystem, issuing RPCs through proxy. It implements
// mount.Callbacks.
type Adapter struct {
	name  string
	proxy *rpcproxy.Proxy
}

// New returns an Adapter for the filesystem named name, issuing RPCs
// through proxy. name is included verbatim as the first positional
// argument of every RPC, per the wire table in spec.md §6.
func New(name string, proxy *rpcproxy.Proxy) *Adapter {
	return &Adapter{name: name, proxy: proxy}
}

// Name returns the registered filesystem name this Adapter services.
func (a *Adapter) Name() string { return a.name }

// Lookup implements mount.Callbacks.
func (a *Adapter) Lookup(_ context.Context, parentInode uint64, name string, reply mount.LookupReply) {
	a.proxy.InvokeSpec("lookup", "sis", []interface{}{a.name, parentInode, name},
		func(result json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			attr, ok := parseAttr(result)
			if !ok {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Attr(attr)
		}, nil)
}

// Getattr implements mount.Callbacks.
func (a *Adapter) Getattr(_ context.Context, inode uint64, reply mount.GetattrReply) {
	a.proxy.InvokeSpec("getattr", "si", []interface{}{a.name, inode},
		func(result json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			attr, ok := parseAttr(result)
			if !ok {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Attr(attr)
		}, nil)
}

// Open implements mount.Callbacks.
func (a *Adapter) Open(_ context.Context, inode uint64, flags int, reply mount.OpenReply) {
	a.proxy.InvokeSpec("open", "sii", []interface{}{a.name, inode, flags},
		func(result json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			handle, ok := parseHandle(result)
			if !ok {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Handle(handle)
		}, nil)
}

// Read implements mount.Callbacks.
func (a *Adapter) Read(_ context.Context, inode, handle uint64, offset, length int64, reply mount.ReadReply) {
	a.proxy.InvokeSpec("read", "siiii", []interface{}{a.name, inode, handle, offset, length},
		func(result json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			data, ok := parseReadResult(result)
			if !ok {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Data(data)
		}, nil)
}

// Readdir implements mount.Callbacks.
func (a *Adapter) Readdir(_ context.Context, inode uint64, offset int64, reply mount.ReaddirReply) {
	a.proxy.InvokeSpec("readdir", "sii", []interface{}{a.name, inode, offset},
		func(result json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			entries, ok := parseDirEntries(result)
			if !ok {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Entries(entries)
		}, nil)
}

// Release implements mount.Callbacks.
func (a *Adapter) Release(_ context.Context, inode, handle uint64, reply mount.ReleaseReply) {
	a.proxy.InvokeSpec("release", "sii", []interface{}{a.name, inode, handle},
		func(_ json.RawMessage, err error, _ interface{}) {
			if err != nil {
				reply.Err(mount.ErrENOENT)
				return
			}
			reply.Done()
		}, nil)
}

type rawStat struct {
	Inode *float64 `json:"inode"`
	Mode  *float64 `json:"mode"`
	Type  *string  `json:"type"`
	Size  *float64 `json:"size"`
	Atime *float64 `json:"atime"`
	Mtime *float64 `json:"mtime"`
	Ctime *float64 `json:"ctime"`
}

func parseAttr(result json.RawMessage) (mount.Attr, bool) {
	var raw rawStat
	if err := json.Unmarshal(result, &raw); err != nil {
		return mount.Attr{}, false
	}
	if raw.Inode == nil || raw.Mode == nil || raw.Type == nil || raw.Size == nil ||
		raw.Atime == nil || raw.Mtime == nil || raw.Ctime == nil {
		return mount.Attr{}, false
	}
	var isDir bool
	switch *raw.Type {
	case "file":
		isDir = false
	case "dir":
		isDir = true
	default:
		return mount.Attr{}, false
	}
	return mount.Attr{
		Inode: uint64(*raw.Inode),
		Mode:  uint32(*raw.Mode),
		IsDir: isDir,
		Size:  int64(*raw.Size),
		Atime: int64(*raw.Atime),
		Mtime: int64(*raw.Mtime),
		Ctime: int64(*raw.Ctime),
	}, true
}

func parseHandle(result json.RawMessage) (uint64, bool) {
	var raw struct {
		Handle *float64 `json:"handle"`
	}
	if err := json.Unmarshal(result, &raw); err != nil || raw.Handle == nil {
		return 0, false
	}
	return uint64(*raw.Handle), true
}

func parseReadResult(result json.RawMessage) ([]byte, bool) {
	var raw struct {
		Data   *string `json:"data"`
		Format *string `json:"format"`
		Count  *int    `json:"count"`
	}
	if err := json.Unmarshal(result, &raw); err != nil || raw.Data == nil || raw.Format == nil || raw.Count == nil {
		return nil, false
	}
	switch *raw.Format {
	case "identity":
		return []byte(*raw.Data), true
	case "base64":
		data, err := base64.StdEncoding.DecodeString(*raw.Data)
		if err != nil {
			return nil, false
		}
		return data, true
	default:
		return nil, false
	}
}

func parseDirEntries(result json.RawMessage) ([]mount.DirEntry, bool) {
	var raw []struct {
		Name  *string  `json:"name"`
		Inode *float64 `json:"inode"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, false
	}
	entries := make([]mount.DirEntry, 0, len(raw))
	for _, e := range raw {
		if e.Name == nil || e.Inode == nil {
			return nil, false
		}
		entries = append(entries, mount.DirEntry{Name: *e.Name, Inode: uint64(*e.Inode)})
	}
	return entries, true
}
