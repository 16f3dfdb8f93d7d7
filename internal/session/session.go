// Copyright 2024 Canonical Ltd.

// Package session implements the per-connection Session and the
// FIFO Message send queue described in spec.md §3/§4.4. A Session owns
// its Proxy, its filesystems, its send queue, and its receive
// reassembly buffer; it holds only non-owning references to the
// shared Authenticators registry, Mountpoint Factory, Timer Manager,
// and JSON-RPC server Dispatcher.
//
// Like every other piece of core state in this system, a Session is
// touched only from its server protocol's single event-loop goroutine
// (SPEC_FULL.md §5); it holds no locks.
package session

import (
	"context"
	"regexp"
	"time"

	"github.com/canonical/wsfs/internal/auth"
	"github.com/canonical/wsfs/internal/errors"
	"github.com/canonical/wsfs/internal/fsadapter"
	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/mount"
	"github.com/canonical/wsfs/internal/rpcproxy"
	"github.com/canonical/wsfs/internal/rpcserver"
	"github.com/canonical/wsfs/internal/servermon"
	"github.com/canonical/wsfs/internal/timer"
)

// Handle identifies a Session's underlying WebSocket connection. It is
// opaque to the core; the server protocol layer assigns one per
// ESTABLISHED event.
type Handle string

// nameRE is the filesystem name grammar from spec.md §6.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// A Message is one outbound frame waiting to be written to the wire.
// It is consumed exactly once, by OnWritable.
type Message struct {
	Data []byte
}

// A Session is the per-connection object described in spec.md §4.4.
type Session struct {
	handle Handle

	authenticated bool
	recvBuf       []byte
	sendQueue     []Message
	filesystems   []*Filesystem

	proxy      *rpcproxy.Proxy
	dispatcher *rpcserver.Dispatcher
	auth       *auth.Registry
	mounts     mount.Factory

	write           func(frame []byte) error
	requestWritable func()

	closed bool
}

// New creates a Session for a freshly ESTABLISHED connection. write
// transmits one frame to the wire; requestWritable asks the transport
// to deliver another WRITEABLE event once the connection can accept
// more data. dispatcher and authReg are shared, read-only registries
// owned by the server protocol; timers is the shared Timer Manager
// used to arm the Session's Proxy timeouts.
func New(
	handle Handle,
	dispatcher *rpcserver.Dispatcher,
	authReg *auth.Registry,
	mounts mount.Factory,
	timers *timer.Manager,
	write func(frame []byte) error,
	requestWritable func(),
) *Session {
	s := &Session{
		handle:          handle,
		recvBuf:         make([]byte, 0, 8*1024),
		dispatcher:      dispatcher,
		auth:            authReg,
		mounts:          mounts,
		write:           write,
		requestWritable: requestWritable,
	}
	s.proxy = rpcproxy.New(s.enqueueSend, timers)
	return s
}

// Handle returns the Session's connection handle.
func (s *Session) Handle() Handle { return s.handle }

// Authenticated reports the current authentication state.
func (s *Session) Authenticated() bool { return s.authenticated }

// Proxy returns the Session's owned outbound RPC proxy, for use by
// handlers registered on the shared Dispatcher.
func (s *Session) Proxy() *rpcproxy.Proxy { return s.proxy }

// SetRPCTimeout overrides the per-request timeout new outbound RPCs
// on this Session's Proxy are armed with, per spec.md §6 "configurable
// per proxy".
func (s *Session) SetRPCTimeout(d time.Duration) {
	s.proxy.SetTimeout(d)
}

// Authenticate consults the Authenticators registry for credType and
// updates and returns the session's authenticated flag, per
// spec.md §4.4. Passing auth.AnonymousType with nil creds is the
// anonymous-authentication path invoked on ESTABLISHED.
func (s *Session) Authenticate(credType string, creds auth.Credentials) bool {
	s.authenticated = s.auth.Authenticate(credType, creds)
	return s.authenticated
}

// AddFilesystem validates name and, if the session is authenticated,
// creates a kernel mount for it via the Mountpoint Factory. On success
// it returns name (used verbatim as the wire "id"). Duplicate names
// are rejected by the underlying Factory failing the mount, per the
// open question noted in spec.md §9: this layer does not maintain its
// own separate name registry.
func (s *Session) AddFilesystem(ctx context.Context, name string) (string, error) {
	const op = errors.Op("session.AddFilesystem")
	if !s.authenticated {
		return "", errors.E(op, errors.CodeAccessDenied, "not authenticated")
	}
	if !nameRE.MatchString(name) {
		return "", errors.E(op, errors.CodeBadFormat, "invalid filesystem name")
	}

	adapter := fsadapter.New(name, s.proxy)
	mp, err := s.mounts.Mount(ctx, name, adapter)
	if err != nil {
		return "", errors.E(op, errors.CodeBad, err)
	}

	s.filesystems = append(s.filesystems, newFilesystem(name, mp, adapter))
	return name, nil
}

// Receive appends data to the reassembly buffer. Only the final
// fragment of a kernel/websocket message triggers parsing and
// dispatch, per spec.md §4.4 and property 5 of spec.md §8.
func (s *Session) Receive(data []byte, isFinal bool) {
	wasEmpty := len(s.recvBuf) == 0
	fastPath := wasEmpty && isFinal
	if !fastPath {
		s.recvBuf = append(s.recvBuf, data...)
	}
	if !isFinal {
		return
	}

	var payload []byte
	if fastPath {
		// Zero-copy fast path: the whole message arrived in one
		// fragment, so it's dispatched directly instead of being
		// copied into recvBuf first.
		payload = data
	} else {
		payload = s.recvBuf
	}
	s.dispatch(payload)
	s.recvBuf = s.recvBuf[:0]
}

func (s *Session) dispatch(payload []byte) {
	kind, _ := jsonrpc.Classify(payload)
	switch kind {
	case jsonrpc.KindResponse:
		s.proxy.OnResponse(jsonrpc.ParseResponse(payload))
	case jsonrpc.KindRequest:
		s.dispatcher.Process(payload, s.enqueueSend, s)
	default:
		// Malformed or unrecognised shape: dropped silently, per
		// spec.md §7 and end-to-end scenario 6 in spec.md §8.
	}
}

// OnWritable transmits one queued message and, if more remain, asks
// for another writable callback — one frame per event, per spec.md
// §4.4.
func (s *Session) OnWritable() {
	if len(s.sendQueue) == 0 {
		return
	}
	msg := s.sendQueue[0]
	s.sendQueue = s.sendQueue[1:]
	_ = s.write(msg.Data)
	if len(s.sendQueue) > 0 {
		s.requestWritable()
	}
}

// enqueueSend is the shared outbound path used by both the Session's
// Proxy and the responses produced by the Dispatcher. If the
// connection is already gone the frame is simply dropped — there is
// nothing to free in a garbage-collected runtime.
func (s *Session) enqueueSend(frame []byte) {
	if s.closed {
		return
	}
	s.sendQueue = append(s.sendQueue, Message{Data: frame})
	s.requestWritable()
}

// Filesystems returns the session's registered filesystems.
func (s *Session) Filesystems() []*Filesystem {
	return s.filesystems
}

// ContainsFilesystem reports whether handle belongs to one of this
// session's registered filesystems, used to route
// FILESYSTEM_RAW_READABLE events (spec.md §4.4 "contains").
func (s *Session) ContainsFilesystem(handle mount.Handle) bool {
	return s.findFilesystem(handle) != nil
}

// ProcessFilesystemRequest locates the Filesystem owning handle. The
// kernel filesystem host library (out of scope, per spec.md §1) is
// responsible for servicing its own pending request against the
// returned Filesystem's Adapter; this call only confirms routing
// ownership and reports whether a match was found.
func (s *Session) ProcessFilesystemRequest(handle mount.Handle) bool {
	return s.findFilesystem(handle) != nil
}

func (s *Session) findFilesystem(handle mount.Handle) *Filesystem {
	for _, fs := range s.filesystems {
		if fs.Handle() == handle {
			return fs
		}
	}
	return nil
}

// Dispose tears down every registered filesystem's kernel mount and
// resolves every pending RPC with a DisposedError, per spec.md §4.4
// and §8 property 6. Called when the connection closes.
func (s *Session) Dispose() {
	s.closed = true
	s.proxy.Dispose()
	for _, fs := range s.filesystems {
		_ = fs.close()
	}
	servermon.FilesystemsRegistered.Sub(float64(len(s.filesystems)))
	s.filesystems = nil
	s.sendQueue = nil
}
