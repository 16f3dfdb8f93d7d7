// Copyright 2024 Canonical Ltd.

// Package wsfs implements the Server Protocol glue described in
// spec.md §4.7: it owns the Timer Manager, the Authenticators
// registry, the Mountpoint Factory, the Session Manager, and a
// JSON-RPC server Dispatcher pre-populated with the authenticate and
// add_filesystem methods, and routes WebSocket/kernel callback events
// to the right Session.
package wsfs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/wsfs/internal/auth"
	"github.com/canonical/wsfs/internal/errors"
	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/mount"
	"github.com/canonical/wsfs/internal/rpcserver"
	"github.com/canonical/wsfs/internal/servermon"
	"github.com/canonical/wsfs/internal/session"
	"github.com/canonical/wsfs/internal/timer"
)

// A Protocol is the single server-protocol instance for a process. It
// is not safe for concurrent use: every method must be called from
// the WebSocket event-loop goroutine, per the concurrency model in
// SPEC_FULL.md §5.
type Protocol struct {
	timers      *timer.Manager
	auth        *auth.Registry
	mounts      mount.Factory
	sessions    *session.Manager
	dispatcher  *rpcserver.Dispatcher
	operational bool
	rpcTimeout  time.Duration
}

// New returns a Protocol backed by mounts, with its Dispatcher
// pre-populated with authenticate and add_filesystem, per spec.md
// §4.7. Additional Authenticators should be registered on
// Authenticators() before serving any connection.
func New(mounts mount.Factory) *Protocol {
	p := &Protocol{
		timers:     timer.NewManager(),
		auth:       auth.NewRegistry(),
		mounts:     mounts,
		sessions:   session.NewManager(),
		dispatcher: rpcserver.New(),
	}
	p.dispatcher.Register("authenticate", p.handleAuthenticate, nil)
	p.dispatcher.Register("add_filesystem", p.handleAddFilesystem, nil)
	return p
}

// Authenticators returns the registry embedders should populate with
// credential-type predicates before the first connection arrives.
func (p *Protocol) Authenticators() *auth.Registry { return p.auth }

// SetDefaultRPCTimeout overrides the per-request RPC timeout applied
// to every Session created from this point on, per spec.md §6
// "configurable per proxy". The zero value leaves rpcproxy.DefaultTimeout
// in effect.
func (p *Protocol) SetDefaultRPCTimeout(d time.Duration) {
	p.rpcTimeout = d
}

// Dispatcher returns the shared JSON-RPC server dispatcher, so
// embedders may register additional methods, per spec.md §4.3 "Additional
// methods may be registered by embedders."
func (p *Protocol) Dispatcher() *rpcserver.Dispatcher { return p.dispatcher }

// Sessions returns the Session Manager, for diagnostics and tests.
func (p *Protocol) Sessions() *session.Manager { return p.sessions }

// Init marks the protocol operational. It is the first event the
// WebSocket transport is expected to deliver.
func (p *Protocol) Init() {
	p.timers.Check()
	p.operational = true
}

// Shutdown marks the protocol no longer operational and disposes every
// live session, per spec.md §4.4's dispose semantics applied to the
// whole process at once. Subsequent events are ignored until a new
// Init.
func (p *Protocol) Shutdown() {
	p.operational = false
	p.sessions.DisposeAll()
}

// Tick advances the Timer Manager without otherwise touching any
// session. A real transport binding calls this on an interval timer so
// that RPC timeouts fire even while no connection is producing other
// events, per spec.md §4.7 step 1 ("Each invocation first advances the
// Timer Manager").
func (p *Protocol) Tick() {
	p.timers.Check()
}

// Established creates a Session for a newly accepted connection and
// immediately attempts anonymous authentication, per spec.md §4.7.
// write transmits one frame to the wire; requestWritable asks the
// transport for another WRITEABLE callback. Ignored before Init or
// after Shutdown, per spec.md §4.7's is_operational gate.
func (p *Protocol) Established(handle session.Handle, write func([]byte) error, requestWritable func()) {
	p.timers.Check()
	if !p.operational {
		return
	}

	s := session.New(handle, p.dispatcher, p.auth, p.mounts, p.timers, write, requestWritable)
	if p.rpcTimeout > 0 {
		s.SetRPCTimeout(p.rpcTimeout)
	}
	p.sessions.Add(s)
	servermon.ConcurrentWebsocketConnections.Inc()

	if s.Authenticate(auth.AnonymousType, nil) {
		servermon.AuthenticationSuccessCount.Inc()
	}
}

// Closed removes and disposes of the Session owning handle, if any.
// Ignored before Init, per spec.md §4.7's is_operational gate.
func (p *Protocol) Closed(handle session.Handle) {
	p.timers.Check()
	if !p.operational {
		return
	}

	if _, ok := p.sessions.Get(handle); !ok {
		return
	}
	p.sessions.Remove(handle)
	servermon.ConcurrentWebsocketConnections.Dec()
}

// Writable notifies the Session owning handle that a frame may now be
// written without blocking. Ignored before Init, per spec.md §4.7's
// is_operational gate.
func (p *Protocol) Writable(handle session.Handle) {
	p.timers.Check()
	if !p.operational {
		return
	}

	if s, ok := p.sessions.Get(handle); ok {
		s.OnWritable()
	}
}

// Receive delivers one inbound fragment to the Session owning handle.
// Ignored before Init, per spec.md §4.7's is_operational gate.
func (p *Protocol) Receive(handle session.Handle, data []byte, isFinal bool) {
	p.timers.Check()
	if !p.operational {
		return
	}

	if s, ok := p.sessions.Get(handle); ok {
		s.Receive(data, isFinal)
	}
}

// FilesystemRawReadable routes a kernel raw-readable event to whichever
// Session owns the filesystem registered under handle. Ignored before
// Init, per spec.md §4.7's is_operational gate.
func (p *Protocol) FilesystemRawReadable(handle mount.Handle) {
	p.timers.Check()
	if !p.operational {
		return
	}

	if s, ok := p.sessions.GetByFilesystemHandle(handle); ok {
		s.ProcessFilesystemRequest(handle)
	}
}

func (p *Protocol) handleAuthenticate(req *rpcserver.Request) {
	var args []json.RawMessage
	if err := json.Unmarshal(req.Params(), &args); err != nil || len(args) != 2 {
		req.RespondError(jsonrpc.BadFormat, "authenticate requires [type, credentials]")
		return
	}
	var credType string
	if err := json.Unmarshal(args[0], &credType); err != nil {
		req.RespondError(jsonrpc.BadFormat, "credential type must be a string")
		return
	}
	var creds auth.Credentials
	if err := json.Unmarshal(args[1], &creds); err != nil {
		req.RespondError(jsonrpc.BadFormat, "credentials must be an object")
		return
	}

	s := req.SessionUserData().(*session.Session)
	if s.Authenticate(credType, creds) {
		servermon.AuthenticationSuccessCount.Inc()
		req.Respond()
		return
	}
	servermon.AuthenticationFailCount.Inc()
	req.RespondError(jsonrpc.BadAccessDenied, "access denied")
}

func (p *Protocol) handleAddFilesystem(req *rpcserver.Request) {
	var args []json.RawMessage
	if err := json.Unmarshal(req.Params(), &args); err != nil || len(args) != 1 {
		req.RespondError(jsonrpc.BadFormat, "add_filesystem requires [name]")
		return
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		req.RespondError(jsonrpc.BadFormat, "name must be a string")
		return
	}

	s := req.SessionUserData().(*session.Session)
	id, err := s.AddFilesystem(context.Background(), name)
	if err != nil {
		switch errors.ErrorCode(err) {
		case errors.CodeAccessDenied:
			req.RespondError(jsonrpc.BadAccessDenied, err.Error())
		case errors.CodeBadFormat:
			req.RespondError(jsonrpc.BadFormat, err.Error())
		default:
			zapctx.Default.Debug("add_filesystem failed", zap.String("name", name), zap.Error(err))
			req.RespondError(jsonrpc.Bad, err.Error())
		}
		return
	}
	servermon.FilesystemsRegistered.Inc()
	req.Set("id", id)
	req.Respond()
}
