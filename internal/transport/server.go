// Copyright 2024 Canonical Ltd.

// Package transport binds wsfs.Protocol, whose methods must only ever
// be called from a single goroutine (SPEC_FULL.md §5), to a real
// github.com/gorilla/websocket listener accepting many concurrent
// connections. It is the Go mapping of spec.md §1's "out of scope"
// WebSocket library boundary: everything here is glue, nothing here
// implements protocol semantics.
//
// The mapping: one dedicated executor goroutine owns every call into
// Protocol, fed by a channel of closures ("actions") submitted by a
// per-connection reader goroutine and by a time.Ticker driving
// TimerManager.Check. This reproduces spec.md §5's single-threaded,
// lock-free core on top of Go's goroutine model, the way
// internal/jimmhttp.WSHandler in canonical/jimm upgrades a connection
// and hands it to a single ServeWS loop — except here one executor
// serves every session, matching the single Session Manager/Timer
// Manager singleton spec.md §4.5/§4.7 describe.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/wsfs/internal/session"
	"github.com/canonical/wsfs/internal/wsfs"
)

// tickInterval is how often the executor goroutine advances the Timer
// Manager independently of connection activity, so RPC timeouts fire
// even on an otherwise idle server.
const tickInterval = 100 * time.Millisecond

// readChunkSize bounds a single Read off a websocket message's
// io.Reader, so that a single large provider frame is fed to
// Session.Receive as more than one fragment, exercising the
// reassembly buffer in spec.md §4.4 the way real fragmented frames
// would rather than always taking the zero-copy single-fragment path.
const readChunkSize = 4096

// A Server upgrades incoming HTTP requests to WebSocket connections
// speaking the "fs" subprotocol (spec.md §6) and drives a wsfs.Protocol
// from a single internal executor goroutine.
type Server struct {
	Protocol *wsfs.Protocol
	Upgrader websocket.Upgrader

	actions chan func()
	stopped chan struct{}
}

// NewServer returns a Server driving protocol. Run must be started
// before any connection is served.
func NewServer(protocol *wsfs.Protocol) *Server {
	return &Server{
		Protocol: protocol,
		Upgrader: websocket.Upgrader{
			Subprotocols:    []string{"fs"},
			ReadBufferSize:  readChunkSize,
			WriteBufferSize: readChunkSize,
		},
		actions: make(chan func(), 64),
		stopped: make(chan struct{}),
	}
}

// Run is the executor goroutine: the only goroutine ever allowed to
// call a method on s.Protocol. It blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.Protocol.Init()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Protocol.Tick()
		case fn := <-s.actions:
			fn()
		}
	}
}

// Shutdown disposes every live session via the executor goroutine. It
// is safe to call concurrently with ctx cancelling Run: if Run has
// already returned, dispatch (and so Shutdown) returns immediately
// without disposing anything, since there is no executor left to
// serialize the call through.
func (s *Server) Shutdown() {
	s.dispatch(func() {
		s.Protocol.Shutdown()
	})
}

// dispatch submits fn to run on the executor goroutine and blocks
// until it has run, or until Run has returned. Called from reader
// goroutines so that every touch of Protocol state is serialized
// through Run, per SPEC_FULL.md §5. Selecting on s.stopped on both
// sends prevents a caller from blocking forever once Run has exited,
// which would otherwise leak the calling goroutine on shutdown (e.g.
// ServeHTTP's deferred Closed dispatch).
func (s *Server) dispatch(fn func()) {
	done := make(chan struct{})
	select {
	case s.actions <- func() {
		fn()
		close(done)
	}:
	case <-s.stopped:
		return
	}
	select {
	case <-done:
	case <-s.stopped:
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and runs
// it until the connection closes, mirroring the structure of
// internal/jimmhttp.WSHandler.ServeHTTP in canonical/jimm: upgrade,
// recover panics into a close frame, hand off to the protocol, clean
// up on return.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		zapctx.Error(ctx, "cannot upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			zapctx.Error(ctx, "wsfs connection panic", zap.Any("err", rec), zap.Stack("stack"))
			data := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, fmt.Sprintf("%v", rec))
			_ = conn.WriteControl(websocket.CloseMessage, data, time.Time{})
		}
	}()

	handle := session.Handle(uuid.NewString())
	ctx = zapctx.WithFields(ctx, zap.String("connection", string(handle)))

	write := func(frame []byte) error {
		return conn.WriteMessage(websocket.TextMessage, frame)
	}
	// requestWritable calls straight back into Protocol.Writable
	// instead of waiting for a transport-level writable-ready signal:
	// every call here already runs on the executor goroutine (it is
	// only ever invoked from inside a Session method that is itself
	// running inside one of s.dispatch's closures), so draining the
	// send queue immediately is equivalent to "one frame per
	// writable-ready event" with the event firing as soon as it can
	// (SPEC_FULL.md §5 "writer is not a separate goroutine").
	requestWritable := func() {
		s.Protocol.Writable(handle)
	}

	s.dispatch(func() {
		s.Protocol.Established(handle, write, requestWritable)
	})
	defer s.dispatch(func() {
		s.Protocol.Closed(handle)
	})

	for {
		_, r, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zapctx.Debug(ctx, "websocket read error", zap.Error(err))
			}
			return
		}
		if err := s.pump(handle, r); err != nil {
			zapctx.Error(ctx, "cannot read websocket message", zap.Error(err))
			return
		}
	}
}

// pump reads r in readChunkSize pieces, delivering each as a
// Session.Receive fragment via Protocol.Receive and marking only the
// final piece as the final fragment, per spec.md §4.4.
func (s *Server) pump(handle session.Handle, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	finalSent := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			final := err == io.EOF
			s.dispatch(func() {
				s.Protocol.Receive(handle, chunk, final)
			})
			finalSent = finalSent || final
		}
		if err != nil {
			if err != io.EOF {
				return err
			}
			if !finalSent {
				// The message ended exactly on a readChunkSize
				// boundary: the last non-empty Read reported err ==
				// nil, so the final fragment is this trailing
				// zero-length read instead.
				s.dispatch(func() {
					s.Protocol.Receive(handle, nil, true)
				})
			}
			return nil
		}
	}
}
