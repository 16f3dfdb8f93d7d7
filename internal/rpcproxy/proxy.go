// Copyright 2024 Canonical Ltd.

// Package rpcproxy implements the outbound half of the bridge's RPC
// core: the JSON-RPC Proxy described in spec.md §4.2. A Proxy assigns
// request ids, holds a pending-call table keyed by id, enforces a
// per-request timeout using a timer.Manager, and resolves each call
// exactly once — on response, on timeout, or on dispose.
//
// This is the adapter-side analogue of the request/response
// correlation loop in canonical/jimm's internal/rpc.Client.Call: a
// monotonic request counter, a table of in-flight calls, and a single
// path that removes an entry before firing its completion. The
// difference is that jimm's Client runs its own reader goroutine and
// guards the table with a mutex because callers block on a channel;
// this Proxy instead assumes every method is called from the single
// session goroutine that also delivers responses, so no locking is
// needed (see SPEC_FULL.md §5).
package rpcproxy

import (
	"encoding/json"
	"time"

	"github.com/canonical/wsfs/internal/errors"
	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/servermon"
	"github.com/canonical/wsfs/internal/timer"
)

// DefaultTimeout is the RPC timeout used when a Proxy is not given a
// different one, per spec.md §6.
const DefaultTimeout = 10 * time.Second

// A SendFunc transmits one already-encoded request frame. It is
// expected to enqueue the frame on the owning session's send queue
// rather than write to the wire directly.
type SendFunc func(frame []byte)

// A Completion is invoked exactly once to resolve an RPC. Exactly one
// of result and err is non-nil.
type Completion func(result json.RawMessage, err error, userData interface{})

type pendingCall struct {
	completion Completion
	userData   interface{}
	timerToken timer.Token
}

// A Proxy is the outbound half of a session's RPC core. It is not safe
// for concurrent use; every method must be called from the session's
// owning goroutine.
type Proxy struct {
	send    SendFunc
	timers  *timer.Manager
	timeout time.Duration

	nextID  int64
	pending map[int64]*pendingCall
}

// New returns a Proxy that transmits frames via send and schedules
// timeouts on timers, using DefaultTimeout unless overridden with
// SetTimeout.
func New(send SendFunc, timers *timer.Manager) *Proxy {
	return &Proxy{
		send:    send,
		timers:  timers,
		timeout: DefaultTimeout,
		pending: make(map[int64]*pendingCall),
	}
}

// SetTimeout overrides the per-request timeout for calls made after
// this point.
func (p *Proxy) SetTimeout(d time.Duration) {
	p.timeout = d
}

// Invoke assigns a new request id, encodes method/params as a request
// frame, arms a timeout timer, hands the frame to send, and registers
// completion to be resolved by a matching OnResponse or by timeout.
func (p *Proxy) Invoke(method string, params json.RawMessage, completion Completion, userData interface{}) {
	p.nextID++
	id := p.nextID

	pc := &pendingCall{completion: completion, userData: userData}
	pc.timerToken = p.timers.Schedule(p.timeout, func(interface{}) {
		p.onTimeout(id)
	}, nil)
	p.pending[id] = pc
	servermon.PendingRPCCount.Inc()

	frame, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		// Programmer error building params; resolve immediately rather
		// than leaking a pending call that can never be answered.
		p.timers.Cancel(pc.timerToken)
		delete(p.pending, id)
		servermon.PendingRPCCount.Dec()
		completion(nil, errors.E(errors.Op("rpcproxy.Invoke"), errors.CodeBadFormat, err), userData)
		return
	}
	p.send(frame)
}

// InvokeSpec is a convenience wrapper around Invoke that formats args
// using a jsonrpc.ParamSpec tag string, matching spec.md §4.2's
// "Param spec is a short type-tag string" wording.
func (p *Proxy) InvokeSpec(method, spec string, args []interface{}, completion Completion, userData interface{}) {
	params, err := jsonrpc.ParamSpec(spec, args...)
	if err != nil {
		completion(nil, errors.E(errors.Op("rpcproxy.InvokeSpec"), errors.CodeBadFormat, err), userData)
		return
	}
	p.Invoke(method, params, completion, userData)
}

// OnResponse is called by the session with a decoded response message.
// If no pending call matches resp.ID, the response is silently
// dropped — it may be a duplicate, or may have arrived after its
// timeout already fired.
func (p *Proxy) OnResponse(resp jsonrpc.Response) {
	pc, ok := p.pending[resp.ID]
	if !ok {
		return
	}
	delete(p.pending, resp.ID)
	p.timers.Cancel(pc.timerToken)
	servermon.PendingRPCCount.Dec()

	if resp.Status != jsonrpc.Good {
		pc.completion(nil, errors.E(errors.Op("rpcproxy.OnResponse"), errors.CodeBad), pc.userData)
		return
	}
	pc.completion(resp.Result, nil, pc.userData)
}

func (p *Proxy) onTimeout(id int64) {
	pc, ok := p.pending[id]
	if !ok {
		// This id was already removed and resolved by OnResponse or
		// Dispose; both cancel the timer first, so this is only a guard.
		return
	}
	delete(p.pending, id)
	servermon.PendingRPCCount.Dec()
	servermon.RPCTimeoutCount.Inc()
	pc.completion(nil, errors.E(errors.Op("rpcproxy.onTimeout"), errors.CodeTimeout), pc.userData)
}

// Pending reports the number of in-flight calls. Used by tests.
func (p *Proxy) Pending() int {
	return len(p.pending)
}

// Dispose cancels every pending call's timer and resolves it with a
// DisposedError completion, then clears the table. Called when the
// owning session is destroyed (spec.md §5 "Session closure").
func (p *Proxy) Dispose() {
	pending := p.pending
	p.pending = make(map[int64]*pendingCall)
	for id, pc := range pending {
		p.timers.Cancel(pc.timerToken)
		delete(pending, id)
		servermon.PendingRPCCount.Dec()
		pc.completion(nil, errors.E(errors.Op("rpcproxy.Dispose"), errors.CodeDisposed), pc.userData)
	}
}
