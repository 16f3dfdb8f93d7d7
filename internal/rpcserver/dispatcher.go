// Copyright 2024 Canonical Ltd.

// Package rpcserver implements the inbound half of the bridge's RPC
// core: the JSON-RPC Server Dispatcher described in spec.md §4.3. It
// holds a method-name registry and routes incoming requests to
// registered handlers, which reply through a single-use Request
// object.
package rpcserver

import (
	"encoding/json"
	"fmt"

	"github.com/canonical/wsfs/internal/jsonrpc"
)

// A HandlerFunc services one inbound request. It must call exactly one
// of Request.Respond or Request.RespondError.
type HandlerFunc func(req *Request)

type handlerEntry struct {
	fn       HandlerFunc
	userData interface{}
}

// A SendFunc transmits one already-encoded response frame.
type SendFunc func(frame []byte)

// A Dispatcher holds the method registry described in spec.md §4.3. It
// is not safe for concurrent use; see the concurrency model in
// SPEC_FULL.md §5.
type Dispatcher struct {
	handlers map[string]handlerEntry
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]handlerEntry)}
}

// Register adds or replaces the handler for method. userData is opaque
// data made available to the handler through Request.HandlerUserData.
func (d *Dispatcher) Register(method string, fn HandlerFunc, userData interface{}) {
	d.handlers[method] = handlerEntry{fn: fn, userData: userData}
}

// Process decodes data as a request and dispatches it. send is used by
// the Request (and by Process itself, for protocol errors) to deliver
// the response frame; sessionUserData is passed through to the handler
// unchanged.
//
// If method or id cannot be recovered the message is dropped silently
// unless an id was recoverable, in which case a BadFormat error
// response is sent — matching spec.md §7's "reply BAD_FORMAT for
// requests with recoverable id".
func (d *Dispatcher) Process(data []byte, send SendFunc, sessionUserData interface{}) {
	req, id, ok := d.parse(data)
	if !ok {
		if id >= 0 {
			send(mustEncodeError(id, jsonrpc.BadFormat, "malformed request"))
		}
		return
	}

	entry, ok := d.handlers[req.Method]
	if !ok {
		send(mustEncodeError(req.ID, jsonrpc.BadNotImplemented, fmt.Sprintf("method %q not implemented", req.Method)))
		return
	}

	r := &Request{
		id:              req.ID,
		params:          req.Params,
		sessionUserData: sessionUserData,
		handlerUserData: entry.userData,
		send:            send,
		result:          make(map[string]interface{}),
	}
	entry.fn(r)
}

func (d *Dispatcher) parse(data []byte) (jsonrpc.Request, int64, bool) {
	return jsonrpc.ParseRequest(data)
}

func mustEncodeError(id int64, code jsonrpc.Status, message string) []byte {
	frame, err := jsonrpc.EncodeError(id, code, message)
	if err != nil {
		// code/message/id are all trivially marshalable; this would
		// only fail on an encoding/json bug.
		panic(err)
	}
	return frame
}

// A Request is delivered to a HandlerFunc. It is single-use: only the
// first call to Respond or RespondError has any effect, matching
// spec.md §4.3's "exactly one terminal action must occur per request".
type Request struct {
	id              int64
	params          json.RawMessage
	sessionUserData interface{}
	handlerUserData interface{}
	send            SendFunc
	result          map[string]interface{}
	done            bool
}

// ID returns the request's JSON-RPC id.
func (r *Request) ID() int64 { return r.id }

// Params returns the raw params array of the request.
func (r *Request) Params() json.RawMessage { return r.params }

// SessionUserData returns the opaque data the caller of Process passed
// in — typically the owning Session.
func (r *Request) SessionUserData() interface{} { return r.sessionUserData }

// HandlerUserData returns the opaque data supplied at Register time
// for this method.
func (r *Request) HandlerUserData() interface{} { return r.handlerUserData }

// Set accumulates a key/value pair into the eventual success result
// object. Calling Set after a terminal action has no effect.
func (r *Request) Set(key string, value interface{}) {
	if r.done {
		return
	}
	r.result[key] = value
}

// Respond sends a success response built from the accumulated Set
// calls. It is a no-op if the request was already resolved.
func (r *Request) Respond() {
	if r.done {
		return
	}
	r.done = true
	frame, err := jsonrpc.EncodeResult(r.id, r.result)
	if err != nil {
		// One of the Set values didn't marshal; fall back to an error
		// response rather than sending nothing.
		r.send(mustEncodeError(r.id, jsonrpc.Bad, err.Error()))
		return
	}
	r.send(frame)
}

// RespondError sends an error response. It is a no-op if the request
// was already resolved.
func (r *Request) RespondError(code jsonrpc.Status, message string) {
	if r.done {
		return
	}
	r.done = true
	r.send(mustEncodeError(r.id, code, message))
}
