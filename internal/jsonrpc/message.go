// Copyright 2024 Canonical Ltd.

// Package jsonrpc implements the wire dialect spoken between the
// adapter and a remote filesystem provider: JSON-RPC requests carrying
// an integer id, a string method, and an array of params; responses
// that echo the id and carry either a result or an error.
//
// The package is read-only with respect to the JSON documents it is
// given — it never assumes ownership of a connection or a queue, it
// only encodes and decodes messages.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/canonical/wsfs/internal/errors"
)

// A Status is a framework-internal status code. It is carried verbatim
// in the "code" field of an error response.
type Status int

const (
	// Good indicates a successful call.
	Good Status = iota
	// Bad is a generic failure.
	Bad
	// BadFormat marks a malformed request or response.
	BadFormat
	// BadAccessDenied marks an authentication/authorization failure.
	BadAccessDenied
	// BadTimeout marks a call abandoned after its timer fired.
	BadTimeout
	// BadNotImplemented marks a method with no registered handler.
	BadNotImplemented
)

// CodeForStatus maps an errors.Code to the wire Status reported to a
// peer. Unrecognised codes become Bad.
func CodeForStatus(c errors.Code) Status {
	switch c {
	case errors.CodeBadFormat:
		return BadFormat
	case errors.CodeAccessDenied:
		return BadAccessDenied
	case errors.CodeTimeout:
		return BadTimeout
	case errors.CodeNotImplemented:
		return BadNotImplemented
	default:
		return Bad
	}
}

// An errorObject is the wire shape of the "error" field of a response.
type errorObject struct {
	Code    Status `json:"code"`
	Message string `json:"message"`
}

// wireMessage is the union of every field that can appear in a request
// or a response. Pointers are used for id/result/error so that the
// zero value can be told apart from "absent".
type wireMessage struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     *int64          `json:"id,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  *errorObject    `json:"error,omitempty"`
}

// A Request is a decoded inbound or outbound JSON-RPC request.
type Request struct {
	ID     int64
	Method string
	Params json.RawMessage
}

// A Response is a decoded JSON-RPC response.
type Response struct {
	// Status is Good if Result is present; otherwise the error code
	// reported by the peer (or Bad if the message was malformed).
	Status Status
	// ID is -1 if no id could be recovered from the message.
	ID int64
	// Result holds the raw "result" value, or nil if absent.
	Result json.RawMessage
}

// EncodeRequest builds the bytes of a request message with the given
// id, method and already-formatted params array.
func EncodeRequest(id int64, method string, params json.RawMessage) ([]byte, error) {
	m := wireMessage{
		Method: method,
		Params: params,
		ID:     &id,
	}
	return json.Marshal(m)
}

// EncodeResult builds the bytes of a successful response.
func EncodeResult(id int64, result interface{}) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	m := wireMessage{
		ID:     &id,
		Result: raw,
	}
	return json.Marshal(m)
}

// EncodeError builds the bytes of an error response.
func EncodeError(id int64, code Status, message string) ([]byte, error) {
	m := wireMessage{
		ID: &id,
		Error: &errorObject{
			Code:    code,
			Message: message,
		},
	}
	return json.Marshal(m)
}

// Kind classifies a decoded inbound message.
type Kind int

const (
	// KindUnknown is neither a well-formed request nor a well-formed
	// response; the caller should drop it silently.
	KindUnknown Kind = iota
	KindRequest
	KindResponse
)

// Classify decodes data and reports whether it is a request, a
// response, or neither. Malformed JSON is KindUnknown.
func Classify(data []byte) (Kind, wireMessage) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return KindUnknown, wireMessage{}
	}
	if m.Method != "" {
		return KindRequest, m
	}
	if m.Result != nil || m.Error != nil {
		return KindResponse, m
	}
	return KindUnknown, m
}

// ParseRequest decodes data as a request. ok is false if method or id
// is missing or malformed, in which case the caller should treat it as
// a protocol error (reply BadFormat if an id could still be recovered).
func ParseRequest(data []byte) (req Request, id int64, ok bool) {
	kind, m := Classify(data)
	id = -1
	if m.ID != nil {
		id = *m.ID
	}
	if kind != KindRequest || m.ID == nil {
		return Request{}, id, false
	}
	return Request{ID: *m.ID, Method: m.Method, Params: m.Params}, id, true
}

// ParseResponse decodes data as a response, with this exact literal
// behaviour for malformed or edge-case inputs:
//
//	"[]"                                  -> Bad,   id -1,  no result
//	"{}"                                  -> Bad,   id -1,  no result
//	`{"id":42}`                           -> Bad,   id 42,  no result
//	`{"error":{"code":42},"id":42}`       -> 42,    id 42,  no result
//	`{"result":true,"id":42}`             -> Good,  id 42,  result present
func ParseResponse(data []byte) Response {
	kind, m := Classify(data)
	id := int64(-1)
	if m.ID != nil {
		id = *m.ID
	}
	switch {
	case kind == KindResponse && m.Error != nil:
		return Response{Status: m.Error.Code, ID: id}
	case kind == KindResponse && m.Result != nil:
		return Response{Status: Good, ID: id, Result: m.Result}
	default:
		return Response{Status: Bad, ID: id}
	}
}

// ParamSpec formats args into a JSON array according to a short
// type-tag string: 's' a string, 'i' an int, repeated per argument
// (e.g. "si" means a string followed by an int). It exists so that
// call sites can build RPC params without hand-rolling
// interface{}-slice literals at every call site.
func ParamSpec(spec string, args ...interface{}) (json.RawMessage, error) {
	if len(spec) != len(args) {
		return nil, fmt.Errorf("jsonrpc: param spec %q expects %d args, got %d", spec, len(spec), len(args))
	}
	arr := make([]interface{}, len(args))
	for i, tag := range spec {
		switch tag {
		case 's':
			s, ok := args[i].(string)
			if !ok {
				return nil, fmt.Errorf("jsonrpc: arg %d: expected string for tag 's'", i)
			}
			arr[i] = s
		case 'i':
			switch v := args[i].(type) {
			case int:
				arr[i] = v
			case int64:
				arr[i] = v
			case uint64:
				arr[i] = v
			default:
				return nil, fmt.Errorf("jsonrpc: arg %d: expected int for tag 'i'", i)
			}
		default:
			return nil, fmt.Errorf("jsonrpc: unknown param spec tag %q", string(tag))
		}
	}
	return json.Marshal(arr)
}
