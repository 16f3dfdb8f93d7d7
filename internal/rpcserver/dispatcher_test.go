// Copyright 2024 Canonical Ltd.

package rpcserver_test

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/rpcserver"
)

func TestProcessDispatchesToRegisteredHandler(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	var gotSessionData, gotHandlerData interface{}
	var gotParams json.RawMessage
	d.Register("echo", func(req *rpcserver.Request) {
		gotSessionData = req.SessionUserData()
		gotHandlerData = req.HandlerUserData()
		gotParams = req.Params()
		req.Set("ok", true)
		req.Respond()
	}, "handler-data")

	frame, err := jsonrpc.EncodeRequest(7, "echo", json.RawMessage(`["a"]`))
	c.Assert(err, qt.IsNil)

	var sent [][]byte
	d.Process(frame, func(f []byte) { sent = append(sent, f) }, "session-data")

	c.Check(gotSessionData, qt.Equals, "session-data")
	c.Check(gotHandlerData, qt.Equals, "handler-data")
	c.Check(string(gotParams), qt.Equals, `["a"]`)

	c.Assert(sent, qt.HasLen, 1)
	resp := jsonrpc.ParseResponse(sent[0])
	c.Check(resp.Status, qt.Equals, jsonrpc.Good)
	c.Check(resp.ID, qt.Equals, int64(7))
}

func TestProcessUnknownMethodRepliesNotImplemented(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	frame, err := jsonrpc.EncodeRequest(3, "frobnicate", nil)
	c.Assert(err, qt.IsNil)

	var sent [][]byte
	d.Process(frame, func(f []byte) { sent = append(sent, f) }, nil)

	c.Assert(sent, qt.HasLen, 1)
	resp := jsonrpc.ParseResponse(sent[0])
	c.Check(resp.Status, qt.Equals, jsonrpc.BadNotImplemented)
	c.Check(resp.ID, qt.Equals, int64(3))
}

func TestProcessMalformedRequestWithRecoverableIDRepliesBadFormat(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	var sent [][]byte
	d.Process([]byte(`{"id":9}`), func(f []byte) { sent = append(sent, f) }, nil)

	c.Assert(sent, qt.HasLen, 1)
	resp := jsonrpc.ParseResponse(sent[0])
	c.Check(resp.Status, qt.Equals, jsonrpc.BadFormat)
	c.Check(resp.ID, qt.Equals, int64(9))
}

func TestProcessMalformedRequestWithoutIDIsDropped(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	var sent [][]byte
	d.Process([]byte(`not json`), func(f []byte) { sent = append(sent, f) }, nil)

	c.Check(sent, qt.HasLen, 0)
}

func TestRequestIsSingleUse(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	d.Register("once", func(req *rpcserver.Request) {
		req.Set("first", 1)
		req.Respond()
		// Both of these must be no-ops: the first terminal action already
		// resolved the request.
		req.RespondError(jsonrpc.Bad, "should not send")
		req.Respond()
	}, nil)

	frame, err := jsonrpc.EncodeRequest(1, "once", nil)
	c.Assert(err, qt.IsNil)

	var sent [][]byte
	d.Process(frame, func(f []byte) { sent = append(sent, f) }, nil)

	c.Assert(sent, qt.HasLen, 1)
	resp := jsonrpc.ParseResponse(sent[0])
	c.Check(resp.Status, qt.Equals, jsonrpc.Good)
}

func TestSetAfterRespondIsIgnored(t *testing.T) {
	c := qt.New(t)

	d := rpcserver.New()
	d.Register("late-set", func(req *rpcserver.Request) {
		req.Respond()
		req.Set("too-late", true)
	}, nil)

	frame, err := jsonrpc.EncodeRequest(1, "late-set", nil)
	c.Assert(err, qt.IsNil)

	var sent [][]byte
	d.Process(frame, func(f []byte) { sent = append(sent, f) }, nil)

	c.Assert(sent, qt.HasLen, 1)
	var body struct {
		Result map[string]interface{} `json:"result"`
	}
	c.Assert(json.Unmarshal(sent[0], &body), qt.IsNil)
	c.Check(body.Result, qt.DeepEquals, map[string]interface{}{})
}
