// Copyright 2024 Canonical Ltd.

package rpcproxy_test

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/wsfs/internal/errors"
	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/rpcproxy"
	"github.com/canonical/wsfs/internal/timer"
)

type completionCall struct {
	result json.RawMessage
	err    error
}

func TestInvokeThenResponseResolvesOnce(t *testing.T) {
	c := qt.New(t)

	var sent [][]byte
	tm := timer.NewManager()
	p := rpcproxy.New(func(frame []byte) { sent = append(sent, frame) }, tm)

	var calls []completionCall
	p.InvokeSpec("getattr", "si", []interface{}{"test", 2}, func(result json.RawMessage, err error, userData interface{}) {
		calls = append(calls, completionCall{result, err})
	}, nil)

	c.Assert(sent, qt.HasLen, 1)
	req, id, ok := jsonrpc.ParseRequest(sent[0])
	c.Assert(ok, qt.IsTrue)
	c.Check(id, qt.Equals, int64(1))
	c.Check(req.Method, qt.Equals, "getattr")
	c.Check(string(req.Params), qt.Equals, `["test",2]`)
	c.Check(p.Pending(), qt.Equals, 1)

	frame, err := jsonrpc.EncodeResult(1, map[string]int{"inode": 2})
	c.Assert(err, qt.IsNil)
	p.OnResponse(jsonrpc.ParseResponse(frame))

	c.Assert(calls, qt.HasLen, 1)
	c.Check(calls[0].err, qt.IsNil)
	c.Check(p.Pending(), qt.Equals, 0)

	// A second response for the same (now-forgotten) id is dropped, not
	// delivered again.
	p.OnResponse(jsonrpc.ParseResponse(frame))
	c.Check(calls, qt.HasLen, 1)
}

func TestInvokeTimeout(t *testing.T) {
	c := qt.New(t)

	now := time.Unix(0, 0)
	tm := timer.NewManagerWithClock(func() time.Time { return now })
	p := rpcproxy.New(func([]byte) {}, tm)
	p.SetTimeout(10 * time.Millisecond)

	var calls []completionCall
	p.InvokeSpec("getattr", "si", []interface{}{"test", 2}, func(result json.RawMessage, err error, userData interface{}) {
		calls = append(calls, completionCall{result, err})
	}, nil)

	now = now.Add(time.Second)
	tm.Check()

	c.Assert(calls, qt.HasLen, 1)
	c.Check(calls[0].result, qt.IsNil)
	c.Check(errors.ErrorCode(calls[0].err), qt.Equals, errors.CodeTimeout)
	c.Check(p.Pending(), qt.Equals, 0)
}

func TestLateResponseAfterTimeoutIsDropped(t *testing.T) {
	c := qt.New(t)

	now := time.Unix(0, 0)
	tm := timer.NewManagerWithClock(func() time.Time { return now })
	p := rpcproxy.New(func([]byte) {}, tm)
	p.SetTimeout(10 * time.Millisecond)

	var calls []completionCall
	p.InvokeSpec("getattr", "si", []interface{}{"test", 2}, func(result json.RawMessage, err error, userData interface{}) {
		calls = append(calls, completionCall{result, err})
	}, nil)

	now = now.Add(time.Second)
	tm.Check()
	c.Assert(calls, qt.HasLen, 1)

	frame, err := jsonrpc.EncodeResult(1, true)
	c.Assert(err, qt.IsNil)
	p.OnResponse(jsonrpc.ParseResponse(frame))

	// No second completion fired.
	c.Check(calls, qt.HasLen, 1)
}

func TestDisposeResolvesAllPending(t *testing.T) {
	c := qt.New(t)

	tm := timer.NewManager()
	p := rpcproxy.New(func([]byte) {}, tm)

	var calls []completionCall
	for i := 0; i < 3; i++ {
		p.InvokeSpec("getattr", "si", []interface{}{"test", i}, func(result json.RawMessage, err error, userData interface{}) {
			calls = append(calls, completionCall{result, err})
		}, nil)
	}
	c.Assert(p.Pending(), qt.Equals, 3)

	p.Dispose()

	c.Assert(calls, qt.HasLen, 3)
	for _, call := range calls {
		c.Check(errors.ErrorCode(call.err), qt.Equals, errors.CodeDisposed)
	}
	c.Check(p.Pending(), qt.Equals, 0)
	c.Check(tm.Len(), qt.Equals, 0)
}

func TestParamSpecProducesCorrectLengthArray(t *testing.T) {
	c := qt.New(t)

	params, err := jsonrpc.ParamSpec("si", "name", 7)
	c.Assert(err, qt.IsNil)

	var arr []interface{}
	c.Assert(json.Unmarshal(params, &arr), qt.IsNil)
	c.Check(arr, qt.HasLen, 2)
}
