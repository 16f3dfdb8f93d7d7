// Copyright 2024 Canonical Ltd.

package jsonrpc_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/wsfs/internal/jsonrpc"
)

func TestParseResponseScenarios(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		about      string
		input      string
		wantStatus jsonrpc.Status
		wantID     int64
		wantResult bool
	}{{
		about:      "empty array",
		input:      `[]`,
		wantStatus: jsonrpc.Bad,
		wantID:     -1,
	}, {
		about:      "empty object",
		input:      `{}`,
		wantStatus: jsonrpc.Bad,
		wantID:     -1,
	}, {
		about:      "id only",
		input:      `{"id":42}`,
		wantStatus: jsonrpc.Bad,
		wantID:     42,
	}, {
		about:      "error response",
		input:      `{"error":{"code":42},"id":42}`,
		wantStatus: jsonrpc.Status(42),
		wantID:     42,
	}, {
		about:      "success response",
		input:      `{"result":true,"id":42}`,
		wantStatus: jsonrpc.Good,
		wantID:     42,
		wantResult: true,
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			resp := jsonrpc.ParseResponse([]byte(test.input))
			c.Check(resp.Status, qt.Equals, test.wantStatus)
			c.Check(resp.ID, qt.Equals, test.wantID)
			c.Check(resp.Result != nil, qt.Equals, test.wantResult)
		})
	}
}

func TestParseRequest(t *testing.T) {
	c := qt.New(t)

	req, id, ok := jsonrpc.ParseRequest([]byte(`{"method":"authenticate","params":["x"],"id":1}`))
	c.Assert(ok, qt.IsTrue)
	c.Check(id, qt.Equals, int64(1))
	c.Check(req.Method, qt.Equals, "authenticate")

	_, id, ok = jsonrpc.ParseRequest([]byte(`{"method":"authenticate"}`))
	c.Check(ok, qt.IsFalse)
	c.Check(id, qt.Equals, int64(-1))

	_, _, ok = jsonrpc.ParseRequest([]byte(`not json`))
	c.Check(ok, qt.IsFalse)
}

func TestEncodeRequestRoundtrip(t *testing.T) {
	c := qt.New(t)

	params, err := jsonrpc.ParamSpec("si", "test", 2)
	c.Assert(err, qt.IsNil)
	c.Check(string(params), qt.Equals, `["test",2]`)

	data, err := jsonrpc.EncodeRequest(7, "getattr", params)
	c.Assert(err, qt.IsNil)

	req, id, ok := jsonrpc.ParseRequest(data)
	c.Assert(ok, qt.IsTrue)
	c.Check(id, qt.Equals, int64(7))
	c.Check(req.Method, qt.Equals, "getattr")
	c.Check(string(req.Params), qt.Equals, `["test",2]`)
}

func TestEncodeResultAndError(t *testing.T) {
	c := qt.New(t)

	data, err := jsonrpc.EncodeResult(3, map[string]string{"id": "test"})
	c.Assert(err, qt.IsNil)
	resp := jsonrpc.ParseResponse(data)
	c.Check(resp.Status, qt.Equals, jsonrpc.Good)
	c.Check(resp.ID, qt.Equals, int64(3))
	c.Check(string(resp.Result), qt.Equals, `{"id":"test"}`)

	data, err = jsonrpc.EncodeError(4, jsonrpc.BadAccessDenied, "nope")
	c.Assert(err, qt.IsNil)
	resp = jsonrpc.ParseResponse(data)
	c.Check(resp.Status, qt.Equals, jsonrpc.BadAccessDenied)
	c.Check(resp.ID, qt.Equals, int64(4))
}

func TestParamSpecMismatch(t *testing.T) {
	c := qt.New(t)

	_, err := jsonrpc.ParamSpec("si", "only-one")
	c.Check(err, qt.ErrorMatches, `.*expects 2 args, got 1`)
}
