// Copyright 2024 Canonical Ltd.

package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/websocket"

	"github.com/canonical/wsfs/internal/auth"
	"github.com/canonical/wsfs/internal/jsonrpc"
	"github.com/canonical/wsfs/internal/mount/mounttest"
	"github.com/canonical/wsfs/internal/transport"
	"github.com/canonical/wsfs/internal/wsfs"
)

// newHarness starts an httptest.Server fronting a transport.Server
// wired to a fresh wsfs.Protocol, with its executor goroutine running
// in the background for the lifetime of the test.
func newHarness(c *qt.C) string {
	p := wsfs.New(mounttest.NewFactory())
	p.Authenticators().Register(auth.AnonymousType, auth.Allow(), nil)

	srv := transport.NewServer(p)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()

	httpSrv := httptest.NewServer(srv)
	c.Cleanup(func() {
		httpSrv.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func dial(c *qt.C, url string) *websocket.Conn {
	dialer := websocket.Dialer{Subprotocols: []string{"fs"}}
	conn, _, err := dialer.Dial(url, nil)
	c.Assert(err, qt.IsNil)
	return conn
}

// Exercises end-to-end scenario 1 from spec.md §8 over a real
// WebSocket connection, rather than the in-process harness used by
// internal/wsfs's own tests.
func TestAddFilesystemOverRealWebsocket(t *testing.T) {
	c := qt.New(t)
	url := newHarness(c)
	conn := dial(c, url)
	defer conn.Close()

	frame, err := jsonrpc.EncodeRequest(1, "add_filesystem", []byte(`["test"]`))
	c.Assert(err, qt.IsNil)
	c.Assert(conn.WriteMessage(websocket.TextMessage, frame), qt.IsNil)

	c.Assert(conn.SetReadDeadline(time.Now().Add(5*time.Second)), qt.IsNil)
	_, data, err := conn.ReadMessage()
	c.Assert(err, qt.IsNil)
	resp := jsonrpc.ParseResponse(data)
	c.Check(resp.Status, qt.Equals, jsonrpc.Good)
	c.Check(string(resp.Result), qt.Equals, `{"id":"test"}`)
}

func TestLargeFrameIsReassembled(t *testing.T) {
	c := qt.New(t)
	url := newHarness(c)
	conn := dial(c, url)
	defer conn.Close()

	// A name long enough to span multiple readChunkSize-sized Read
	// calls inside the server's fragment pump, so this also exercises
	// the non-zero-copy path of Session.Receive.
	longName := strings.Repeat("a", 9000)
	frame, err := jsonrpc.EncodeRequest(1, "add_filesystem", []byte(`["`+longName+`"]`))
	c.Assert(err, qt.IsNil)
	c.Assert(conn.WriteMessage(websocket.TextMessage, frame), qt.IsNil)

	c.Assert(conn.SetReadDeadline(time.Now().Add(5*time.Second)), qt.IsNil)
	_, data, err := conn.ReadMessage()
	c.Assert(err, qt.IsNil)
	resp := jsonrpc.ParseResponse(data)
	c.Check(resp.Status, qt.Equals, jsonrpc.Good)
	c.Check(string(resp.Result), qt.Equals, `{"id":"`+longName+`"}`)
}
