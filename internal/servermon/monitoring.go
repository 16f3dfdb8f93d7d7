// Copyright 2024 Canonical Ltd.

// Package servermon collects the prometheus metrics exported by the
// bridge, following the same "package-level collector variables,
// registered once at startup" pattern the original monitoring package
// used for jem's API server health metrics.
package servermon

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConcurrentWebsocketConnections tracks the number of live
	// sessions, incremented on ESTABLISHED and decremented on CLOSED.
	ConcurrentWebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wsfs",
		Subsystem: "server",
		Name:      "concurrent_websocket_connections",
		Help:      "The current number of open WebSocket sessions.",
	})

	// AuthenticationFailCount counts rejected authenticate calls.
	AuthenticationFailCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wsfs",
		Subsystem: "auth",
		Name:      "authentication_fail",
		Help:      "The number of failed authenticate calls.",
	})

	// AuthenticationSuccessCount counts accepted authenticate calls,
	// including the implicit anonymous authentication on ESTABLISHED.
	AuthenticationSuccessCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wsfs",
		Subsystem: "auth",
		Name:      "authentication_success",
		Help:      "The number of successful authenticate calls.",
	})

	// PendingRPCCount tracks the total number of in-flight outbound RPC
	// calls across all sessions.
	PendingRPCCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wsfs",
		Subsystem: "rpc",
		Name:      "pending_count",
		Help:      "The current number of in-flight outbound RPC calls across all sessions.",
	})

	// RPCTimeoutCount counts outbound RPC calls resolved by timeout
	// rather than by response.
	RPCTimeoutCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wsfs",
		Subsystem: "rpc",
		Name:      "timeout_count",
		Help:      "The number of outbound RPC calls that timed out.",
	})

	// FilesystemsRegistered tracks the number of filesystems currently
	// registered across all sessions.
	FilesystemsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wsfs",
		Subsystem: "server",
		Name:      "filesystems_registered",
		Help:      "The current number of registered remote filesystems across all sessions.",
	})
)

func init() {
	prometheus.MustRegister(
		ConcurrentWebsocketConnections,
		AuthenticationFailCount,
		AuthenticationSuccessCount,
		PendingRPCCount,
		RPCTimeoutCount,
		FilesystemsRegistered,
	)
}
