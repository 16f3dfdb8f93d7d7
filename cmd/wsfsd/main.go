// Copyright 2024 Canonical Ltd.

package main

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	service "github.com/canonical/go-service"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/wsfs/internal/auth"
	"github.com/canonical/wsfs/internal/mount"
	"github.com/canonical/wsfs/internal/rpcproxy"
	"github.com/canonical/wsfs/internal/transport"
	"github.com/canonical/wsfs/internal/wsfs"
)

func main() {
	ctx, s := service.NewService(context.Background(), os.Interrupt, syscall.SIGTERM)
	s.Go(func() error {
		return start(ctx, s)
	})
	err := s.Wait()

	zapctx.Error(context.Background(), "shutdown", zap.Error(err))
	if _, ok := err.(*service.SignalError); !ok {
		os.Exit(1)
	}
}

// start initialises and runs the wsfsd adapter, following the shape of
// cmd/jimmsrv/main.go's start function in canonical/jimm: environment
// configuration, a service.Service running every goroutine, an
// OnShutdown hook that drains the HTTP server.
func start(ctx context.Context, s *service.Service) error {
	if logLevel := os.Getenv("WSFS_LOG_LEVEL"); logLevel != "" {
		if err := zapctx.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
			zapctx.Error(ctx, "cannot set log level", zap.Error(err))
		}
	}

	addr := os.Getenv("WSFS_LISTEN_ADDR")
	if addr == "" {
		addr = ":8443"
	}

	rpcTimeout := rpcproxy.DefaultTimeout
	if raw := os.Getenv("WSFS_RPC_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err != nil {
			zapctx.Error(ctx, "cannot parse WSFS_RPC_TIMEOUT, using default", zap.Error(err))
		} else {
			rpcTimeout = d
		}
	}

	// mount.NewBookkeepingFactory is the reference Factory shipped with
	// this binary. The kernel filesystem host library that actually
	// registers a mount with the OS is an external collaborator out of
	// scope for this system (spec.md §1); a real deployment supplies
	// its own mount.Factory here.
	protocol := wsfs.New(mount.NewBookkeepingFactory())
	protocol.Authenticators().Register(auth.AnonymousType, anonymousFromEnv(), nil)
	protocol.SetDefaultRPCTimeout(rpcTimeout)

	srv := transport.NewServer(protocol)
	s.Go(func() error { return srv.Run(ctx) })

	mux := chi.NewRouter()
	mux.Mount("/metrics", promhttp.Handler())
	mux.Handle("/fs", srv)

	httpsrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	s.OnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		zapctx.Warn(ctx, "wsfsd shutdown triggered")
		srv.Shutdown()
		_ = httpsrv.Shutdown(ctx)
	})
	s.Go(httpsrv.ListenAndServe)

	zapctx.Info(ctx, "wsfsd listening", zap.String("addr", addr))
	return nil
}

// anonymousFromEnv grants anonymous access unless WSFS_REQUIRE_AUTH is
// set, in which case only registered credential-typed authenticators
// (none by default; embedders add their own) can authenticate a
// session.
func anonymousFromEnv() auth.Predicate {
	if _, ok := os.LookupEnv("WSFS_REQUIRE_AUTH"); ok {
		return func(auth.Credentials, interface{}) bool { return false }
	}
	return func(auth.Credentials, interface{}) bool { return true }
}
