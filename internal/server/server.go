// Package server exposes the loopback-only HTTP + WebSocket control
// surface that frontends and the CLI talk to. It binds 127.0.0.1 only --
// there is no auth model because nothing outside localhost can reach it.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

// Server wraps an *http.Server bound to loopback, grounded on the
// teacher's Server/WebServer pair (internal/server/server.go, web.go) but
// collapsed into one net/http.ServeMux-routed server since there's a
// single JSON+WebSocket surface here, not a legacy binary protocol plus a
// separate extension-capture server.
type Server struct {
	port    int
	log     *log.Logger
	mgr     *dlcore.Manager
	server  *http.Server
	bgCtx   context.Context // outlives any single request; used for download starts
}

// New builds a Server bound to the given port on loopback only.
func New(logger *log.Logger, mgr *dlcore.Manager, port int) *Server {
	s := &Server{port: port, log: logger, mgr: mgr, bgCtx: context.Background()}
	mux := http.NewServeMux()
	s.routes(mux)
	s.server = &http.Server{
		Handler:      loopbackOnly(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /ws and long-poll-style responses outlive this
	}
	return s
}

// loopbackOnly rejects any request whose RemoteAddr isn't 127.0.0.1 or ::1,
// as a second line of defense behind the loopback-only listener: a
// misconfigured reverse proxy or a future ListenAll-style option must never
// let a non-local peer reach the engine.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens on 127.0.0.1:port and serves until ctx is cancelled. A
// download started through the resume endpoint keeps running after its
// triggering HTTP request completes, so its supervisor is rooted in ctx,
// not the request's own context.
func (s *Server) Start(ctx context.Context) error {
	s.bgCtx = ctx
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on loopback:%d: %w", s.port, err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()
	if s.log != nil {
		s.log.Printf("control server listening on %s", ln.Addr())
	}
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
