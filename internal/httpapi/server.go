// Package httpapi exposes the REST and event-stream surface.
//
// Identity comes from the X-Owner-ID header; authentication itself is the
// fronting proxy's job. Errors use a small JSON envelope with a stable code
// so clients can branch without parsing messages.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"focusgate/internal/notifier"
	"focusgate/internal/storage"
	logx "focusgate/pkg/logx"
)

type Config struct {
	Addr string

	ReadTimeout time.Duration
	// WriteTimeout should stay 0 (disabled): the event stream holds its
	// response open indefinitely.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	store storage.Store
	hub   *notifier.Hub

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, store storage.Store, hub *notifier.Hub, log logx.Logger) *Server {
	return &Server{cfg: cfg, store: store, hub: hub, log: log}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Handler() http.Handler { return s.routes() }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /tasks", s.withOwner(s.handleCreateTask))
	mux.HandleFunc("GET /tasks", s.withOwner(s.handleListTasks))
	mux.HandleFunc("GET /tasks/{id}", s.withOwner(s.handleGetTask))
	mux.HandleFunc("PATCH /tasks/{id}", s.withOwner(s.handlePatchTask))
	mux.HandleFunc("DELETE /tasks/{id}", s.withOwner(s.handleDeleteTask))
	mux.HandleFunc("GET /stats", s.withOwner(s.handleStats))

	mux.HandleFunc("POST /sessions", s.withOwner(s.handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}", s.withOwner(s.handleGetSession))
	mux.HandleFunc("PATCH /sessions/{id}", s.withOwner(s.handlePatchSession))
	mux.HandleFunc("POST /sessions/{id}/capabilities", s.withOwner(s.handleCapabilities))
	mux.HandleFunc("GET /sessions/{id}/proofs", s.withOwner(s.handleListProofs))

	mux.HandleFunc("POST /proof/{sessionId}/{method}", s.withOwner(s.handleSubmitProof))

	mux.HandleFunc("GET /events", s.withOwner(s.handleEvents))

	mux.HandleFunc("POST /push/tokens", s.withOwner(s.handlePutPushToken))
	mux.HandleFunc("DELETE /push/tokens/{token}", s.withOwner(s.handleDeletePushToken))

	return mux
}

func (s *Server) withOwner(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(ownerID(r))
		if owner == "" {
			writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "X-Owner-ID header is required")
			return
		}
		h(w, r, owner)
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	// Close the listener even if Shutdown gets stuck on a hung stream.
	if ln != nil {
		_ = ln.Close()
	}

	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
