// Package gateway serves the websocket duplex channel and the REST surface
// over one HTTP listener. Each websocket connection gets a dedicated store
// session and its own orchestrator; envelopes are written atomically under a
// per-connection mutex.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/projectx/agentx/internal/agent"
	"github.com/projectx/agentx/internal/config"
	"github.com/projectx/agentx/internal/store"
)

// Server is the gateway handling websocket and HTTP connections.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	factory   agent.StepperFactory
	compactor *agent.Compactor

	upgrader websocket.Upgrader
	manager  *Manager

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway over the shared store. The compactor may be nil
// to disable history summarization.
func NewServer(cfg *config.Config, st *store.Store, factory agent.StepperFactory, compactor *agent.Compactor) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		factory:   factory,
		compactor: compactor,
		manager:   NewManager(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the upgrade origin against the allowed origins list.
// No configured origins allows all. An empty Origin header (CLI and SDK
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messaging/ws", s.handleWebSocket)
	mux.HandleFunc("GET /messaging/conversations", s.handleListConversations)
	mux.HandleFunc("GET /messaging/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("DELETE /messaging/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.BuildMux(),
	}

	slog.Info("gateway starting", "addr", s.cfg.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the connection and runs its read loop until the
// peer disconnects or a turn fails fatally.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	session, err := s.store.Acquire(r.Context())
	if err != nil {
		slog.Error("store session acquire failed", "error", err)
		conn.Close()
		return
	}

	client := NewClient(conn, session, NewFrameLimiter(s.cfg.RateLimitRPM), s.manager)
	orch := agent.NewOrchestrator(session, client, s.factory, s.compactor)
	if s.cfg.MaxSteps > 0 {
		orch.MaxSteps = s.cfg.MaxSteps
	}
	if s.cfg.ToolRetryBudget > 0 {
		orch.RetryBudget = s.cfg.ToolRetryBudget
	}

	s.manager.Register(client)
	defer func() {
		s.manager.Unregister(client)
		client.Close()
	}()

	client.Run(r.Context(), orch)
}

// StartTestServer listens on a random loopback port and returns the address
// and a start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
