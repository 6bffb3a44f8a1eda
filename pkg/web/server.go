package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/pkg/chat"
	"github.com/harun/multichat/pkg/imaging"
)

// DefaultAddr is the listen address used when none is configured
const DefaultAddr = "127.0.0.1:8501"

// Config holds server configuration
type Config struct {
	Addr         string
	Chat         *chat.Service
	Broadcaster  *EventBroadcaster
	ModelTimeout time.Duration // zero means the model call has no deadline
	Logger       *zerolog.Logger
}

// Server serves the chat UI, the JSON API and the event feed
type Server struct {
	addr         string
	chat         *chat.Service
	broadcaster  *EventBroadcaster
	modelTimeout time.Duration
	logger       zerolog.Logger
	upgrader     websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a new Server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ModelTimeout < 0 {
		cfg.ModelTimeout = 0
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "web").Logger()

	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster(logger)
	}

	return &Server{
		addr:         cfg.Addr,
		chat:         cfg.Chat,
		broadcaster:  broadcaster,
		modelTimeout: cfg.ModelTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}, nil
}

// Handler returns the HTTP handler with every route registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /{$}", s.handleIndex)
	s.route(mux, "GET /api/sessions", s.handleListSessions)
	s.route(mux, "POST /api/sessions", s.handleCreateSession)
	s.route(mux, "GET /api/sessions/{name}", s.handleGetSession)
	s.route(mux, "DELETE /api/sessions/{name}", s.handleDeleteSession)
	s.route(mux, "POST /api/sessions/{name}/clear", s.handleClearSession)
	s.route(mux, "POST /api/sessions/{name}/messages", s.handleSubmit)
	s.route(mux, "GET /api/sessions/{name}/turns/{turn}/images/{idx}", s.handleImage)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting web server")

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Web server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server and disconnects event clients
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info().Msg("Shutting down web server")
	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, client := range s.broadcaster.Clients().GetAll() {
		client.Close()
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Web server stopped")
	return nil
}

// handleWebSocket registers a client on the event feed until it disconnects
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
		conn:        conn,
	}
	s.broadcaster.Clients().Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	defer func() {
		conn.Close()
		s.broadcaster.Clients().Remove(clientID)
		s.logger.Info().Str("clientId", clientID).Msg("Client disconnected")
	}()

	hello, _ := jsonBytes(EventMessage{
		Event:     "connected",
		Data:      map[string]any{"client_id": clientID, "sessions": s.chat.Sessions()},
		Timestamp: time.Now().UnixMilli(),
	})
	if err := client.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", clientID).Msg("WebSocket error")
			}
			return
		}
	}
}

// sameOrigin accepts requests without an Origin header or whose Origin host matches the request host
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originHost(origin) == r.Host
}

// maxSubmitBytes bounds a multipart submit body
const maxSubmitBytes = imaging.MaxImagesPerTurn*imaging.MaxImageSize + 1<<20
