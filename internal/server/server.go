// Package server is the WebSocket front-end: it serves the web UI, forwards
// client commands to a CommandHandler and broadcasts status to every client.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CommandHandler defines the interface for handling client commands.
type CommandHandler interface {
	Handle(msg Message, hub *Hub)
}

// SyncFunc returns the messages sent to a client right after it connects.
type SyncFunc func() []Message

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub         *Hub
	handler     CommandHandler
	initialSync SyncFunc
	httpServer  *http.Server
	logger      zerolog.Logger

	staticFilesDir string
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer creates a new server instance and starts its hub.
func NewServer(port, staticFilesDir string, allowedOrigins []string, initialSync SyncFunc) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:            hub,
		initialSync:    initialSync,
		logger:         log.With().Str("component", "server").Logger(),
		staticFilesDir: staticFilesDir,
		allowedOrigins: allowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				s.logger.Warn().Msg("WebSocket CheckOrigin is disabled.")
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			s.logger.Warn().Str("origin", origin).Msg("WebSocket connection blocked: origin not in allowed list.")
			return false
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(s.staticFilesDir)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: ":" + port, Handler: mux}

	return s
}

// SetHandler sets the command handler.
func (s *Server) SetHandler(h CommandHandler) {
	s.handler = h
}

// Handler returns the HTTP handler serving the UI and the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	if s.initialSync != nil {
		for _, msg := range s.initialSync() {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}

	s.Hub.Register(conn)
	defer s.Hub.Unregister(conn)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if s.handler != nil {
			s.handler.Handle(Message{Raw: msgBytes}, s.Hub)
		}
	}
}
