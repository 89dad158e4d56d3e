// Package relay is a development server for the collaboration protocol. It
// keeps everything in memory: per-room topic fan-out, the room roster and
// chat timestamps. It is meant for local runs and tests.
package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server wires HTTP routes to the hub.
type Server struct {
	hub      *Hub
	clock    clock.Clock
	token    string
	logger   zerolog.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

// Option customizes a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on /ws.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithClock sets the clock used for chat timestamps.
func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

// NewServer constructs a Server with its own metrics registry.
func NewServer(opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		logger:   zerolog.Nop(),
		metrics:  NewMetrics(reg),
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.clock, s.logger, s.metrics)
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router exposes /ws, /health and /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rooms, users := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "rooms": rooms, "users": users})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("upgrade websocket")
		return
	}

	p := newPeer(uuid.NewString(), conn, s.hub, s.logger)
	s.metrics.addConnections(1)
	s.logger.Debug().Str("peer", p.id).Str("remote", r.RemoteAddr).Msg("peer connected")
	p.run()
	s.metrics.addConnections(-1)
	s.logger.Debug().Str("peer", p.id).Msg("peer disconnected")
}
