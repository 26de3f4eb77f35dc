// Package debugserver exposes the client's metrics and current view over
// HTTP for local inspection.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/client"
	"github.com/whisper/chat-client/internal/metrics"
)

// StateFunc returns the snapshot served on /state.
type StateFunc func() client.View

// Server serves /metrics, /state and /healthz.
type Server struct {
	httpServer *http.Server
	startedAt  time.Time
	state      StateFunc
}

// New creates a Server listening on addr once Start is called.
func New(addr string, state StateFunc) *Server {
	s := &Server{state: state}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/state", s.handleState)
	r.Get("/healthz", s.handleHealth)
	return r
}

// Start listens in the background. It returns once the listener is bound,
// along with the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("debugserver: listen: %w", err)
	}
	s.startedAt = time.Now()
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("[debug] server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("[debug] listening")
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var v client.View
	if s.state != nil {
		v = s.state()
	}
	resp := struct {
		ChatID       string `json:"chat_id"`
		Epoch        uint64 `json:"epoch"`
		Channel      string `json:"channel"`
		Loaded       bool   `json:"loaded"`
		Failed       bool   `json:"history_failed"`
		MessageCount int    `json:"message_count"`
		ChatCount    int    `json:"chat_count"`
	}{
		ChatID:       v.ChatID,
		Epoch:        v.Epoch,
		Channel:      v.Channel,
		Loaded:       v.Loaded,
		Failed:       v.Failed,
		MessageCount: len(v.Messages),
		ChatCount:    len(v.Chats),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}
