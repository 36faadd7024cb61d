package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server wraps http.Server so cmd can shut it down gracefully.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, r *Router) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
