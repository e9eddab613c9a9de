// Package web serves the HTTP status API and the live event stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mbocsi/pixtouch/app"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	coord *app.Coordinator
}

func NewServer(coord *app.Coordinator) *Server {
	return &Server{coord: coord}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/status", s.HandleStatus)
	r.Post("/api/connection/connect", s.HandleConnect)
	r.Post("/api/connection/disconnect", s.HandleDisconnect)
	r.Route("/api/slots/{group}", func(r chi.Router) {
		r.Get("/", s.HandleSlots)
		r.Get("/{index}", s.HandleSlot)
		r.Put("/{index}", s.HandleBind)
		r.Post("/{index}/delta", s.HandleDelta)
		r.Post("/{index}/value", s.HandleValue)
		r.Post("/{index}/reset", s.HandleReset)
	})
	r.Post("/api/invoke", s.HandleInvoke)
	r.Get("/ws", s.HandleEvents)
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", l.Addr().String())
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "addr", l.Addr().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown", "error", err)
		srv.Close()
	}
	return nil
}
