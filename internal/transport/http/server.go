package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"chatvoice/internal/platform/logging"
)

const shutdownTimeout = 5 * time.Second

// Server serves the control API until its context ends.
type Server struct {
	addr    string
	handler http.Handler
	logger  *logging.Logger
}

func NewServer(ip string, port int, handler http.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Server{
		addr:    net.JoinHostPort(ip, strconv.Itoa(port)),
		handler: handler,
		logger:  logger,
	}
}

func (s *Server) Addr() string {
	return s.addr
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), shutdownTimeout, context.Cause(ctx))
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.InfoTag("HTTP", "listening on http://%s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
