package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
)

// httpServer serves the ops surface: metrics, readiness, config and the
// status pages.
type httpServer struct {
	services.Service

	addr     string
	server   *http.Server
	listener net.Listener
	logger   log.Logger
}

func newHTTPServer(addr string, handler http.Handler, logger log.Logger) *httpServer {
	s := &httpServer{
		addr: addr,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
		},
		logger: logger,
	}
	s.Service = services.NewBasicService(s.starting, s.running, nil)
	return s
}

func (s *httpServer) starting(_ context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.addr)
	}
	s.listener = listener

	level.Info(s.logger).Log("msg", "http server listening", "addr", listener.Addr())
	return nil
}

func (s *httpServer) running(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
