package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricsEndpoint = "/metrics"

// Server serves the harness metrics on /metrics while a run is in progress.
type Server struct {
	server *http.Server
	log    zerolog.Logger
	addr   net.Addr
	done   chan struct{}
}

// NewServer creates a server for the given port, 0 picks a free one. A nil
// gatherer serves the prometheus default registry.
func NewServer(log zerolog.Logger, port uint, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := mux.NewRouter().StrictSlash(true)
	router.Handle(metricsEndpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:              ":" + strconv.Itoa(int(port)),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log:  log.With().Str("component", "metrics_server").Logger(),
		done: make(chan struct{}),
	}
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.server.Addr, err)
	}
	s.addr = listener.Addr()
	s.log.Info().Str("address", s.addr.String()).Str("endpoint", metricsEndpoint).Msg("metrics server started")

	go func() {
		defer close(s.done)
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			s.log.Debug().Msg("metrics server shutdown")
			return
		}
		s.log.Err(err).Msg("metrics server failed")
	}()
	return nil
}

// Addr is the address the server listens on, nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops the server, waiting up to timeout for open requests.
func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("metrics server did not shut down cleanly")
	}
	if s.addr != nil {
		<-s.done
	}
}
