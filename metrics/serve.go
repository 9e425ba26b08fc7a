package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dendrascience/shallfs/journal"
)

const shutdownTimeout = 5 * time.Second

// NewRegistry returns a Prometheus registry holding the journal collector
// and the usual process and Go runtime collectors.
func NewRegistry(reg *journal.Registry) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		NewCollector(reg),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

// Server exposes /metrics over HTTP.
type Server struct {
	listener net.Listener
	server   *http.Server
	log      *logrus.Entry
}

// NewServer listens on addr.
func NewServer(addr string, g prometheus.Gatherer, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	return &Server{
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		log:      log.WithField("metrics", ln.Addr().String()),
	}, nil
}

// Addr returns the address being served.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve answers requests until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(s.listener) }()
	s.log.Info("serving metrics")

	select {
	case err := <-errc:
		return errors.Wrap(err, "metrics server failed")
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "failed to shut down metrics server")
	}
	<-errc
	return nil
}
