// Package metrics exposes controller activity for Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0x6d61/shieldctl/internal/service"
	"github.com/0x6d61/shieldctl/internal/session"
)

const (
	namespace = "shieldctl"

	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Collector turns controller events and poll outcomes into metrics. It
// registers on its own registry so nothing leaks into the global default.
type Collector struct {
	registry *prometheus.Registry

	sessionsTotal *prometheus.CounterVec
	linesTotal    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	pollsTotal    *prometheus.CounterVec
	progress      prometheus.Gauge
	running       prometheus.Gauge
}

// Compile-time check that Collector implements session.Renderer.
var _ session.Renderer = (*Collector)(nil)

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Scan sessions that reached a terminal status, by outcome.",
		}, []string{"outcome"}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Scan output lines rendered, by category.",
		}, []string{"category"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to the user, by kind.",
		}, []string{"kind"}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll ticks, by outcome. Skipped ticks are counted as outcome=\"skipped\".",
		}, []string{"outcome"}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_percent",
			Help:      "Estimated progress of the current session.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_running",
			Help:      "1 while a session is being polled, 0 otherwise.",
		}),
	}

	c.registry.MustRegister(
		c.sessionsTotal,
		c.linesTotal,
		c.errorsTotal,
		c.pollsTotal,
		c.progress,
		c.running,
	)
	return c
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Render(e session.Event) {
	switch e.Kind {
	case session.EventStatus:
		st := e.Session.Status
		switch {
		case st == session.StatusRunning:
			c.running.Set(1)
		case st.IsTerminal():
			c.running.Set(0)
			c.sessionsTotal.WithLabelValues(st.String()).Inc()
		case st == session.StatusIdle, st == session.StatusStarting:
			c.running.Set(0)
			c.progress.Set(0)
		}
	case session.EventLine:
		c.linesTotal.WithLabelValues(e.Line.Category.String()).Inc()
	case session.EventProgress:
		c.progress.Set(e.Session.Progress)
	case session.EventMessage:
		if e.Treatment != session.TreatmentError {
			return
		}
		if e.Session.Halted {
			c.running.Set(0)
		}
		c.errorsTotal.WithLabelValues(errorKind(e.Err)).Inc()
	}
}

// Observe counts one poll tick. Pass it to session.WithPollObserver.
func (c *Collector) Observe(o session.PollOutcome) {
	c.pollsTotal.WithLabelValues(string(o)).Inc()
}

func errorKind(err error) string {
	var (
		verr *session.ValidationError
		terr *service.TransportError
		serr *service.ServiceError
	)
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &terr):
		return "transport"
	case errors.As(err, &serr):
		return "service"
	default:
		return "other"
	}
}

// Handler returns the HTTP handler that serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve listens on addr and serves /metrics until ctx is cancelled. The
// listener is bound before Serve returns, so a bad address fails fast; the
// returned channel yields the server's exit error.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) (net.Addr, <-chan error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
			errc <- err
		}
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	return ln.Addr(), errc, nil
}
