package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsShutdownWait = 5 * time.Second

// MetricsServer serves the Prometheus scrape endpoint plus a liveness probe.
type MetricsServer struct {
	mux    *http.ServeMux
	srv    *http.Server
	logger Logger
}

// NewMetricsServer builds the scrape endpoint server. Metrics registered
// through the observability package land on the default registry, which is
// what the /metrics handler exposes.
func NewMetricsServer(address string, logger Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &MetricsServer{
		mux:    mux,
		srv:    &http.Server{Addr: address, Handler: mux},
		logger: logger,
	}
}

// Mount attaches an additional handler to the same listener, so one port
// serves all operator traffic.
func (m *MetricsServer) Mount(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, handler)
}

// Handler returns the HTTP handler for embedding in another server.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (m *MetricsServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	m.logInfo("metrics_server_started", "address", m.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		return m.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server, waiting for in-flight scrapes.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

func (m *MetricsServer) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}
