package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kubev2v/proxmox-manager/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// uniqueUsersWindow is the period over which distinct task submitters are counted.
const uniqueUsersWindow = 7 * 24 * time.Hour

// MetricServer exposes the default prometheus registry on /metrics.
type MetricServer struct {
	listener net.Listener
	srv      *http.Server
	log      *zap.SugaredLogger
}

func NewMetricServer(bindAddress string, listener net.Listener) *MetricServer {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return &MetricServer{
		listener: listener,
		srv:      &http.Server{Addr: bindAddress, Handler: router},
		log:      zap.S().Named("metrics_server"),
	}
}

func (m *MetricServer) Run(ctx context.Context) error {
	go m.resetUniqueUsers(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.srv.SetKeepAlivesEnabled(false)
		_ = m.srv.Shutdown(shutdownCtx)
		m.log.Info("metrics server terminated")
	}()

	m.log.Infof("serving metrics: %s", m.srv.Addr)
	err := m.srv.Serve(m.listener)
	if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MetricServer) resetUniqueUsers(ctx context.Context) {
	ticker := time.NewTicker(uniqueUsersWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UniqueTaskUsersPerWeek.Reset()
			m.log.Debug("unique task users reset")
		}
	}
}
