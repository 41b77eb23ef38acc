package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ChangesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_changes_forwarded_total",
			Help: "Total number of change rows enqueued for publishing by table",
		},
		[]string{"table"},
	)

	CheckpointsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_checkpoints_emitted_total",
			Help: "Total number of cursor checkpoints enqueued by table",
		},
		[]string{"table"},
	)

	StreamRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_stream_restarts_total",
			Help: "Total number of changefeed resubscriptions by table and reason",
		},
		[]string{"table", "reason"},
	)

	PublishedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_published_messages_total",
			Help: "Total number of messages acknowledged by the broker by routing key",
		},
		[]string{"routing_key"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_publish_errors_total",
			Help: "Total number of failed publish attempts by routing key",
		},
		[]string{"routing_key"},
	)

	CursorsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfbridge_cursors_saved_total",
			Help: "Total number of cursors persisted by table",
		},
		[]string{"table"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cfbridge_publish_duration_seconds",
			Help:    "Duration from publish to broker acknowledgement, including reconnects",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"routing_key"},
	)

	BusDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfbridge_bus_depth",
			Help: "Number of bridge events waiting for the publisher",
		},
	)

	// BrokerState reports the broker session state, see broker.State.
	// Values above Connected mean the publisher is degraded.
	BrokerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cfbridge_broker_state",
			Help: "Broker session state (0 absent, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
		},
	)
)

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
	Logger            *zap.Logger
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options
// The server gracefully shutdown when the provided context is canceled
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	// merge with defaults
	effectiveOpts := defaultPrometheusServerOptions()
	logger := zap.L()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		if opts.Logger != nil {
			logger = opts.Logger
		}
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting prometheus metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	// Monitor context cancellation in a separate goroutine
	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
