// Package metrics exposes Prometheus counters for recording and export.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// NotificationsTotal counts notifications received, by characteristic.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycle_notifications_total",
			Help: "Total number of sensor notifications received",
		},
		[]string{"characteristic"},
	)

	SamplesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_samples_stored_total",
			Help: "Total number of raw samples written to storage",
		},
	)

	// StorageErrorsTotal counts failed storage operations, by operation.
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycle_storage_errors_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"operation"},
	)

	UnknownCharacteristicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_unknown_characteristics_total",
			Help: "Total number of stored samples skipped for an unknown characteristic",
		},
	)

	ExportedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_exported_records_total",
			Help: "Total number of per-second records exported",
		},
	)

	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cycle_export_duration_seconds",
			Help:    "Session export duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// RelayPublishedTotal counts updates relayed, by result.
	RelayPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycle_relay_published_total",
			Help: "Total number of live updates published to the relay",
		},
		[]string{"result"},
	)

	DroppedUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_dropped_updates_total",
			Help: "Total number of live updates dropped because a listener was full",
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics: serving", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
