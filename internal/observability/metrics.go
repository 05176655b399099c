// Package observability exposes the run counters as Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leasesync/internal/logger"
)

// Metrics holds the counters of a sync run
type Metrics struct {
	Discovered prometheus.Counter
	New        prometheus.Counter
	Obsolete   prometheus.Counter
	Removed    prometheus.Counter
	Inserted   prometheus.Counter
	Skipped    *prometheus.CounterVec // by kind: listing, image
	Clipped    prometheus.Counter
	Images     prometheus.Counter
	Outcomes   *prometheus.CounterVec // by outcome kind
	Retries    *prometheus.CounterVec // by reason
	Batches    prometheus.Counter
	Runs       *prometheus.CounterVec // by result
}

// NewMetrics registers the counters on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "leasesync", Name: name, Help: help})
	}
	vec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "leasesync", Name: name, Help: help}, []string{label})
	}

	m := &Metrics{
		Discovered: counter("discovered_urls_total", "Listing URLs found on the site"),
		New:        counter("new_urls_total", "Discovered URLs not yet stored"),
		Obsolete:   counter("obsolete_urls_total", "Stored URLs no longer on the site"),
		Removed:    counter("removed_listings_total", "Listings deleted as obsolete"),
		Inserted:   counter("inserted_listings_total", "Listings written"),
		Skipped:    vec("skipped_rows_total", "Rows the store rejected", "kind"),
		Clipped:    counter("clipped_values_total", "Listing values truncated to a column limit"),
		Images:     counter("inserted_images_total", "Image rows written"),
		Outcomes:   vec("detail_outcomes_total", "Detail extraction results", "outcome"),
		Retries:    vec("fetch_retries_total", "Fetch retries", "reason"),
		Batches:    counter("write_batches_total", "Committed listing batches"),
		Runs:       vec("runs_total", "Finished runs", "result"),
	}
	if reg != nil {
		reg.MustRegister(
			m.Discovered, m.New, m.Obsolete, m.Removed, m.Inserted, m.Skipped,
			m.Clipped, m.Images, m.Outcomes, m.Retries, m.Batches, m.Runs,
		)
	}
	return m
}

// Retry is a crawler OnRetry hook
func (m *Metrics) Retry(reason string) { m.Retries.WithLabelValues(reason).Inc() }

// Start serves /metrics from g on port until ctx ends
func Start(ctx context.Context, port string, g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logger.Named("metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("port", port).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Info().Str("port", port).Msg("serving /metrics")
}
