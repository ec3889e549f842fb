package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeStreams     prometheus.Gauge
	storeOpDuration   *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	votesTotal        *prometheus.CounterVec
	voteConflicts     prometheus.Counter
	broadcastsTotal   *prometheus.CounterVec
	attachmentsStored *prometheus.CounterVec
	attachmentBytes   *prometheus.CounterVec
	releaseFailures   *prometheus.CounterVec
	logger            *zap.Logger
}

// NewMetrics creates the forum collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, logger *zap.Logger) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forum_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "forum_realtime_active_streams",
				Help: "Number of connected realtime clients",
			},
		),
		storeOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forum_store_operation_duration_seconds",
				Help:    "Message store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_store_errors_total",
				Help: "Total number of failed message store operations",
			},
			[]string{"operation"},
		),
		votesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_poll_votes_total",
				Help: "Total number of poll vote requests by outcome",
			},
			[]string{"mode", "outcome"},
		),
		voteConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "forum_poll_version_conflicts_total",
				Help: "Total number of optimistic poll update conflicts",
			},
		),
		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_realtime_deliveries_total",
				Help: "Total number of realtime event deliveries by result",
			},
			[]string{"event_type", "result"},
		),
		attachmentsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_attachments_stored_total",
				Help: "Total number of stored attachments",
			},
			[]string{"kind"},
		),
		attachmentBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_attachment_bytes_total",
				Help: "Total number of attachment bytes written",
			},
			[]string{"kind"},
		),
		releaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forum_attachment_release_failures_total",
				Help: "Total number of attachments that could not be removed",
			},
			[]string{"kind"},
		),
		logger: logger,
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeStreams,
		m.storeOpDuration,
		m.storeErrors,
		m.votesTotal,
		m.voteConflicts,
		m.broadcastsTotal,
		m.attachmentsStored,
		m.attachmentBytes,
		m.releaseFailures,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Instrument wraps an HTTP handler with request count and latency metrics
// under a fixed route label.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

func (m *Metrics) RecordStoreOp(operation string, duration time.Duration, err error) {
	m.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordVote(mode, outcome string) {
	m.votesTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordVoteConflict() {
	m.voteConflicts.Inc()
}

func (m *Metrics) RecordDelivery(eventType string, delivered, dropped int) {
	if delivered > 0 {
		m.broadcastsTotal.WithLabelValues(eventType, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		m.broadcastsTotal.WithLabelValues(eventType, "dropped").Add(float64(dropped))
	}
}

func (m *Metrics) RecordAttachmentStored(kind string, size int64) {
	m.attachmentsStored.WithLabelValues(kind).Inc()
	m.attachmentBytes.WithLabelValues(kind).Add(float64(size))
}

func (m *Metrics) RecordAttachmentReleaseFailure(kind string) {
	m.releaseFailures.WithLabelValues(kind).Inc()
}

// Start serves gatherer on /metrics until ctx is cancelled.
func (m *Metrics) Start(ctx context.Context, port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("metrics server starting", zap.Int("port", port))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
