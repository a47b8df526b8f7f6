package metrics

import (
	"autosave/internal/domain"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type MetricsCollector struct {
	registry            *prometheus.Registry
	roundUpsTriggered   *prometheus.CounterVec
	roundUpsSettled     *prometheus.CounterVec
	capRejections       *prometheus.CounterVec
	roundUpAmount       prometheus.Histogram
	destinationDuration *prometheus.HistogramVec
	goalsCompleted      prometheus.Counter
	apiRequests         *prometheus.CounterVec
	logger              *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		roundUpsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosave_roundups_triggered_total",
			Help: "Round-ups created, by trigger type",
		}, []string{"trigger_type"}),
		roundUpsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosave_roundups_settled_total",
			Help: "Round-ups that reached a terminal status",
		}, []string{"destination_type", "status"}),
		capRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosave_cap_rejections_total",
			Help: "Firings suppressed by a rule's daily cap",
		}, []string{"trigger_type"}),
		roundUpAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autosave_roundup_amount",
			Help:    "Distribution of siphoned amounts",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
		}),
		destinationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autosave_destination_duration_seconds",
			Help:    "Time taken to move funds to a destination",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination_type"}),
		goalsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "autosave_goals_completed_total",
			Help: "Savings goals that reached their target",
		}),
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autosave_api_requests_total",
			Help: "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),
		logger: logger,
	}
}

func (m *MetricsCollector) RecordRoundUpTriggered(trigger domain.TriggerType, amount decimal.Decimal) {
	m.roundUpsTriggered.WithLabelValues(string(trigger)).Inc()
	f, _ := amount.Float64()
	m.roundUpAmount.Observe(f)
}

func (m *MetricsCollector) RecordRoundUpSettled(dest domain.DestinationType, status domain.RoundUpStatus, duration time.Duration) {
	m.roundUpsSettled.WithLabelValues(string(dest), string(status)).Inc()
	m.destinationDuration.WithLabelValues(string(dest)).Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordCapRejection(trigger domain.TriggerType) {
	m.capRejections.WithLabelValues(string(trigger)).Inc()
}

func (m *MetricsCollector) RecordGoalCompleted() {
	m.goalsCompleted.Inc()
}

func (m *MetricsCollector) RecordAPIRequest(route string, code int) {
	m.apiRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}
