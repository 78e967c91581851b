package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
)

// MetricsCollector records ledger operations on its own registry. It
// satisfies ledger.Metrics.
type MetricsCollector struct {
	registry             *prometheus.Registry
	operations           *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
	freeToPlan           *prometheus.GaugeVec
	reserved             *prometheus.GaugeVec
	logger               *slog.Logger
	server               *http.Server
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	return &MetricsCollector{
		registry: registry,
		operations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken by a ledger operation, store calls included",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		compensationFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_compensation_failures_total",
			Help: "Operations whose compensating action failed and left the ledger inconsistent",
		}, []string{"operation"}),
		freeToPlan: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_free_to_plan",
			Help: "Signed free-to-plan per account in major units",
		}, []string{"account_id", "currency"}),
		reserved: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_reserved_total",
			Help: "Sum of reservation balances per account in major units",
		}, []string{"account_id", "currency"}),
		logger: logger,
	}
}

func (m *MetricsCollector) ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeRejected
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *MetricsCollector) CompensationFailed(operation string) {
	m.compensationFailures.WithLabelValues(operation).Inc()
}

func (m *MetricsCollector) ObserveAccount(accountID, currency string, reserved, freeToPlan domain.Amount) {
	m.reserved.WithLabelValues(accountID, currency).Set(reserved.Decimal().InexactFloat64())
	m.freeToPlan.WithLabelValues(accountID, currency).Set(freeToPlan.Decimal().InexactFloat64())
}

// ForgetAccount drops the gauges of a deleted account.
func (m *MetricsCollector) ForgetAccount(accountID, currency string) {
	m.reserved.DeleteLabelValues(accountID, currency)
	m.freeToPlan.DeleteLabelValues(accountID, currency)
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

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return m.server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}
	m.logger.Info("Metrics server stopped")
	return nil
}
