// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger
	StockAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_adjustments_total",
			Help: "Stock adjustments by outcome (recorded, rejected, conflict)",
		},
		[]string{"result"},
	)

	// Orders
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions by source, target and outcome",
		},
		[]string{"from", "to", "result"},
	)

	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Order placements by outcome",
		},
		[]string{"result"},
	)

	// Shipments
	ShipmentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipments_created_total",
			Help: "Shipment creation attempts by outcome",
		},
		[]string{"result"},
	)

	ShipmentSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_syncs_total",
			Help: "Per-order tracking syncs (changed, unchanged, failed)",
		},
		[]string{"result"},
	)

	LogisticsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logistics_request_duration_seconds",
			Help:    "Latency of logistics provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification send attempts by channel, provider and outcome",
		},
		[]string{"channel", "provider", "result"},
	)

	NotificationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_fallbacks_total",
			Help: "Sends that moved on to a fallback provider",
		},
		[]string{"channel"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Reconciliation
	ReconciledProducts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_products_total",
			Help: "Per-product reconciliation outcomes",
		},
		[]string{"result"},
	)

	LowStockProducts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "low_stock_products",
			Help: "Products at or below their low-stock threshold at the last evaluation",
		},
	)

	// Jobs
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Job executions by type and outcome (ok, error, duplicate)",
		},
		[]string{"type", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"type"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Jobs published to the queue by type and outcome",
		},
		[]string{"type", "result"},
	)

	SchedulerTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_triggers_total",
			Help: "Cron entry firings by entry and outcome",
		},
		[]string{"entry", "result"},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
