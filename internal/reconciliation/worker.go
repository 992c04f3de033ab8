// Package reconciliation recomputes stock from the ledger and raises
// low-stock alerts.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ActivityReconciled    = "inventory.reconciled"
	ActivityLowStockSweep = "inventory.low_stock_sweep"
)

type Notifier interface {
	Notify(ctx context.Context, opts notification.Options) error
}

type Result struct {
	inventory.Reconciliation
	Threshold int  `json:"threshold"`
	LowStock  bool `json:"low_stock"`
}

type Failure struct {
	ProductID string `json:"product_id"`
	Error     string `json:"error"`
}

type Summary struct {
	Total     int                         `json:"total"`
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
	LowStock  []notification.LowStockItem `json:"low_stock"`
	Failures  []Failure                   `json:"failures,omitempty"`
}

type SweepResult struct {
	Checked  int                         `json:"checked"`
	Failed   int                         `json:"failed"`
	LowStock []notification.LowStockItem `json:"low_stock"`
	Alerted  int                         `json:"alerted"`
}

type Worker struct {
	ledger     *inventory.Service
	catalog    *product.Service
	activities store.ActivityStore
	notifier   Notifier
	cfg        config.InventoryConfig
	recipients []string
	now        func() time.Time
	log        zerolog.Logger
}

// New builds a worker. Alerts go to cfg.AlertRecipients, or to adminEmails
// when none are configured.
func New(
	ledger *inventory.Service,
	catalog *product.Service,
	activities store.ActivityStore,
	notifier Notifier,
	cfg config.InventoryConfig,
	adminEmails []string,
) *Worker {
	recipients := cfg.AlertRecipients
	if len(recipients) == 0 {
		recipients = adminEmails
	}
	return &Worker{
		ledger:     ledger,
		catalog:    catalog,
		activities: activities,
		notifier:   notifier,
		cfg:        cfg,
		recipients: recipients,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logging.Component("reconciliation"),
	}
}

// ReconcileAll reconciles every product. Only failing to list products fails
// the run. On cancellation the partial summary is returned with the error.
func (w *Worker) ReconcileAll(ctx context.Context) (*Summary, error) {
	products, err := w.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	summary := &Summary{Total: len(products), LowStock: []notification.LowStockItem{}}
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			w.log.Warn().Err(err).
				Int("total", summary.Total).
				Int("succeeded", summary.Succeeded).
				Int("failed", summary.Failed).
				Msg("reconciliation interrupted")
			return summary, err
		}
		res, err := w.reconcile(ctx, &p)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{ProductID: p.ID, Error: err.Error()})
			metrics.ReconciledProducts.WithLabelValues("failed").Inc()
			w.log.Error().Err(err).Str("product_id", p.ID).Msg("reconcile product failed")
			continue
		}
		summary.Succeeded++
		if res.LowStock {
			summary.LowStock = append(summary.LowStock, lowStockItem(&p, res.CalculatedStock, res.Threshold))
		}
	}
	metrics.LowStockProducts.Set(float64(len(summary.LowStock)))

	w.log.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("low_stock", len(summary.LowStock)).
		Msg("reconciliation finished")
	return summary, nil
}

func (w *Worker) ReconcileProduct(ctx context.Context, productID string) (*Result, error) {
	p, err := w.catalog.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	res, err := w.reconcile(ctx, p)
	if err != nil {
		metrics.ReconciledProducts.WithLabelValues("failed").Inc()
		return nil, err
	}
	return res, nil
}

func (w *Worker) reconcile(ctx context.Context, p *product.Product) (*Result, error) {
	rec, err := w.ledger.Reconcile(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	threshold := w.cfg.ThresholdFor(p.Category)
	res := &Result{
		Reconciliation: *rec,
		Threshold:      threshold,
		LowStock:       rec.CalculatedStock <= threshold,
	}

	if err := w.record(ctx, ActivityReconciled, p.ID, res); err != nil {
		return nil, err
	}
	if rec.Drift != 0 {
		metrics.ReconciledProducts.WithLabelValues("drift").Inc()
	} else {
		metrics.ReconciledProducts.WithLabelValues("ok").Inc()
	}

	if res.LowStock {
		content := notification.LowStock(lowStockItem(p, rec.CalculatedStock, threshold))
		w.alert(ctx, "low-stock:"+p.ID+":"+w.today(), content, map[string]string{"product_id": p.ID})
	}
	return res, nil
}

// LowStockSweep checks every product and sends one digest per recipient when
// any product is at or under its threshold.
func (w *Worker) LowStockSweep(ctx context.Context) (*SweepResult, error) {
	products, err := w.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	result := &SweepResult{LowStock: []notification.LowStockItem{}}
	for _, p := range products {
		stock, err := w.ledger.CurrentStock(ctx, p.ID)
		if err != nil {
			result.Failed++
			w.log.Error().Err(err).Str("product_id", p.ID).Msg("low-stock check failed")
			continue
		}
		result.Checked++
		if threshold := w.cfg.ThresholdFor(p.Category); stock <= threshold {
			result.LowStock = append(result.LowStock, lowStockItem(&p, stock, threshold))
		}
	}
	metrics.LowStockProducts.Set(float64(len(result.LowStock)))

	if len(result.LowStock) > 0 {
		date := w.today()
		content := notification.LowStockDigest(result.LowStock, date)
		result.Alerted = w.alert(ctx, "low-stock-digest:"+date, content, map[string]string{"date": date})
	}

	if err := w.record(ctx, ActivityLowStockSweep, "", result); err != nil {
		w.log.Warn().Err(err).Msg("record sweep activity failed")
	}
	w.log.Info().
		Int("checked", result.Checked).
		Int("low_stock", len(result.LowStock)).
		Int("alerted", result.Alerted).
		Msg("low-stock sweep finished")
	return result, nil
}

// alert enqueues content for every recipient and returns how many were
// accepted. Keys get a recipient suffix only when there is more than one.
func (w *Worker) alert(ctx context.Context, key string, content notification.Content, meta map[string]string) int {
	if len(w.recipients) == 0 {
		w.log.Warn().Str("key", key).Msg("no low-stock alert recipients configured")
		return 0
	}
	sent := 0
	for _, to := range w.recipients {
		k := key
		if len(w.recipients) > 1 {
			k += ":" + to
		}
		err := w.notifier.Notify(ctx, notification.Options{
			Type:      notification.ChannelEmail,
			Recipient: to,
			Subject:   content.Subject,
			Message:   content.Body,
			Metadata:  meta,
			Key:       k,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("key", k).Msg("failed to enqueue low-stock alert")
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) record(ctx context.Context, kind, subjectID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s activity: %w", kind, err)
	}
	return w.activities.RecordActivity(ctx, &readmodel.Activity{
		ID:        uuid.New().String(),
		Type:      kind,
		SubjectID: subjectID,
		Payload:   raw,
		CreatedAt: w.now(),
	})
}

func (w *Worker) today() string {
	return w.now().Format(time.DateOnly)
}

func lowStockItem(p *product.Product, stock, threshold int) notification.LowStockItem {
	return notification.LowStockItem{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Stock:     stock,
		Threshold: threshold,
	}
}
