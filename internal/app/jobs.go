package app

import (
	"context"
	"errors"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/fulfillment"
	"github.com/example/ec-fulfillment/internal/jobs"
	"github.com/example/ec-fulfillment/internal/notification"
)

// RegisterJobs binds every job type to the service that runs it.
func (a *App) RegisterJobs(w *jobs.Worker) {
	notifier := notification.NewHandler(a.Notifications)

	w.Handle(jobs.TypeNotificationSend, func(ctx context.Context, env jobs.Envelope) error {
		return notifier.HandlePayload(ctx, env.Payload)
	})
	w.Handle(jobs.TypeInventoryReconcile, a.reconcileJob)
	w.Handle(jobs.TypeLowStockSweep, a.lowStockJob)
	w.Handle(jobs.TypeShipmentSync, a.shipmentSyncJob)
	w.Handle(jobs.TypeShipmentSyncAll, a.shipmentSyncAllJob)
}

func (a *App) reconcileJob(ctx context.Context, env jobs.Envelope) error {
	var p jobs.ReconcilePayload
	if err := env.Decode(&p); err != nil {
		return a.drop(env, err)
	}

	if p.ProductID != "" {
		_, err := a.Reconciler.ReconcileProduct(ctx, p.ProductID)
		if errors.Is(err, product.ErrProductNotFound) {
			return a.drop(env, err)
		}
		return err
	}

	summary, err := a.Reconciler.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	a.log.Info().
		Int("total", summary.Total).
		Int("failed", summary.Failed).
		Int("low_stock", len(summary.LowStock)).
		Msg("inventory reconciled")
	return nil
}

func (a *App) lowStockJob(ctx context.Context, env jobs.Envelope) error {
	res, err := a.Reconciler.LowStockSweep(ctx)
	if err != nil {
		return err
	}
	a.log.Info().Int("checked", res.Checked).Int("low_stock", len(res.LowStock)).Int("alerted", res.Alerted).Msg("low stock sweep done")
	return nil
}

func (a *App) shipmentSyncJob(ctx context.Context, env jobs.Envelope) error {
	var p jobs.ShipmentSyncPayload
	if err := env.Decode(&p); err != nil {
		return a.drop(env, err)
	}

	_, err := a.Orchestrator.SyncShipmentStatus(ctx, p.OrderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrInvalidTransition),
		fulfillment.IsValidation(err):
		return a.drop(env, err)
	default:
		return err
	}
}

func (a *App) shipmentSyncAllJob(ctx context.Context, env jobs.Envelope) error {
	summary, err := a.Orchestrator.SyncAllActiveShipments(ctx)
	if err != nil {
		return err
	}
	a.log.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("changed", summary.Changed).
		Msg("shipments synced")
	return nil
}

// drop acknowledges a job that can never succeed. Retrying it would only
// delay the poison topic.
func (a *App) drop(env jobs.Envelope, err error) error {
	a.log.Warn().Err(err).Str("job_id", env.ID).Str("type", string(env.Type)).Msg("dropping job")
	return nil
}
