package api

import (
	"net/http"
	"time"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	// RateLimit is requests per minute per client IP on /api. Zero disables it.
	RateLimit int
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Observe)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}
		r.Use(middleware.Actor)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", handlers.ListProducts)
			r.Post("/", handlers.CreateProduct)
			r.Put("/{id}/prices/{currency}", handlers.SetPrice)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/reconcile", handlers.ReconcileAll)
			r.Post("/low-stock-sweep", handlers.LowStockSweep)
			r.Get("/{id}", handlers.GetStock)
			r.Post("/{id}/adjustments", handlers.RecordAdjustment)
			r.Get("/{id}/history", handlers.StockHistory)
			r.Post("/{id}/reconcile", handlers.ReconcileProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", handlers.ListOrders)
			r.Post("/", handlers.PlaceOrder)
			r.Get("/{id}", handlers.GetOrder)
			r.Get("/{id}/history", handlers.OrderHistory)
			r.Patch("/{id}/status", handlers.UpdateStatus)
			r.Post("/{id}/shipment", handlers.CreateShipment)
			r.Post("/{id}/shipment/sync", handlers.SyncShipment)
		})

		r.Post("/shipments/sync", handlers.SyncAllShipments)
		r.Get("/notifications", handlers.ListNotifications)
	})

	return r
}
