package inventory

import "time"

const EventStockAdjusted = "StockAdjusted"

// StockAdjusted is the only event written to an inventory stream. Delta is
// signed: receipts are positive, sales and write-offs negative.
type StockAdjusted struct {
	ProductID string    `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Common adjustment reasons.
const (
	ReasonRestock        = "restock"
	ReasonSale           = "sale"
	ReasonOrderPlaced    = "order_placed"
	ReasonOrderRollback  = "order_rollback"
	ReasonOrderCancelled = "order_cancelled"
	ReasonOrderRefunded  = "order_refunded"
	ReasonCorrection     = "correction"
)
