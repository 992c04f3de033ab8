package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler runs queued notification jobs.
type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

// HandlePayload decodes Options and sends them. Delivery failures end up in
// the notification log, not in the returned error.
func (h *Handler) HandlePayload(ctx context.Context, payload []byte) error {
	var opts Options
	if err := json.Unmarshal(payload, &opts); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	h.service.Send(ctx, opts)
	return nil
}
