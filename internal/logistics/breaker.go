package logistics

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-fulfillment/internal/resilience"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerProvider stops calling a failing carrier until it recovers.
type BreakerProvider struct {
	next   Provider
	create *gobreaker.CircuitBreaker[*Waybill]
	track  *gobreaker.CircuitBreaker[*Tracking]
}

func NewBreakerProvider(next Provider, settings resilience.BreakerSettings) *BreakerProvider {
	name := "logistics-" + next.Name()
	ok := func(err error) bool { return err == nil || errors.Is(err, ErrUnknownWaybill) }
	return &BreakerProvider{
		next:   next,
		create: resilience.NewBreaker[*Waybill](name+"-create", settings, ok),
		track:  resilience.NewBreaker[*Tracking](name+"-track", settings, ok),
	}
}

func (b *BreakerProvider) Name() string { return b.next.Name() }

func (b *BreakerProvider) CreateShipment(ctx context.Context, req ShipmentRequest) (*Waybill, error) {
	w, err := b.create.Execute(func() (*Waybill, error) {
		return b.next.CreateShipment(ctx, req)
	})
	return w, wrapOpen(err)
}

func (b *BreakerProvider) TrackShipment(ctx context.Context, waybillNumber string) (*Tracking, error) {
	t, err := b.track.Execute(func() (*Tracking, error) {
		return b.next.TrackShipment(ctx, waybillNumber)
	})
	return t, wrapOpen(err)
}

func wrapOpen(err error) error {
	if err != nil && resilience.IsOpen(err) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}
