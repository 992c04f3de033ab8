package notification

import (
	"context"
	"fmt"

	"github.com/example/ec-fulfillment/internal/resilience"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerProvider short-circuits a provider that keeps failing so the
// dispatcher moves straight to the fallback.
type BreakerProvider struct {
	Provider
	cb *gobreaker.CircuitBreaker[Result]
}

func WithBreaker(p Provider, settings resilience.BreakerSettings) *BreakerProvider {
	return &BreakerProvider{
		Provider: p,
		cb:       resilience.NewBreaker[Result]("notify-"+p.Name(), settings, nil),
	}
}

// Rank forwards the wrapped provider's rank.
func (b *BreakerProvider) Rank() int { return rankOf(b.Provider) }

func (b *BreakerProvider) Send(ctx context.Context, msg Message) (Result, error) {
	res, err := b.cb.Execute(func() (Result, error) {
		r, err := b.Provider.Send(ctx, msg)
		if err == nil && !r.Success {
			err = fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, b.Name(), r.Error)
		}
		return r, err
	})
	if err != nil && resilience.IsOpen(err) {
		err = fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, b.Name(), err)
		res = Result{Provider: b.Name(), Error: err.Error()}
	}
	return res, err
}
