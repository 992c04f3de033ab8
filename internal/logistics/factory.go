package logistics

import (
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/resilience"
)

// NewFromConfig returns the HTTP carrier client behind a circuit breaker, or
// the mock when no base URL is set.
func NewFromConfig(cfg config.LogisticsConfig) Provider {
	if cfg.BaseURL == "" {
		return NewMockProvider(cfg.Carrier)
	}
	return NewBreakerProvider(NewHTTPProvider(cfg.BaseURL, cfg.APIKey, cfg.Carrier, cfg.Timeout), resilience.BreakerSettings{})
}
