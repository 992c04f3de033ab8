package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/metrics"
	"github.com/rs/zerolog"
)

// Dispatcher picks providers per channel in rank order and falls back once.
type Dispatcher struct {
	ranked  map[Channel][]Provider
	timeout time.Duration
	log     zerolog.Logger
}

// NewDispatcher ranks providers per channel. A provider whose name matches
// preferred[channel] goes first; the rest follow by Rank. An empty or "auto"
// preference keeps rank order.
func NewDispatcher(providers []Provider, preferred map[Channel]string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	byChannel := make(map[Channel][]Provider)
	for _, p := range providers {
		byChannel[p.Channel()] = append(byChannel[p.Channel()], p)
	}
	for ch, list := range byChannel {
		pref := strings.TrimSpace(preferred[ch])
		sort.SliceStable(list, func(i, j int) bool {
			pi := pref != "" && strings.EqualFold(list[i].Name(), pref)
			pj := pref != "" && strings.EqualFold(list[j].Name(), pref)
			if pi != pj {
				return pi
			}
			return rankOf(list[i]) < rankOf(list[j])
		})
		byChannel[ch] = list
	}
	return &Dispatcher{ranked: byChannel, timeout: timeout, log: logging.Component("dispatcher")}
}

// Providers returns the configured providers for ch, in the order Send tries them.
func (d *Dispatcher) Providers(ch Channel) []Provider {
	var out []Provider
	for _, p := range d.ranked[ch] {
		if p.Configured() {
			out = append(out, p)
		}
	}
	return out
}

// Send tries the first configured provider and, on failure, exactly one
// more. It never returns an error; the outcome is in Result.
func (d *Dispatcher) Send(ctx context.Context, msg Message) Result {
	candidates := d.Providers(msg.Channel)
	if len(candidates) == 0 {
		metrics.NotificationsSent.WithLabelValues(string(msg.Channel), "none", "unconfigured").Inc()
		return Result{Error: fmt.Sprintf("no %s provider configured", msg.Channel)}
	}

	primary := d.attempt(ctx, candidates[0], msg)
	if primary.Success || len(candidates) == 1 {
		return primary
	}

	metrics.NotificationFallbacks.WithLabelValues(string(msg.Channel)).Inc()
	d.log.Warn().
		Str("channel", string(msg.Channel)).
		Str("primary", candidates[0].Name()).
		Str("fallback", candidates[1].Name()).
		Str("error", primary.Error).
		Msg("primary provider failed, trying fallback")

	fallback := d.attempt(ctx, candidates[1], msg)
	fallback.Fallback = true
	if !fallback.Success {
		fallback.Error = fmt.Sprintf("%s: %s; %s: %s", candidates[0].Name(), primary.Error, candidates[1].Name(), fallback.Error)
	}
	return fallback
}

func (d *Dispatcher) attempt(ctx context.Context, p Provider, msg Message) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := p.Send(ctx, msg)
	res.Provider = p.Name()
	if err != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = err.Error()
		}
	}
	if !res.Success && res.Error == "" {
		res.Error = "provider reported failure"
	}

	outcome := "sent"
	if !res.Success {
		outcome = "failed"
	}
	metrics.NotificationsSent.WithLabelValues(string(msg.Channel), p.Name(), outcome).Inc()
	return res
}
