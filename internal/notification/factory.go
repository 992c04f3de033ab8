package notification

import (
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/resilience"
)

// Reliability ranks used for auto selection.
const (
	rankEmailAPI     = 10
	rankSMSGateway   = 10
	rankCrossChannel = 50
)

// crossChannel lets a phone provider stand in for the other phone channel.
type crossChannel struct {
	Provider
	channel Channel
}

func (c crossChannel) Channel() Channel { return c.channel }
func (c crossChannel) Rank() int        { return rankCrossChannel }

// ProvidersFromConfig builds every provider the configuration mentions, each
// behind its own circuit breaker. Unconfigured providers are kept so the
// dispatcher can report them as skipped.
func ProvidersFromConfig(cfg config.NotificationConfig) []Provider {
	timeout := cfg.SendTimeout
	settings := resilience.BreakerSettings{Timeout: time.Minute}

	smtpProvider := WithBreaker(NewSMTPProvider(cfg.SMTP, timeout), settings)
	emailAPI := WithBreaker(NewHTTPProvider(ChannelEmail, withName(cfg.EmailAPI, "email-api"), rankEmailAPI, timeout), settings)
	sms := WithBreaker(NewHTTPProvider(ChannelSMS, withName(cfg.SMS, "sms-gateway"), rankSMSGateway, timeout), settings)
	whatsApp := WithBreaker(NewHTTPProvider(ChannelWhatsApp, withName(cfg.WhatsApp, "whatsapp"), rankSMSGateway, timeout), settings)

	return []Provider{
		emailAPI,
		smtpProvider,
		sms,
		whatsApp,
		crossChannel{Provider: whatsApp, channel: ChannelSMS},
		crossChannel{Provider: sms, channel: ChannelWhatsApp},
	}
}

// DispatcherFromConfig ranks ProvidersFromConfig using the configured preferences.
func DispatcherFromConfig(cfg config.NotificationConfig) *Dispatcher {
	preferred := map[Channel]string{}
	if cfg.PreferredEmail != "" && cfg.PreferredEmail != "auto" {
		preferred[ChannelEmail] = cfg.PreferredEmail
	}
	if cfg.PreferredSMS != "" && cfg.PreferredSMS != "auto" {
		preferred[ChannelSMS] = cfg.PreferredSMS
		preferred[ChannelWhatsApp] = cfg.PreferredSMS
	}
	return NewDispatcher(ProvidersFromConfig(cfg), preferred, cfg.SendTimeout)
}

func withName(p config.HTTPProvider, name string) config.HTTPProvider {
	if p.Name == "" {
		p.Name = name
	}
	return p
}
