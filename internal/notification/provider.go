// Package notification delivers transactional messages over email, SMS and
// WhatsApp with provider fallback, and records every attempt.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel is the delivery medium. Values match the persisted notification type.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

var (
	// ErrProviderUnavailable marks a provider that failed or refused the call.
	ErrProviderUnavailable = errors.New("notification provider unavailable")
	ErrUnknownChannel      = errors.New("unknown notification channel")
	ErrRecipientRequired   = errors.New("notification recipient is required")
)

// ParseChannel is case-insensitive.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, raw)
}

// Message is what a provider delivers.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// Result reports the outcome of a send. Callers check Success; a failed
// delivery is not an error.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// Provider sends messages on one channel.
type Provider interface {
	Name() string
	Channel() Channel
	// Configured is false when the provider lacks credentials or endpoints.
	Configured() bool
	Send(ctx context.Context, msg Message) (Result, error)
}

// Ranked providers order themselves for auto selection. Lower is preferred.
type Ranked interface {
	Rank() int
}

func rankOf(p Provider) int {
	if r, ok := p.(Ranked); ok {
		return r.Rank()
	}
	return 100
}
