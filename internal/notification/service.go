package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options describe one notification to send.
type Options struct {
	Type      Channel           `json:"type"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	// Key deduplicates queued sends. Empty means every enqueue is delivered.
	Key string `json:"key,omitempty"`
}

// Service sends through the dispatcher and keeps the notification log.
type Service struct {
	dispatcher *Dispatcher
	store      store.NotificationStore
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(d *Dispatcher, ns store.NotificationStore) *Service {
	return &Service{
		dispatcher: d,
		store:      ns,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logging.Component("notification"),
	}
}

// Send records the notification as PENDING, dispatches it and completes the
// record exactly once. Failures are reported in Result only.
func (s *Service) Send(ctx context.Context, opts Options) Result {
	if opts.Type == "" {
		opts.Type = ChannelEmail
	}
	opts.Recipient = strings.TrimSpace(opts.Recipient)

	n := &readmodel.Notification{
		ID:        uuid.New().String(),
		Type:      string(opts.Type),
		Recipient: opts.Recipient,
		Subject:   opts.Subject,
		Message:   opts.Message,
		Status:    readmodel.NotificationPending,
		Metadata:  opts.Metadata,
		CreatedAt: s.now(),
	}
	persisted := true
	if err := s.store.CreateNotification(ctx, n); err != nil {
		persisted = false
		s.log.Error().Err(err).Str("recipient", n.Recipient).Msg("failed to record notification")
	}

	var res Result
	if opts.Recipient == "" {
		res = Result{Error: ErrRecipientRequired.Error()}
	} else {
		res = s.dispatcher.Send(ctx, Message{
			Channel: opts.Type,
			To:      opts.Recipient,
			Subject: opts.Subject,
			Body:    opts.Message,
		})
	}

	if persisted {
		s.complete(ctx, n.ID, res)
	}

	ev := s.log.Info()
	if !res.Success {
		ev = s.log.Warn().Str("error", res.Error)
	}
	ev.Str("notification_id", n.ID).
		Str("type", n.Type).
		Str("provider", res.Provider).
		Bool("fallback", res.Fallback).
		Bool("success", res.Success).
		Msg("notification processed")
	return res
}

// Notify sends synchronously. It lets the service stand in for the job
// queue where no queue is running.
func (s *Service) Notify(ctx context.Context, opts Options) error {
	s.Send(ctx, opts)
	return nil
}

func (s *Service) complete(ctx context.Context, id string, res Result) {
	c := readmodel.NotificationCompletion{
		Status:    readmodel.NotificationFailed,
		Provider:  res.Provider,
		MessageID: res.MessageID,
		Error:     res.Error,
		At:        s.now(),
	}
	if res.Success {
		c.Status = readmodel.NotificationSent
		c.Error = ""
	}

	// The send already happened; completion must not be lost to a cancelled caller.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.CompleteNotification(ctx, id, c); err != nil {
		if errors.Is(err, store.ErrNotificationFinalized) {
			s.log.Warn().Str("notification_id", id).Msg("notification already completed")
			return
		}
		s.log.Error().Err(err).Str("notification_id", id).Msg("failed to complete notification")
	}
}

func (s *Service) Get(ctx context.Context, id string) (*readmodel.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// List returns the notification log, newest first.
func (s *Service) List(ctx context.Context, f readmodel.NotificationFilter) ([]readmodel.Notification, error) {
	return s.store.ListNotifications(ctx, f)
}
