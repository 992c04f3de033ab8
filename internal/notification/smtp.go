package notification

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/google/uuid"
)

// SMTPProvider sends plain-text email through an SMTP relay.
type SMTPProvider struct {
	host     string
	port     string
	from     string
	username string
	password string
	timeout  time.Duration
	now      func() time.Time
}

func NewSMTPProvider(cfg config.SMTPConfig, timeout time.Duration) *SMTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	port := cfg.Port
	if port == "" {
		port = "25"
	}
	return &SMTPProvider{
		host:     cfg.Host,
		port:     port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (s *SMTPProvider) Name() string     { return "smtp" }
func (s *SMTPProvider) Channel() Channel { return ChannelEmail }
func (s *SMTPProvider) Rank() int        { return 20 }

func (s *SMTPProvider) Configured() bool {
	return s.host != "" && s.from != ""
}

func (s *SMTPProvider) Send(ctx context.Context, msg Message) (Result, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.host)
	raw := s.buildMessage(msg, messageID)

	if err := s.deliver(ctx, msg.To, raw); err != nil {
		return Result{Provider: s.Name(), Error: err.Error()}, fmt.Errorf("%w: smtp: %v", ErrProviderUnavailable, err)
	}
	return Result{Success: true, MessageID: messageID, Provider: s.Name()}, nil
}

func (s *SMTPProvider) buildMessage(msg Message, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func (s *SMTPProvider) deliver(ctx context.Context, to string, raw []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer client.Close()

	if s.username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	_ = client.Quit()
	return nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
