package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
)

// HTTPProvider posts messages to a JSON messaging API:
//
//	POST {base}/messages {"channel","from","to","subject","body"} -> {"id"}
//
// The same shape serves transactional email APIs and SMS/WhatsApp gateways.
type HTTPProvider struct {
	name    string
	channel Channel
	baseURL string
	apiKey  string
	from    string
	rank    int
	client  *http.Client
}

func NewHTTPProvider(channel Channel, cfg config.HTTPProvider, rank int, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = strings.ToLower(string(channel)) + "-api"
	}
	return &HTTPProvider{
		name:    name,
		channel: channel,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		rank:    rank,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string     { return p.name }
func (p *HTTPProvider) Channel() Channel { return p.channel }
func (p *HTTPProvider) Rank() int        { return p.rank }

func (p *HTTPProvider) Configured() bool {
	return p.baseURL != "" && p.apiKey != ""
}

type httpMessage struct {
	Channel Channel `json:"channel"`
	From    string  `json:"from,omitempty"`
	To      string  `json:"to"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

type httpMessageResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (Result, error) {
	payload, err := json.Marshal(httpMessage{
		Channel: p.channel,
		From:    p.from,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return Result{Provider: p.name, Error: err.Error()}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Result{Provider: p.name, Error: err.Error()}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return p.fail(fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.name, err))
	}
	defer resp.Body.Close()

	var body httpMessageResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := body.Error
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return p.fail(fmt.Errorf("%w: %s returned %d: %s", ErrProviderUnavailable, p.name, resp.StatusCode, detail))
	}
	return Result{Success: true, MessageID: body.ID, Provider: p.name}, nil
}

func (p *HTTPProvider) fail(err error) (Result, error) {
	return Result{Provider: p.name, Error: err.Error()}, err
}
