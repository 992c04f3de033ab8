package logistics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/metrics"
)

// HTTPProvider is a JSON client for a carrier API:
//
//	POST {base}/shipments                 ShipmentRequest -> Waybill
//	GET  {base}/shipments/{waybill}/track -> Tracking
type HTTPProvider struct {
	baseURL string
	apiKey  string
	carrier string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey, carrier string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		carrier: carrier,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) CreateShipment(ctx context.Context, req ShipmentRequest) (*Waybill, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.LogisticsRequestDuration.WithLabelValues("create_shipment"), start)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode shipment request: %w", err)
	}

	var waybill Waybill
	if err := p.do(ctx, http.MethodPost, p.baseURL+"/shipments", body, &waybill); err != nil {
		return nil, err
	}
	if waybill.WaybillNumber == "" {
		return nil, fmt.Errorf("%w: response has no waybill number", ErrProviderUnavailable)
	}
	if waybill.Carrier == "" {
		waybill.Carrier = p.carrier
	}
	return &waybill, nil
}

func (p *HTTPProvider) TrackShipment(ctx context.Context, waybillNumber string) (*Tracking, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.LogisticsRequestDuration.WithLabelValues("track_shipment"), start)

	var tracking Tracking
	endpoint := p.baseURL + "/shipments/" + url.PathEscape(waybillNumber) + "/track"
	if err := p.do(ctx, http.MethodGet, endpoint, nil, &tracking); err != nil {
		return nil, err
	}
	if tracking.WaybillNumber == "" {
		tracking.WaybillNumber = waybillNumber
	}
	return &tracking, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrProviderUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return ErrUnknownWaybill
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrProviderUnavailable, method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	return nil
}
