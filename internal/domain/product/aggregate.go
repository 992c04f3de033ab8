package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/aggregate"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Product"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidName     = errors.New("name is required")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
	ErrInvalidWeight   = errors.New("weight must not be negative")
)

// Product carries catalog identity only. Stock lives in the inventory ledger.
type Product struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Category    string                     `json:"category"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	WeightGrams int                        `json:"weight_grams"`
	Version     int                        `json:"version"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

func (p *Product) GetID() string    { return p.ID }
func (p *Product) GetVersion() int  { return p.Version }
func (p *Product) SetVersion(v int) { p.Version = v }

func (p *Product) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventProductCreated:
		var data ProductCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.ID = data.ProductID
		p.Name = data.Name
		p.Category = data.Category
		p.WeightGrams = data.WeightGrams
		p.Prices = make(map[string]decimal.Decimal, len(data.Prices))
		for c, v := range data.Prices {
			p.Prices[c] = v
		}
		p.CreatedAt = data.CreatedAt
		p.UpdatedAt = data.CreatedAt
	case EventProductPriceChanged:
		var data ProductPriceChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if p.Prices == nil {
			p.Prices = make(map[string]decimal.Decimal)
		}
		p.Prices[data.Currency] = data.Price
		p.UpdatedAt = data.ChangedAt
	}
	return nil
}

// Price returns the price in currency, if one is set.
func (p *Product) Price(currency string) (decimal.Decimal, bool) {
	v, ok := p.Prices[NormalizeCurrency(currency)]
	return v, ok
}

// NormalizeCurrency upper-cases an ISO 4217 code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

type CreateParams struct {
	Name        string                     `json:"name"`
	Category    string                     `json:"category"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	WeightGrams int                        `json:"weight_grams"`
}

type Service struct {
	eventStore store.EventStoreInterface
	now        func() time.Time
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{
		eventStore: es,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Product, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if params.WeightGrams < 0 {
		return nil, ErrInvalidWeight
	}
	prices := make(map[string]decimal.Decimal, len(params.Prices))
	for c, v := range params.Prices {
		currency := NormalizeCurrency(c)
		if len(currency) != 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
		}
		if !v.IsPositive() {
			return nil, ErrInvalidPrice
		}
		prices[currency] = v
	}

	productID := uuid.New().String()
	event := ProductCreated{
		ProductID:   productID,
		Name:        name,
		Category:    strings.TrimSpace(params.Category),
		Prices:      prices,
		WeightGrams: params.WeightGrams,
		CreatedAt:   s.now(),
	}

	stored, err := s.eventStore.Append(ctx, productID, AggregateType, EventProductCreated, 0, event)
	if err != nil {
		return nil, err
	}

	p := &Product{}
	if err := aggregate.Replay(p, []store.Event{*stored}); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPrice sets or replaces the price for one currency. Orders already placed
// keep the price they captured.
func (s *Service) SetPrice(ctx context.Context, productID, currency string, price decimal.Decimal) (*Product, error) {
	currency = NormalizeCurrency(currency)
	if len(currency) != 3 {
		return nil, ErrInvalidCurrency
	}
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}

	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	event := ProductPriceChanged{
		ProductID: productID,
		Currency:  currency,
		Price:     price,
		ChangedAt: s.now(),
	}
	stored, err := s.eventStore.Append(ctx, productID, AggregateType, EventProductPriceChanged, p.Version, event)
	if err != nil {
		return nil, err
	}
	if err := aggregate.Replay(p, []store.Event{*stored}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	p, found, err := aggregate.Load(ctx, s.eventStore, productID, func() *Product { return &Product{} })
	if err != nil {
		return nil, err
	}
	if !found || p.ID == "" {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// List folds every product stream, ordered by name.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	events, err := s.eventStore.GetEventsByType(ctx, AggregateType)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Product)
	for _, e := range events {
		p, ok := byID[e.AggregateID]
		if !ok {
			p = &Product{}
			byID[e.AggregateID] = p
		}
		if err := p.ApplyEvent(e); err != nil {
			return nil, fmt.Errorf("apply %s to %s: %w", e.EventType, e.AggregateID, err)
		}
		if e.Version > p.Version {
			p.Version = e.Version
		}
	}

	out := make([]Product, 0, len(byID))
	for _, p := range byID {
		if p.ID != "" {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
