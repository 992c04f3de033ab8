package product

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ec-fulfillment/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProductService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore)
	return service, eventStore
}

func usd(s string) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"usd": decimal.RequireFromString(s)}
}

// ============================================
// Create Product Tests
// ============================================

func TestService_Create_ValidProduct(t *testing.T) {
	service, eventStore := newTestProductService()
	ctx := context.Background()

	product, err := service.Create(ctx, CreateParams{
		Name:        "Ceramic Mug",
		Category:    "kitchen",
		Prices:      usd("12.50"),
		WeightGrams: 350,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, product.ID)
	assert.Equal(t, "Ceramic Mug", product.Name)
	assert.Equal(t, "kitchen", product.Category)
	assert.Equal(t, 350, product.WeightGrams)
	assert.Equal(t, 1, product.Version)

	price, ok := product.Price("USD")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("12.5")))

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventProductCreated, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
	assert.Equal(t, 0, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Create_WithoutPrices(t *testing.T) {
	service, _ := newTestProductService()

	product, err := service.Create(context.Background(), CreateParams{Name: "Sticker"})

	require.NoError(t, err)
	_, ok := product.Price("EUR")
	assert.False(t, ok)
}

func TestService_Create_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{"empty name", CreateParams{Name: "  "}, ErrInvalidName},
		{"negative weight", CreateParams{Name: "Mug", WeightGrams: -1}, ErrInvalidWeight},
		{"zero price", CreateParams{Name: "Mug", Prices: usd("0")}, ErrInvalidPrice},
		{"negative price", CreateParams{Name: "Mug", Prices: usd("-3")}, ErrInvalidPrice},
		{"bad currency", CreateParams{Name: "Mug", Prices: map[string]decimal.Decimal{"dollars": decimal.NewFromInt(1)}}, ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, eventStore := newTestProductService()

			product, err := service.Create(context.Background(), tt.params)

			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, product)
			assert.Empty(t, eventStore.AppendCalls)
		})
	}
}

func TestService_Create_StoreError(t *testing.T) {
	service, eventStore := newTestProductService()
	eventStore.AppendErr = errors.New("store down")

	_, err := service.Create(context.Background(), CreateParams{Name: "Mug"})

	assert.EqualError(t, err, "store down")
}

// ============================================
// SetPrice Tests
// ============================================

func TestService_SetPrice_AddsAndReplaces(t *testing.T) {
	service, eventStore := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, CreateParams{Name: "Mug", Prices: usd("10")})
	require.NoError(t, err)

	_, err = service.SetPrice(ctx, created.ID, "eur", decimal.RequireFromString("9.20"))
	require.NoError(t, err)
	updated, err := service.SetPrice(ctx, created.ID, "USD", decimal.RequireFromString("11"))
	require.NoError(t, err)

	assert.Equal(t, 3, updated.Version)
	eur, ok := updated.Price("EUR")
	require.True(t, ok)
	assert.True(t, eur.Equal(decimal.RequireFromString("9.2")))
	usdPrice, _ := updated.Price("USD")
	assert.True(t, usdPrice.Equal(decimal.NewFromInt(11)))

	require.Len(t, eventStore.AppendCalls, 3)
	assert.Equal(t, EventProductPriceChanged, eventStore.AppendCalls[2].EventType)
	assert.Equal(t, 2, eventStore.AppendCalls[2].ExpectedVersion)

	reloaded, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Prices, len(updated.Prices))
	for currency, price := range updated.Prices {
		assert.True(t, price.Equal(reloaded.Prices[currency]), currency)
	}
}

func TestService_SetPrice_NotFound(t *testing.T) {
	service, _ := newTestProductService()

	_, err := service.SetPrice(context.Background(), "missing", "USD", decimal.NewFromInt(1))

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestService_SetPrice_InvalidPrice(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, CreateParams{Name: "Mug"})
	require.NoError(t, err)

	_, err = service.SetPrice(ctx, created.ID, "USD", decimal.Zero)

	assert.ErrorIs(t, err, ErrInvalidPrice)
}

// ============================================
// Get / List Tests
// ============================================

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestProductService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestService_List_SortedByName(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	for _, name := range []string{"Teapot", "Apron", "Mug"} {
		_, err := service.Create(ctx, CreateParams{Name: name, Category: "kitchen"})
		require.NoError(t, err)
	}

	products, err := service.List(ctx)

	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, "Apron", products[0].Name)
	assert.Equal(t, "Mug", products[1].Name)
	assert.Equal(t, "Teapot", products[2].Name)
}

func TestService_List_Empty(t *testing.T) {
	service, _ := newTestProductService()

	products, err := service.List(context.Background())

	require.NoError(t, err)
	assert.Empty(t, products)
}
