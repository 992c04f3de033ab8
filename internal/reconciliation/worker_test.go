package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Options
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, opts notification.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, opts)
	return nil
}

// failingLedgerStore fails every read of one product's stock stream.
type failingLedgerStore struct {
	*store.EventStore
	productID string
}

func (f *failingLedgerStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	if aggregateID == inventory.StreamID(f.productID) {
		return nil, errors.New("disk on fire")
	}
	return f.EventStore.GetEvents(ctx, aggregateID)
}

// cancellingStore cancels the run's context on the first stock read.
type cancellingStore struct {
	*store.EventStore
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	if c.cancel != nil && strings.HasPrefix(aggregateID, inventory.StreamID("")) {
		c.once.Do(c.cancel)
	}
	return c.EventStore.GetEvents(ctx, aggregateID)
}

type fixture struct {
	worker   *Worker
	ledger   *inventory.Service
	catalog  *product.Service
	reads    *store.ReadStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T, es store.EventStoreInterface, cfg config.InventoryConfig, admins ...string) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   inventory.NewService(es),
		catalog:  product.NewService(es),
		reads:    store.NewReadStore(),
		notifier: &recordingNotifier{},
	}
	f.worker = New(f.ledger, f.catalog, f.reads, f.notifier, cfg, admins)
	f.worker.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	return f
}

func defaultInventory() config.InventoryConfig {
	return config.InventoryConfig{LowStockThreshold: 10}
}

func (f *fixture) product(t *testing.T, name, category string, stock int) string {
	t.Helper()
	ctx := context.Background()
	p, err := f.catalog.Create(ctx, product.CreateParams{
		Name:     name,
		Category: category,
		Prices:   map[string]decimal.Decimal{"USD": decimal.NewFromInt(5)},
	})
	require.NoError(t, err)
	if stock > 0 {
		_, err = f.ledger.RecordAdjustment(ctx, p.ID, stock, inventory.ReasonRestock, "admin")
		require.NoError(t, err)
	}
	return p.ID
}

// ============================================
// Reconcile Tests
// ============================================

func TestReconcileProduct_RecordsActivity(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory(), "ops@example.com")
	pid := f.product(t, "Mug", "kitchen", 25)

	res, err := f.worker.ReconcileProduct(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, 25, res.CalculatedStock)
	assert.Equal(t, 0, res.Drift)
	assert.Equal(t, 10, res.Threshold)
	assert.False(t, res.LowStock)
	assert.Empty(t, f.notifier.sent)

	acts, err := f.reads.ListActivities(context.Background(), readmodel.ActivityFilter{Type: ActivityReconciled})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, pid, acts[0].SubjectID)

	var payload Result
	require.NoError(t, json.Unmarshal(acts[0].Payload, &payload))
	assert.Equal(t, 25, payload.CalculatedStock)
}

func TestReconcileProduct_LowStockAlert(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory(), "ops@example.com")
	pid := f.product(t, "Mug", "kitchen", 10)

	res, err := f.worker.ReconcileProduct(context.Background(), pid)
	require.NoError(t, err)
	assert.True(t, res.LowStock)

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, "low-stock:"+pid+":2024-03-01", sent.Key)
	assert.Equal(t, "ops@example.com", sent.Recipient)
	assert.Equal(t, notification.ChannelEmail, sent.Type)
	assert.Contains(t, sent.Message, "Mug")
}

func TestReconcileProduct_CategoryThreshold(t *testing.T) {
	cfg := config.InventoryConfig{
		LowStockThreshold:  10,
		CategoryThresholds: map[string]int{"bulk": 100},
		AlertRecipients:    []string{"a@example.com", "b@example.com"},
	}
	f := newFixture(t, store.NewEventStore(nil), cfg, "ignored@example.com")
	pid := f.product(t, "Sack", "Bulk", 50)

	res, err := f.worker.ReconcileProduct(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Threshold)
	assert.True(t, res.LowStock)

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, "low-stock:"+pid+":2024-03-01:a@example.com", f.notifier.sent[0].Key)
	assert.Equal(t, "b@example.com", f.notifier.sent[1].Recipient)
}

func TestReconcileProduct_NotFound(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory())
	_, err := f.worker.ReconcileProduct(context.Background(), "missing")
	assert.ErrorIs(t, err, product.ErrProductNotFound)
}

func TestReconcileAll_IsolatesFailures(t *testing.T) {
	es := store.NewEventStore(nil)
	failing := &failingLedgerStore{EventStore: es}
	f := newFixture(t, failing, defaultInventory(), "ops@example.com")

	f.product(t, "Plenty", "kitchen", 40)
	broken := f.product(t, "Broken", "kitchen", 40)
	low := f.product(t, "Low", "kitchen", 3)
	failing.productID = broken

	summary, err := f.worker.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, broken, summary.Failures[0].ProductID)
	require.Len(t, summary.LowStock, 1)
	assert.Equal(t, low, summary.LowStock[0].ProductID)
	assert.Equal(t, 3, summary.LowStock[0].Stock)
}

func TestReconcileAll_CancelledKeepsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs := &cancellingStore{EventStore: store.NewEventStore(nil)}
	f := newFixture(t, cs, defaultInventory(), "ops@example.com")

	f.product(t, "First", "kitchen", 40)
	f.product(t, "Second", "kitchen", 40)
	f.product(t, "Third", "kitchen", 40)
	cs.cancel = cancel

	summary, err := f.worker.ReconcileAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
}

// ============================================
// Sweep Tests
// ============================================

func TestLowStockSweep_SendsOneDigest(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory(), "ops@example.com")
	f.product(t, "Plenty", "kitchen", 40)
	f.product(t, "Low", "kitchen", 2)
	f.product(t, "Empty", "kitchen", 0)

	res, err := f.worker.LowStockSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Len(t, res.LowStock, 2)
	assert.Equal(t, 1, res.Alerted)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "low-stock-digest:2024-03-01", f.notifier.sent[0].Key)
	assert.Contains(t, f.notifier.sent[0].Message, "Low")
	assert.Contains(t, f.notifier.sent[0].Message, "Empty")

	acts, err := f.reads.ListActivities(context.Background(), readmodel.ActivityFilter{Type: ActivityLowStockSweep})
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestLowStockSweep_NothingLow(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory(), "ops@example.com")
	f.product(t, "Plenty", "kitchen", 40)

	res, err := f.worker.LowStockSweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.LowStock)
	assert.Zero(t, res.Alerted)
	assert.Empty(t, f.notifier.sent)
}

func TestLowStockSweep_EnqueueFailureCounted(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory(), "ops@example.com")
	f.notifier.err = errors.New("queue down")
	f.product(t, "Low", "kitchen", 1)

	res, err := f.worker.LowStockSweep(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.LowStock, 1)
	assert.Zero(t, res.Alerted)
}

func TestLowStockSweep_NoRecipients(t *testing.T) {
	f := newFixture(t, store.NewEventStore(nil), defaultInventory())
	f.product(t, "Low", "kitchen", 1)

	res, err := f.worker.LowStockSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Alerted)
}
