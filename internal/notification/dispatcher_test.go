package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records sends and returns a scripted outcome.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	channel    Channel
	rank       int
	configured bool
	fail       bool
	err        error
	block      bool
	sent       []Message
}

func newFake(name string, ch Channel, rank int) *fakeProvider {
	return &fakeProvider{name: name, channel: ch, rank: rank, configured: true}
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Channel() Channel { return f.channel }
func (f *fakeProvider) Rank() int        { return f.rank }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Send(ctx context.Context, msg Message) (Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if f.err != nil {
		return Result{}, f.err
	}
	if f.fail {
		return Result{Error: f.name + " rejected"}, nil
	}
	return Result{Success: true, MessageID: f.name + "-id"}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func email(to string) Message {
	return Message{Channel: ChannelEmail, To: to, Subject: "hi", Body: "body"}
}

// ============================================
// Ranking Tests
// ============================================

func TestNewDispatcher_RanksByReliability(t *testing.T) {
	slow := newFake("smtp", ChannelEmail, 20)
	fast := newFake("email-api", ChannelEmail, 10)

	d := NewDispatcher([]Provider{slow, fast}, nil, time.Second)

	providers := d.Providers(ChannelEmail)
	require.Len(t, providers, 2)
	assert.Equal(t, "email-api", providers[0].Name())
	assert.Equal(t, "smtp", providers[1].Name())
}

func TestNewDispatcher_ExplicitPreferenceFirst(t *testing.T) {
	slow := newFake("smtp", ChannelEmail, 20)
	fast := newFake("email-api", ChannelEmail, 10)

	d := NewDispatcher([]Provider{fast, slow}, map[Channel]string{ChannelEmail: "SMTP"}, time.Second)

	providers := d.Providers(ChannelEmail)
	require.Len(t, providers, 2)
	assert.Equal(t, "smtp", providers[0].Name())
}

func TestDispatcher_Providers_SkipsUnconfigured(t *testing.T) {
	a := newFake("a", ChannelEmail, 1)
	a.configured = false
	b := newFake("b", ChannelEmail, 2)

	d := NewDispatcher([]Provider{a, b}, nil, time.Second)

	providers := d.Providers(ChannelEmail)
	require.Len(t, providers, 1)
	assert.Equal(t, "b", providers[0].Name())
	assert.Empty(t, d.Providers(ChannelSMS))
}

// ============================================
// Send Tests
// ============================================

func TestDispatcher_Send_PrimarySucceeds(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.True(t, res.Success)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, "primary-id", res.MessageID)
	assert.False(t, res.Fallback)
	assert.Zero(t, fallback.calls())
}

func TestDispatcher_Send_FallsBackOnFailureResult(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	primary.fail = true
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.True(t, res.Success)
	assert.Equal(t, "fallback", res.Provider)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, primary.calls())
	assert.Equal(t, 1, fallback.calls())
}

func TestDispatcher_Send_FallsBackOnError(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	primary.err = errors.New("connection refused")
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.True(t, res.Success)
	assert.Equal(t, "fallback", res.Provider)
}

func TestDispatcher_Send_FallsBackOnTimeout(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	primary.block = true
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, 20*time.Millisecond)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.True(t, res.Success)
	assert.Equal(t, "fallback", res.Provider)
}

func TestDispatcher_Send_OnlyOneFallback(t *testing.T) {
	first := newFake("first", ChannelEmail, 1)
	first.fail = true
	second := newFake("second", ChannelEmail, 2)
	second.fail = true
	third := newFake("third", ChannelEmail, 3)
	d := NewDispatcher([]Provider{first, second, third}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.False(t, res.Success)
	assert.True(t, res.Fallback)
	assert.Equal(t, "second", res.Provider)
	assert.Contains(t, res.Error, "first rejected")
	assert.Contains(t, res.Error, "second rejected")
	assert.Zero(t, third.calls())
}

func TestDispatcher_Send_OnlyFallbackConfigured(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	primary.configured = false
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.True(t, res.Success)
	assert.Equal(t, "fallback", res.Provider)
	assert.False(t, res.Fallback)
	assert.Zero(t, primary.calls())
}

func TestDispatcher_Send_NoneConfigured(t *testing.T) {
	primary := newFake("primary", ChannelEmail, 1)
	primary.configured = false
	d := NewDispatcher([]Provider{primary}, nil, time.Second)

	res := d.Send(context.Background(), email("a@example.com"))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no EMAIL provider configured")
	assert.Zero(t, primary.calls())
}

func TestDispatcher_Send_OpenBreakerMovesToFallback(t *testing.T) {
	flaky := newFake("flaky", ChannelEmail, 1)
	flaky.fail = true
	primary := WithBreaker(flaky, resilience.BreakerSettings{ConsecutiveFailures: 1, Timeout: time.Hour})
	fallback := newFake("fallback", ChannelEmail, 2)
	d := NewDispatcher([]Provider{primary, fallback}, nil, time.Second)

	first := d.Send(context.Background(), email("a@example.com"))
	second := d.Send(context.Background(), email("b@example.com"))

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, "fallback", second.Provider)
	assert.Equal(t, 1, flaky.calls())
}
