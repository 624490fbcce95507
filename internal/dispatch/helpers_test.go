package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/storage"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *manualClock { return &manualClock{t: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type sendCall struct {
	Recipient string
	Body      string
}

type fakeChannel struct {
	mu     sync.Mutex
	sends  []sendCall
	fail   map[string]error
	nextID int
	subs   []channel.AckFunc
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{fail: map[string]error{}}
}

func (f *fakeChannel) Send(ctx context.Context, recipient, body, mediaURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[recipient]; err != nil {
		return "", err
	}
	f.nextID++
	f.sends = append(f.sends, sendCall{Recipient: recipient, Body: body})
	return fmt.Sprintf("ext-%d", f.nextID), nil
}

func (f *fakeChannel) Subscribe(fn channel.AckFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

func (f *fakeChannel) emit(ack channel.Ack) {
	f.mu.Lock()
	subs := make([]channel.AckFunc, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ack)
	}
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		StartHour:       9,
		EndHour:         17,
		IntervalSeconds: 30,
		MaxWait:         24 * time.Hour,
		ParentStaleness: 24 * time.Hour,
		IdleRecheck:     30 * time.Second,
		WindowRecheck:   time.Minute,
	}
}

type engine struct {
	store      storage.Storage
	clock      *manualClock
	ch         *fakeChannel
	chain      *Chain
	agg        *Aggregator
	acks       *AckProcessor
	dispatcher *Dispatcher
	producer   *Producer
}

func newEngine(t *testing.T, cfg config.DispatchConfig, now time.Time) *engine {
	t.Helper()
	return newEngineWithStore(t, cfg, now, newTestStore(t))
}

func newEngineWithStore(t *testing.T, cfg config.DispatchConfig, now time.Time, store storage.Storage) *engine {
	t.Helper()
	log := zerolog.Nop()
	clock := newClock(now)
	ch := newFakeChannel()
	notifier := NewLogNotifier(log)

	agg := NewAggregator(store, notifier, clock, log)
	chain := NewChain(cfg, store, agg, notifier, clock, log)
	acks := NewAckProcessor(store, chain, agg, notifier, clock, log)
	acks.Attach(ch)

	return &engine{
		store:      store,
		clock:      clock,
		ch:         ch,
		chain:      chain,
		agg:        agg,
		acks:       acks,
		dispatcher: NewDispatcher(cfg, store, ch, chain, agg, notifier, clock, log),
		producer:   NewProducer(store, notifier, clock, log),
	}
}

func businessTime(hour, min int) time.Time {
	return time.Date(2025, 6, 10, hour, min, 0, 0, time.UTC)
}
