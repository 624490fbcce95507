package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/schedule"
	"github.com/dripsend/dripsend/internal/storage"
)

// seedSentMessage dispatches one message so it carries an external id.
func seedSentMessage(t *testing.T, e *engine) models.Message {
	t.Helper()
	ctx := context.Background()
	c, err := e.producer.CreateCampaign(ctx, CampaignSpec{
		Name: "launch", Recipients: []string{"+15550001"}, Body: "hi",
	})
	require.NoError(t, err)
	_, err = e.dispatcher.Step(ctx)
	require.NoError(t, err)

	msgs, err := e.store.ListMessages(ctx, c.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.MessageSent, msgs[0].Status)
	return msgs[0]
}

func TestAckAdvancesStatus(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	m := seedSentMessage(t, e)

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))
	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckRead}))
	got, err = e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, got.Status)
	require.NotNil(t, got.ReadAt)
}

func TestAckNeverRegresses(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	m := seedSentMessage(t, e)

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckRead}))

	// A late delivered ack must not downgrade a read message.
	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))

	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, got.Status)
	assert.Nil(t, got.DeliveredAt)
}

func TestDuplicateAckIsIgnored(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	m := seedSentMessage(t, e)

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))
	deliveredAt := func() models.Message {
		got, err := e.store.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		return *got
	}().DeliveredAt

	e.clock.Advance(time.Second)
	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))

	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)
	assert.True(t, got.DeliveredAt.Equal(*deliveredAt))
}

func TestUnmatchedAckIsDropped(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))

	err := e.acks.Process(context.Background(), channel.Ack{ExternalID: "unknown-id", Level: models.AckDelivered})
	assert.NoError(t, err)
}

func TestAckIgnoredForFailedMessage(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	m := seedSentMessage(t, e)

	m.Status = models.MessageFailed
	m.ErrorMessage = "simulated"
	require.NoError(t, e.store.UpdateMessage(ctx, &m))

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))

	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, got.Status)
}

func TestSentAckReleasesDependents(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	root, dep := seedChainCampaign(t, e, schedule.Delay{Minutes: 10})

	// The root was handed to the gateway by another producer; only the ack
	// tells us it went out.
	root.ExternalID = "ext-out-of-band"
	require.NoError(t, e.store.UpdateMessage(ctx, &root))

	require.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: root.ExternalID, Level: models.AckSent}))

	gotRoot, err := e.store.GetMessage(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, gotRoot.Status)
	require.NotNil(t, gotRoot.SentAt)

	gotDep, err := e.store.GetMessage(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageScheduled, gotDep.Status)
	assert.True(t, gotDep.SendAt.Equal(gotRoot.SentAt.Add(10*time.Minute)))
}

// gatedUpdateStore stalls the write of a delivered-status update until
// released, exposing the gap between an ack's status check and its write.
type gatedUpdateStore struct {
	storage.Storage
	entered chan struct{}
	release chan struct{}
}

func (s *gatedUpdateStore) UpdateMessage(ctx context.Context, m *models.Message) error {
	if m.Status == models.MessageDelivered {
		close(s.entered)
		<-s.release
	}
	return s.Storage.UpdateMessage(ctx, m)
}

func TestConcurrentAcksKeepStatusMonotonic(t *testing.T) {
	gated := &gatedUpdateStore{
		Storage: newTestStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngineWithStore(t, testDispatchConfig(), businessTime(10, 0), gated)
	ctx := context.Background()
	m := seedSentMessage(t, e)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered}))
	}()
	<-gated.entered

	// A read ack arrives while the delivered ack is mid-write. The slower
	// delivered write must not land on top of the read transition.
	go func() {
		defer wg.Done()
		assert.NoError(t, e.acks.Process(ctx, channel.Ack{ExternalID: m.ExternalID, Level: models.AckRead}))
	}()
	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	wg.Wait()

	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, got.Status)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.ReadAt)
}

func TestChannelSubscriptionFeedsProcessor(t *testing.T) {
	e := newEngine(t, testDispatchConfig(), businessTime(10, 0))
	ctx := context.Background()
	m := seedSentMessage(t, e)

	e.ch.emit(channel.Ack{ExternalID: m.ExternalID, Level: models.AckDelivered})

	got, err := e.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)
}
