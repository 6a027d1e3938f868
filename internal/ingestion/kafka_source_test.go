package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestKafkaSource_DecodesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"type":"create","mint":"mintA","name":"Frog","symbol":"FRG","uri":"https://x/frog.json"}`)},
		{Offset: 2, Value: []byte(`{"type":"trade","mint":"mintA","sol_amount":500000000,"token_amount":1000000000,"is_buy":true,"timestamp":1700000000,"signature":"sig"}`)},
		{Offset: 3, Value: []byte(`not json`)},
		{Offset: 4, Value: []byte(`{"type":"swap","mint":"mintA"}`)},
	}}
	src := newKafkaSource(reader, KafkaSourceOptions{Topic: "trades"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Subscribe(ctx)
	require.NoError(t, err)

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	require.NotNil(t, got[0].Token)
	assert.Equal(t, "FRG", got[0].Token.Metadata.Symbol)

	require.NotNil(t, got[1].Trade)
	trade := got[1].Trade
	assert.Equal(t, "mintA", trade.Mint)
	assert.InDelta(t, 0.0005, trade.Price, 1e-12)
	assert.InDelta(t, 1000.0, trade.Size, 1e-9)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), trade.Time)
	assert.Equal(t, "sig", trade.Signature)

	// Malformed messages are skipped but still committed.
	require.Eventually(t, func() bool { return len(reader.commits()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())

	cancel()
	_, open := <-events
	assert.False(t, open, "channel closes on cancellation")

	require.NoError(t, src.Close())
	assert.True(t, reader.closed)
}

func TestKafkaMessage_Event(t *testing.T) {
	_, err := KafkaMessage{Type: "trade"}.Event()
	assert.Error(t, err, "mint is required")

	ev, err := KafkaMessage{Mint: "m", SolAmount: 1, TokenAmount: 0, Timestamp: 1}.Event()
	require.NoError(t, err, "type defaults to trade")
	require.NotNil(t, ev.Trade)
	assert.Error(t, ev.Trade.Validate(), "zero token amount yields an invalid price")
}
