package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/models"
)

// A nil feed stands in when redis is not configured, so every entry point
// must be a quiet no-op.
func TestNilFeed_EveryEntryPointIsANoOp(t *testing.T) {
	var f *Feed

	f.PublishTicket(ledger.Event{})
	f.PublishOpportunity(models.ArbitrageOpportunity{})
	assert.NoError(t, f.Run(context.Background()), "nil feed run")
	assert.NoError(t, f.Subscribe(context.Background(), nil, nil), "nil feed subscribe")
	assert.NoError(t, f.Close(), "nil feed close")
}

// Publishers run inside ledger listeners, under the asset lock. A full queue
// must drop the event, never block the caller.
func TestPublish_NeverBlocksOnAFullQueue(t *testing.T) {
	f := &Feed{queue: make(chan message, 1), logger: zerolog.Nop()}

	f.PublishTicket(ledger.Event{Seq: 1})

	done := make(chan struct{})
	go func() {
		f.PublishTicket(ledger.Event{Seq: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	require.Len(t, f.queue, 1, "the overflow event is dropped")

	got := <-f.queue
	assert.Equal(t, ticketChannel, got.channel)
	var ev ledger.Event
	require.NoError(t, json.Unmarshal(got.data, &ev))
	assert.Equal(t, 1, ev.Seq, "the first event keeps its slot")
}

func TestPublish_RoutesKindsToTheirChannels(t *testing.T) {
	f := &Feed{queue: make(chan message, 2), logger: zerolog.Nop()}

	f.PublishTicket(ledger.Event{Seq: 7})
	f.PublishOpportunity(models.ArbitrageOpportunity{ItemName: "AK-47 | Redline (Field-Tested)"})

	first := <-f.queue
	second := <-f.queue
	assert.Equal(t, ticketChannel, first.channel)
	assert.Equal(t, opportunityChannel, second.channel)

	var opp models.ArbitrageOpportunity
	require.NoError(t, json.Unmarshal(second.data, &opp))
	assert.Equal(t, "AK-47 | Redline (Field-Tested)", opp.ItemName)
}
