package marketcsgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/executor"
)

func newTestService(baseURL string) *Service {
	svc := New("test-key", executor.New(nil, executor.DefaultPolicy(), zerolog.Nop()), zerolog.Nop())
	svc.baseURL = baseURL
	return svc
}

func TestPollStatuses_MapsWireStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/items", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"success": true, "items": [
			{"item_id": "i1", "status": "1", "price": 10500},
			{"item_id": "i2", "status": "2", "price": 10500},
			{"item_id": "i3", "status": "3", "price": 10500, "trade_id": "t-3"},
			{"item_id": "i4", "status": "5", "price": 10500},
			{"item_id": "i5", "status": "6", "price": 10500}
		]}`))
	}))
	defer srv.Close()

	events, err := newTestService(srv.URL).PollStatuses(context.Background())

	require.NoError(t, err)
	require.Len(t, events, 4, "listed offers produce no event")
	assert.Equal(t, OfferBought, events[0].Kind)
	assert.Equal(t, OfferTradeSent, events[1].Kind)
	assert.Equal(t, "t-3", events[1].TradeID)
	assert.Equal(t, OfferDelivered, events[2].Kind)
	assert.Equal(t, OfferCanceled, events[3].Kind)
	assert.Equal(t, 10.5, events[0].Price, "wire prices are thousandths")
}

func TestEventKind_CoversTheWireStatusSet(t *testing.T) {
	for wire, want := range map[string]OfferEventKind{
		"2": OfferBought,
		"3": OfferTradeSent,
		"5": OfferDelivered,
		"6": OfferCanceled,
	} {
		kind, ok := eventKind(wire)
		require.True(t, ok, "status %s", wire)
		assert.Equal(t, want, kind)
	}

	_, ok := eventKind(wireStatusListed)
	assert.False(t, ok, "a listing waiting for a buyer is not an event")
	_, ok = eventKind("4")
	assert.False(t, ok, "statuses off the known set are dropped")
}

func TestCreateOffer_SendsThousandthsPrice(t *testing.T) {
	var gotItem, gotPrice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/add-to-sale", r.URL.Path)
		gotItem = r.URL.Query().Get("item_id")
		gotPrice = r.URL.Query().Get("price")
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	err := newTestService(srv.URL).CreateOffer(context.Background(), "i1", 10.538)

	require.NoError(t, err)
	assert.Equal(t, "i1", gotItem)
	assert.Equal(t, "10538", gotPrice, "the market accepts tenth-of-a-cent steps")
}

func TestGet_SurfacesEnvelopeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "item not found"}`))
	}))
	defer srv.Close()

	err := newTestService(srv.URL).CreateOffer(context.Background(), "i1", 10.5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "item not found")
}
