package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/market"
)

func newTestService(baseURL string, p executor.Policy) *Service {
	svc := New("76561198000000001", "test-key", "sessionid=sess-abc; steamLoginSecure=token",
		executor.New(nil, p, zerolog.Nop()), zerolog.Nop())
	svc.baseURL = baseURL
	svc.apiURL = baseURL
	return svc
}

func TestFetchInventory_MergesPagesAndFiltersIgnoredNames(t *testing.T) {
	pageOne := `{
		"assets": [
			{"assetid": "9000", "classid": "c1", "instanceid": "i1", "amount": "1"},
			{"assetid": "9001", "classid": "c2", "instanceid": "i2", "amount": "1"}
		],
		"descriptions": [
			{"classid": "c1", "instanceid": "i1", "market_hash_name": "AK-47 | Redline (Field-Tested)", "tradable": 1, "marketable": 1},
			{"classid": "c2", "instanceid": "i2", "market_hash_name": "Operation Bravo Case", "tradable": 1, "marketable": 1}
		],
		"more_items": 1,
		"last_assetid": "9001",
		"success": 1
	}`
	pageTwo := `{
		"assets": [
			{"assetid": "9002", "classid": "c3", "instanceid": "i3", "amount": "1"}
		],
		"descriptions": [
			{"classid": "c3", "instanceid": "i3", "market_hash_name": "AWP | Asiimov (Field-Tested)", "tradable": 0, "marketable": 1, "cache_expiration": "2024-06-01T08:00:00Z"}
		],
		"success": 1
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/inventory/76561198000000001/730/2", r.URL.Path)
		if r.URL.Query().Get("start_assetid") == "" {
			_, _ = w.Write([]byte(pageOne))
			return
		}
		require.Equal(t, "9001", r.URL.Query().Get("start_assetid"), "second page must resume at the reported cursor")
		_, _ = w.Write([]byte(pageTwo))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	views, err := svc.FetchInventory(context.Background())

	require.NoError(t, err)
	require.Len(t, views, 2, "the case must be filtered out")

	assert.Equal(t, "AK-47 | Redline (Field-Tested)", views[0].Name)
	assert.Equal(t, "9000", views[0].Data.Asset.AssetID)
	assert.Equal(t, inventory.StatusAvailable, views[0].Data.Status)

	assert.Equal(t, "AWP | Asiimov (Field-Tested)", views[1].Name)
	assert.Equal(t, inventory.StatusOnHold, views[1].Data.Status)
	assert.WithinDuration(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), views[1].Data.LockExpiresAt, 0)
}

func TestScanTradeLocks_EmitsOnlyExpiredLocks(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	views := []inventory.InstanceView{
		{Name: "AWP | Asiimov (Field-Tested)", Data: inventory.ItemData{
			Asset:         inventory.AssetRef{AssetID: "a-expired"},
			Status:        inventory.StatusOnHold,
			LockExpiresAt: now.Add(-time.Hour),
		}},
		{Name: "AK-47 | Redline (Field-Tested)", Data: inventory.ItemData{
			Asset:         inventory.AssetRef{AssetID: "a-still-locked"},
			Status:        inventory.StatusOnHold,
			LockExpiresAt: now.Add(48 * time.Hour),
		}},
		{Name: "M4A4 | Asiimov (Field-Tested)", Data: inventory.ItemData{
			Asset:  inventory.AssetRef{AssetID: "a-free"},
			Status: inventory.StatusAvailable,
		}},
		{Name: "Glock-18 | Fade (Factory New)", Data: inventory.ItemData{
			Asset:  inventory.AssetRef{AssetID: "a-unknown-expiry"},
			Status: inventory.StatusOnHold,
		}},
	}

	tickets := ScanTradeLocks(views, now)

	require.Len(t, tickets, 1)
	assert.Equal(t, "a-expired", tickets[0].Asset.AssetID)
	assert.Equal(t, inventory.ChangeTradeLockDone, tickets[0].Change.Kind)
	assert.Equal(t, "AWP | Asiimov (Field-Tested)", tickets[0].ItemName)
	assert.NotEmpty(t, tickets[0].ID)
}

func TestFetchQuote_ParsesDisplayPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/priceoverview/", r.URL.Path)
		assert.Equal(t, "AWP | Dragon Lore (Factory New)", r.URL.Query().Get("market_hash_name"))
		_, _ = w.Write([]byte(`{"success":true,"lowest_price":"$1,234.56","volume":"12","median_price":"$1,240.00"}`))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	q, err := svc.FetchQuote(context.Background(), "AWP | Dragon Lore (Factory New)")

	require.NoError(t, err)
	assert.Equal(t, market.Steam, q.Market)
	assert.Equal(t, 1234.56, q.BuyPrice)
	assert.Equal(t, 1234.56, q.BuyPriceWithCommission, "steam charges the buyer nothing on top")
	assert.InDelta(t, 1234.56*(1-13.04/100), q.SellPriceWithCommission, 1e-9)
}

func TestAcceptTradeOffer_SendsSessionForm(t *testing.T) {
	var gotCookie, gotSession, gotOffer, gotPartner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotCookie = r.Header.Get("Cookie")
		gotSession = r.PostFormValue("sessionid")
		gotOffer = r.PostFormValue("tradeofferid")
		gotPartner = r.PostFormValue("partner")
		_, _ = w.Write([]byte(`{"tradeid":"t-1"}`))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	err := svc.AcceptTradeOffer(context.Background(), "offer-77", "12345678")

	require.NoError(t, err)
	assert.Equal(t, "sessionid=sess-abc; steamLoginSecure=token", gotCookie)
	assert.Equal(t, "sess-abc", gotSession, "session id is lifted from the cookie")
	assert.Equal(t, "offer-77", gotOffer)
	assert.Equal(t, "12345678", gotPartner)
}

func TestAcceptTradeOffer_NeverRetriesTimeouts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.Policy{Timeout: 30 * time.Millisecond, MaxRetries: 4, Backoff: time.Millisecond})
	err := svc.AcceptTradeOffer(context.Background(), "offer-77", "12345678")

	assert.ErrorIs(t, err, executor.ErrRetriesExhausted)
	assert.Equal(t, int32(1), hits.Load(), "accepting a trade twice could move two items")
}
