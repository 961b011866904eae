package bitskins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/market"
)

func newTestService(baseURL string, p executor.Policy) *Service {
	svc := New("test-key", executor.New(nil, p, zerolog.Nop()), zerolog.Nop())
	svc.baseURL = baseURL
	return svc
}

func TestFetchQuote_BucketsListingsByTradeHold(t *testing.T) {
	listings := `{"list": [
		{"id": "l1", "price": 12500, "tradehold": 0},
		{"id": "l2", "price": 11900, "tradehold": 2},
		{"id": "l3", "price": 12100, "tradehold": 1},
		{"id": "l4", "price": 11500, "tradehold": 4},
		{"id": "l5", "price": 10900, "tradehold": 7},
		{"id": "l6", "price": 0, "tradehold": 0}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/search/730", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-apikey"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		where := body["where"].(map[string]any)
		assert.Equal(t, "AK-47 | Redline (Field-Tested)", where["skin_name"])
		_, _ = w.Write([]byte(listings))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	q, err := svc.FetchQuote(context.Background(), "AK-47 | Redline (Field-Tested)")

	require.NoError(t, err)
	assert.Equal(t, market.BitSkins, q.Market)
	assert.Equal(t, 12.5, q.BuyPrice, "wire prices are thousandths of a dollar")
	assert.Equal(t, [3]float64{11.9, 11.5, 10.9}, q.BuyPriceByHoldTier, "cheapest listing per hold tier")
	assert.Equal(t, 13.16, q.BuyPriceWithCommission, "5 percent buyer fee grossed up, ceil to cents")
	assert.Equal(t, [3]float64{12.53, 12.11, 11.48}, q.BuyPriceByHoldTierWithCommission)
	assert.Equal(t, 10.9, q.SellPrice)
	assert.InDelta(t, 10.9*0.88, q.SellPriceWithCommission, 1e-9)
}

func TestFetchQuote_BackfillsEmptyTiersWithImmediate(t *testing.T) {
	listings := `{"list": [
		{"id": "l1", "price": 10000, "tradehold": 0},
		{"id": "l2", "price": 9000, "tradehold": 6}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listings))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	q, err := svc.FetchQuote(context.Background(), "AK-47 | Redline (Field-Tested)")

	require.NoError(t, err)
	assert.Equal(t, [3]float64{10, 10, 9}, q.BuyPriceByHoldTier, "unfilled tiers take the immediate price")
	assert.Equal(t, 10.53, q.BuyPriceByHoldTierWithCommission[0])
	assert.Equal(t, 9.0, q.SellPrice, "lowest across every tier")
}

func TestFetchQuote_NoListingsIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list": []}`))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	_, err := svc.FetchQuote(context.Background(), "AK-47 | Redline (Field-Tested)")

	assert.Error(t, err)
}

func TestHoldTier_Buckets(t *testing.T) {
	cases := []struct {
		days int
		tier int
	}{
		{0, -1},
		{1, 0},
		{2, 0},
		{3, 1},
		{4, 1},
		{5, 2},
		{7, 2},
		{9, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tier, holdTier(tc.days), "tradehold of %d days", tc.days)
	}
}

func TestBuy_ParsesConfirmedPurchase(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/buy/single", r.URL.Path)
		hits.Add(1)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(12500), body["max_price"], "max price goes out in thousandths")
		_, _ = w.Write([]byte(`{"id": "o-1", "asset_id": "40441", "price": 12400}`))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	p, err := svc.Buy(context.Background(), "l1", 12.5)

	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "o-1", p.OrderID)
	assert.Equal(t, "40441", p.AssetID)
	assert.Equal(t, 12.4, p.Price)
}

func TestBuy_ReconcilesLostReplyAgainstHistory(t *testing.T) {
	var buyHits, historyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/buy/single":
			buyHits.Add(1)
			time.Sleep(300 * time.Millisecond) // outlives the per-attempt window
		case "/market/history/list":
			historyHits.Add(1)
			_, _ = w.Write([]byte(`{"list": [{"id": "o-9", "item_id": "l1", "asset_id": "40441", "price": 12400}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.Policy{Timeout: 30 * time.Millisecond, MaxRetries: 3, Backoff: time.Millisecond})
	p, err := svc.Buy(context.Background(), "l1", 12.5)

	require.NoError(t, err, "the purchase went through even though the reply was lost")
	assert.Equal(t, int32(1), buyHits.Load(), "a lost buy reply must not be replayed")
	assert.Equal(t, int32(1), historyHits.Load())
	assert.Equal(t, "o-9", p.OrderID)
	assert.Equal(t, 12.4, p.Price)
}

func TestBuy_UnknownOutcomeWithoutPurchaseFails(t *testing.T) {
	var buyHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/buy/single":
			buyHits.Add(1)
			time.Sleep(300 * time.Millisecond)
		case "/market/history/list":
			_, _ = w.Write([]byte(`{"list": []}`))
		}
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.Policy{Timeout: 30 * time.Millisecond, MaxRetries: 3, Backoff: time.Millisecond})
	_, err := svc.Buy(context.Background(), "l1", 12.5)

	assert.ErrorIs(t, err, executor.ErrRetriesExhausted)
	assert.Equal(t, int32(1), buyHits.Load())
}

func TestBuyCheapest_SkipsIneligibleListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/search/730":
			_, _ = w.Write([]byte(`{"list": [
				{"id": "l1", "price": 9900, "tradehold": 7},
				{"id": "l2", "price": 10400, "tradehold": 2},
				{"id": "l3", "price": 10600, "tradehold": 0}
			]}`))
		case "/market/buy/single":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "l2", body["id"], "the cheap listing has too long a hold, the next one wins")
			_, _ = w.Write([]byte(`{"id": "o-1", "asset_id": "a-77", "price": 10400}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	assetID, price, err := svc.BuyCheapest(context.Background(), "AK-47 | Redline (Field-Tested)", 10.5, 4)

	require.NoError(t, err)
	assert.Equal(t, "a-77", assetID)
	assert.Equal(t, 10.4, price)
}

func TestBuyCheapest_NoEligibleListingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/search/730", r.URL.Path, "nothing eligible means nothing is bought")
		_, _ = w.Write([]byte(`{"list": [{"id": "l1", "price": 11000, "tradehold": 0}]}`))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	_, _, err := svc.BuyCheapest(context.Background(), "AK-47 | Redline (Field-Tested)", 10.5, 7)
	require.ErrorContains(t, err, "no listing")
}

func TestWithdraw_NeverRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.Policy{Timeout: 30 * time.Millisecond, MaxRetries: 3, Backoff: time.Millisecond})
	err := svc.Withdraw(context.Background(), "40441")

	assert.ErrorIs(t, err, executor.ErrRetriesExhausted)
	assert.Equal(t, int32(1), hits.Load(), "a lost withdraw reply must not be replayed")
}

func TestFetchSaleStats_AggregatesDailyHistory(t *testing.T) {
	now := time.Now().UTC()
	var rows []string
	for _, daysAgo := range []int{1, 2, 3, 4, 5, 6, 10, 20} {
		rows = append(rows, fmt.Sprintf(`{"date": %q, "price_avg": 10000, "sales": 1}`,
			now.AddDate(0, 0, -daysAgo).Format("2006-01-02")))
	}
	history := `{"list": [` + strings.Join(rows, ",") + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/pricing/list", r.URL.Path)
		_, _ = w.Write([]byte(history))
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, executor.DefaultPolicy())
	stats, err := svc.FetchSaleStats(context.Background(), "AK-47 | Redline (Field-Tested)")

	require.NoError(t, err)
	assert.InDelta(t, 10.0, stats.WeeklyAvgPrice, 1e-9)
	assert.InDelta(t, 10.0*0.88, stats.WeeklyAvgPriceWithComm, 1e-9)
	assert.InDelta(t, 10.0, stats.MonthlyAvgPrice, 1e-9)
	assert.Equal(t, 8, stats.MonthlySaleCount)
}
