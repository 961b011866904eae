package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
	"csgo-arbiter/internal/trader"
)

func newTestRouter() (*gin.Engine, *trader.Store, *ledger.Ledger) {
	gin.SetMode(gin.TestMode)
	st := trader.NewStore()
	lg := ledger.New(nil, zerolog.Nop())
	lg.AddListener(st.ApplyEvent)
	r := gin.New()
	SetupRoutes(r.Group("/api/v1"), st, lg, nil)
	return r, st, lg
}

func doGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestListItems_FiltersBySearch(t *testing.T) {
	router, st, _ := newTestRouter()
	st.Track("AK-47 | Redline (Field-Tested)", 2)
	st.Track("AWP | Asiimov (Field-Tested)", 1)

	w := doGet(router, "/api/v1/items?search=awp")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int `json:"code"`
		Data struct {
			Count int              `json:"count"`
			Total int              `json:"total"`
			Items []inventory.Item `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "AWP | Asiimov (Field-Tested)", resp.Data.Items[0].Name)
}

func TestGetItem_UnknownNameIs404(t *testing.T) {
	router, _, _ := newTestRouter()
	w := doGet(router, "/api/v1/items/never-tracked")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTicketLog_ReturnsTheAssetWalk(t *testing.T) {
	router, _, lg := newTestRouter()
	asset := inventory.AssetRef{AssetID: "a1"}
	for _, change := range []inventory.StatusChange{
		inventory.NewBuyStart(market.BitSkins),
		inventory.NewBuySuccess(market.BitSkins),
	} {
		_, err := lg.Append(context.Background(), inventory.NewTicket("AK-47 | Redline (Field-Tested)", asset, change))
		require.NoError(t, err)
	}

	w := doGet(router, "/api/v1/tickets/a1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			AssetID string         `json:"asset_id"`
			Status  string         `json:"status"`
			Events  []ledger.Event `json:"events"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "a1", resp.Data.AssetID)
	assert.Equal(t, string(inventory.StatusBought), resp.Data.Status)
	require.Len(t, resp.Data.Events, 2)
	assert.Equal(t, 1, resp.Data.Events[0].Seq)

	w = doGet(router, "/api/v1/tickets/never-seen")
	assert.Equal(t, http.StatusNotFound, w.Code, "an asset with no tickets has no log to show")
}

func TestCompare_ReportsDirectionalPairs(t *testing.T) {
	router, st, _ := newTestRouter()
	st.UpdateQuote("AK-47 | Redline (Field-Tested)", pricing.Quote{
		Market:   market.BitSkins,
		BuyPrice: 10, BuyPriceWithCommission: 10.5,
		SellPrice: 9.8, SellPriceWithCommission: 8.62,
	})
	st.UpdateQuote("AK-47 | Redline (Field-Tested)", pricing.Quote{
		Market:   market.MarketCSGO,
		BuyPrice: 13, BuyPriceWithCommission: 13,
		SellPrice: 13, SellPriceWithCommission: 12.35,
	})

	w := doGet(router, "/api/v1/compare")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Count int          `json:"count"`
			Pairs []pairReport `json:"pairs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Count, "both directions of the single quote pair")

	var found bool
	for _, p := range resp.Data.Pairs {
		if p.BuyMarket == market.BitSkins.String() && p.SellMarket == market.MarketCSGO.String() {
			found = true
			require.Len(t, p.Compares, 1)
			assert.InDelta(t, 3.0, p.Compares[0].DiffValueBeforeComm, 1e-9)
		}
	}
	assert.True(t, found, "the bitskins to marketcsgo direction must be reported")
}

func TestOpportunities_PersistenceDisabledIs503(t *testing.T) {
	router, _, _ := newTestRouter()
	w := doGet(router, "/api/v1/opportunities")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
