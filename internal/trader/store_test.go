package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

const redline = "AK-47 | Redline (Field-Tested)"

func event(seq int, name, assetID string, change inventory.StatusChange, status inventory.ItemStatus) ledger.Event {
	return ledger.Event{
		Ticket: inventory.NewTicket(name, inventory.AssetRef{AssetID: assetID}, change),
		Seq:    seq,
		Status: status,
	}
}

func TestStore_ApplyEventTracksBuyLegAndRetiresSales(t *testing.T) {
	s := NewStore()
	s.Track(redline, 3)

	buy := inventory.NewBuySuccess(market.BitSkins)
	buy.Price = 10.5
	s.ApplyEvent(event(1, redline, "a1", inventory.NewBuyStart(market.BitSkins), inventory.StatusOnBuyOfferWaitingSeller))
	s.ApplyEvent(event(2, redline, "a1", buy, inventory.StatusBought))

	it, ok := s.Item(redline)
	require.True(t, ok)
	require.Contains(t, it.Instances, "a1")
	assert.Equal(t, market.BitSkins, it.Instances["a1"].BoughtFrom)
	assert.Equal(t, 10.5, it.Instances["a1"].BoughtPrice)
	assert.Equal(t, 1, it.Count.Total)
	assert.Equal(t, 0, it.Count.Available, "a bought instance is not sellable yet")

	name, ok := s.ItemNameByAsset("a1")
	require.True(t, ok)
	assert.Equal(t, redline, name)

	s.ApplyEvent(event(3, redline, "a1", inventory.NewTradeLockDone(), inventory.StatusAvailable))
	it, _ = s.Item(redline)
	assert.Equal(t, 1, it.Count.Available)

	s.ApplyEvent(event(4, redline, "a1", inventory.NewSellSuccess(market.MarketCSGO, 12.9), inventory.StatusSold))
	it, _ = s.Item(redline)
	assert.Equal(t, 0, it.Count.Total, "sold instances leave the live set")
	require.Len(t, it.History, 1)
	assert.Equal(t, 10.5, it.History[0].BoughtPrice)
	assert.Equal(t, 12.9, it.History[0].SoldPrice)
	assert.Equal(t, market.MarketCSGO, it.History[0].SoldOn)

	_, ok = s.ItemNameByAsset("a1")
	assert.False(t, ok, "retired assets drop out of the index")
}

func TestStore_ReconcileRecountsObservedInstances(t *testing.T) {
	s := NewStore()
	s.Track(redline, 5)

	lock := time.Now().UTC().Add(72 * time.Hour)
	err := s.Reconcile([]inventory.InstanceView{
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "a1"}, Status: inventory.StatusAvailable}},
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "a2"}, Status: inventory.StatusAvailable}},
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "a3"}, Status: inventory.StatusOnHold, LockExpiresAt: lock}},
	})
	require.NoError(t, err)

	it, ok := s.Item(redline)
	require.True(t, ok)
	assert.Equal(t, 3, it.Count.Total)
	assert.Equal(t, 2, it.Count.Available)
	assert.Equal(t, 1, it.Count.OnHold)

	// A ticket moves a2 onto a sale offer; a later inventory observation of
	// "available" must not pull it back.
	s.ApplyEvent(event(1, redline, "a2", inventory.NewSellOfferCreated(market.MarketCSGO), inventory.StatusOnSellOfferWaitingBuyer))
	err = s.Reconcile([]inventory.InstanceView{
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "a2"}, Status: inventory.StatusAvailable}},
	})
	require.NoError(t, err)

	it, _ = s.Item(redline)
	assert.Equal(t, 1, it.Count.Available)
	assert.Equal(t, 1, it.Count.OnOffer, "ticket-driven status wins over the snapshot")
	assert.Equal(t, 1, it.Count.OnHold)

	views := s.AvailableViews(redline)
	require.Len(t, views, 1)
	assert.Equal(t, "a1", views[0].Data.Asset.AssetID)
}

func TestStore_ReconcileReleasesInheritedHoldsWithoutTickets(t *testing.T) {
	s := NewStore()
	s.Track(redline, 5)

	// An inherited instance enters the book trade locked; its lock expiry is
	// unknown to the scanner, so no ticket will ever release it.
	err := s.Reconcile([]inventory.InstanceView{
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "h1"}, Status: inventory.StatusOnHold, LockExpiresAt: time.Now().UTC().Add(-time.Hour)}},
	})
	require.NoError(t, err)

	it, _ := s.Item(redline)
	assert.Equal(t, 1, it.Count.OnHold)

	err = s.Reconcile([]inventory.InstanceView{
		{Name: redline, Data: inventory.ItemData{Asset: inventory.AssetRef{AssetID: "h1"}, Status: inventory.StatusAvailable}},
	})
	require.NoError(t, err)

	it, _ = s.Item(redline)
	assert.Equal(t, inventory.StatusAvailable, it.Instances["h1"].Status,
		"a later snapshot releases an asset the ledger never saw")
	assert.Equal(t, 1, it.Count.Available)
	assert.Zero(t, it.Count.OnHold)
}

func TestStore_LowestOwnAskTracksLiveListings(t *testing.T) {
	s := NewStore()
	s.Track(redline, 3)
	assert.Zero(t, s.LowestOwnAsk(redline), "nothing listed, nothing to match")

	first := inventory.NewSellOfferCreated(market.MarketCSGO)
	first.Price = 13.4
	s.ApplyEvent(event(1, redline, "a1", first, inventory.StatusOnSellOfferWaitingBuyer))

	second := inventory.NewSellOfferCreated(market.MarketCSGO)
	second.Price = 13.2
	s.ApplyEvent(event(2, redline, "a2", second, inventory.StatusOnSellOfferWaitingBuyer))

	assert.Equal(t, 13.2, s.LowestOwnAsk(redline))

	s.ApplyEvent(event(3, redline, "a2", inventory.NewSellTradeCanceled(), inventory.StatusAvailable))
	assert.Equal(t, 13.4, s.LowestOwnAsk(redline), "a canceled offer drops out of the ask")

	it, _ := s.Item(redline)
	assert.Zero(t, it.Instances["a2"].ListedPrice)
}

func TestStore_SnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	s := NewStore()
	s.Track(redline, 1)
	s.UpdateQuote(redline, pricing.Quote{Market: market.BitSkins, BuyPrice: 10, BuyPriceWithCommission: 10.5})

	snap := s.Snapshot()
	require.Len(t, snap[redline], 1)
	require.Equal(t, 10.0, snap[redline][0].BuyPrice)

	s.UpdateQuote(redline, pricing.Quote{Market: market.BitSkins, BuyPrice: 20, BuyPriceWithCommission: 21})
	assert.Equal(t, 10.0, snap[redline][0].BuyPrice, "a snapshot must not see later quote updates")

	snap[redline][0].BuyPrice = 999
	fresh := s.Snapshot()
	assert.Equal(t, 20.0, fresh[redline][0].BuyPrice, "mutating a snapshot must not leak into the store")
}

func TestStore_UpdateQuoteKeepsStatsUntilReplaced(t *testing.T) {
	s := NewStore()
	s.Track(redline, 1)

	stats := &pricing.SaleStats{WeeklyAvgPrice: 12, WeeklyAvgPriceWithComm: 11.4}
	s.SetStats(redline, market.MarketCSGO, stats)
	s.UpdateQuote(redline, pricing.Quote{Market: market.MarketCSGO, SellPrice: 12.5})

	it, _ := s.Item(redline)
	require.NotNil(t, it.Quotes[market.MarketCSGO].SaleStats, "quote refreshes keep the attached stats")
	assert.Equal(t, 12.0, it.Quotes[market.MarketCSGO].SaleStats.WeeklyAvgPrice)

	newer := &pricing.SaleStats{WeeklyAvgPrice: 13}
	s.UpdateQuote(redline, pricing.Quote{Market: market.MarketCSGO, SellPrice: 12.5, SaleStats: newer})
	it, _ = s.Item(redline)
	assert.Equal(t, 13.0, it.Quotes[market.MarketCSGO].SaleStats.WeeklyAvgPrice)
}

func TestStore_CanBuyHonorsCopyCap(t *testing.T) {
	s := NewStore()
	assert.False(t, s.CanBuy(redline), "unknown items cannot be bought")

	s.Track(redline, 1)
	assert.True(t, s.CanBuy(redline))

	s.ApplyEvent(event(1, redline, "a1", inventory.NewBuySuccess(market.BitSkins), inventory.StatusBought))
	assert.False(t, s.CanBuy(redline), "the cap counts live instances in any status")
}

func TestStore_TrackedNamesAreSorted(t *testing.T) {
	s := NewStore()
	s.Track("M4A4 | Asiimov (Field-Tested)", 1)
	s.Track("AK-47 | Redline (Field-Tested)", 1)
	s.Track("AWP | Asiimov (Field-Tested)", 1)

	assert.Equal(t, []string{
		"AK-47 | Redline (Field-Tested)",
		"AWP | Asiimov (Field-Tested)",
		"M4A4 | Asiimov (Field-Tested)",
	}, s.TrackedNames())
}
