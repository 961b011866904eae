package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csgo-arbiter/internal/market"
)

func TestItem_ReconcileKeepsTicketDrivenStatus(t *testing.T) {
	it := NewItem("AK-47 | Slate (Factory New)", 3)
	it.SetStatus(AssetRef{AssetID: "1001"}, StatusOnSellOfferWaitingBuyer)

	err := it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "1001", MarketCSGOItemID: "m-77"}, Status: StatusAvailable},
		{Asset: AssetRef{AssetID: "1002"}, Status: StatusAvailable},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusOnSellOfferWaitingBuyer, it.Instances["1001"].Status,
		"a snapshot must not override the lifecycle position of a tracked asset")
	assert.Equal(t, "m-77", it.Instances["1001"].Asset.MarketCSGOItemID,
		"identity translations from the snapshot are merged in")
	assert.Equal(t, StatusAvailable, it.Instances["1002"].Status,
		"new assets enter with their observed status")

	assert.Equal(t, 2, it.Count.Total)
	assert.Equal(t, 1, it.Count.Available)
	assert.Equal(t, 1, it.Count.OnOffer)
}

func TestItem_ReconcileTrustsSnapshotsForTicketlessAssets(t *testing.T) {
	it := NewItem("AK-47 | Slate (Factory New)", 3)

	lock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	err := it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "1101"}, Status: StatusOnHold, LockExpiresAt: lock},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, it.Count.OnHold)

	// The lock ran out; no ticket ever tracked this asset, so the next sync
	// is the only thing that can release it.
	err = it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "1101"}, Status: StatusAvailable},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAvailable, it.Instances["1101"].Status)
	assert.True(t, it.Instances["1101"].LockExpiresAt.IsZero())
	assert.Equal(t, 1, it.Count.Available)
	assert.Zero(t, it.Count.OnHold)

	// Once a ticket drives the asset, snapshots stop steering its status.
	it.SetStatus(AssetRef{AssetID: "1101"}, StatusOnSellOfferWaitingBuyer)
	err = it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "1101"}, Status: StatusAvailable},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOnSellOfferWaitingBuyer, it.Instances["1101"].Status)
}

func TestItem_ReconcileRejectsUnknownStatusWholesale(t *testing.T) {
	it := NewItem("M4A4 | Howl (Field-Tested)", 1)

	err := it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "2001"}, Status: StatusAvailable},
		{Asset: AssetRef{AssetID: "2002"}, Status: ItemStatus("listed")},
	})

	require.Error(t, err)
	assert.Empty(t, it.Instances, "nothing merges when any snapshot row is invalid")
}

func TestItem_ReconcileUpdatesLockExpiry(t *testing.T) {
	it := NewItem("AWP | Chromatic Aberration (Factory New)", 2)
	it.SetStatus(AssetRef{AssetID: "3001"}, StatusOnHold)

	unlock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	err := it.Reconcile([]ItemData{
		{Asset: AssetRef{AssetID: "3001"}, Status: StatusOnHold, LockExpiresAt: unlock},
	})
	require.NoError(t, err)

	assert.Equal(t, unlock, it.Instances["3001"].LockExpiresAt)
	assert.Equal(t, 1, it.Count.OnHold)
}

func TestItem_RetireMovesInstanceToHistory(t *testing.T) {
	it := NewItem("Glock-18 | Water Elemental (Minimal Wear)", 2)
	inst := it.SetStatus(AssetRef{AssetID: "4001"}, StatusOnSellOfferWaitingTrade)
	inst.BoughtFrom = market.DMarket
	inst.BoughtPrice = 3.20

	soldAt := time.Date(2024, 6, 2, 15, 30, 0, 0, time.UTC)
	it.Retire("4001", market.MarketCSGO, 4.10, soldAt)

	assert.Empty(t, it.Instances)
	assert.Zero(t, it.Count.Total)
	require.Len(t, it.History, 1)

	flip := it.History[0]
	assert.Equal(t, "4001", flip.AssetID)
	assert.Equal(t, market.DMarket, flip.BoughtFrom)
	assert.InDelta(t, 3.20, flip.BoughtPrice, 1e-9)
	assert.Equal(t, market.MarketCSGO, flip.SoldOn)
	assert.InDelta(t, 4.10, flip.SoldPrice, 1e-9)
	assert.Equal(t, soldAt, flip.SoldAt)
}

func TestItem_CanBuyHonorsCap(t *testing.T) {
	it := NewItem("P250 | Sand Dune (Field-Tested)", 2)
	assert.True(t, it.CanBuy())

	it.SetStatus(AssetRef{AssetID: "5001"}, StatusBought)
	assert.True(t, it.CanBuy())

	it.SetStatus(AssetRef{AssetID: "5002"}, StatusOnHold)
	assert.False(t, it.CanBuy(), "two tracked copies exhaust a cap of two")

	uncapped := NewItem("P250 | Sand Dune (Field-Tested)", 0)
	uncapped.SetStatus(AssetRef{AssetID: "6001"}, StatusBought)
	assert.True(t, uncapped.CanBuy(), "zero cap means uncapped")
}

func TestAssetRef_MarketIDFallsBackToSteamID(t *testing.T) {
	ref := AssetRef{AssetID: "7001", DMarketItemID: "dm-1"}

	assert.Equal(t, "dm-1", ref.MarketID(market.DMarket))
	assert.Equal(t, "7001", ref.MarketID(market.CSMoney), "missing translation falls back")
	assert.Equal(t, "7001", ref.MarketID(market.Steam))
}
