package inventory

import (
	"fmt"
	"time"

	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

// ItemData is the tracked state of one physical asset.
type ItemData struct {
	Asset         AssetRef      `json:"asset"`
	Status        ItemStatus    `json:"status"`
	ListingID     string        `json:"listing_id,omitempty"` // offer id while listed for sale
	BoughtFrom    market.Market `json:"bought_from,omitempty"`
	BoughtPrice   float64       `json:"bought_price,omitempty"`
	ListedPrice   float64       `json:"listed_price,omitempty"`    // our current ask while on a sale offer
	LockExpiresAt time.Time     `json:"lock_expires_at,omitempty"` // zero when not trade locked

	// Observed is set while the instance is known only from inventory
	// snapshots. The first ticket-validated status clears it; until then
	// later snapshots are trusted for lifecycle position too.
	Observed bool `json:"observed,omitempty"`
}

// InstanceView pairs an instance with the item name it belongs to. It is the
// unit inventory observations and lock scans are exchanged in.
type InstanceView struct {
	Name string   `json:"name"`
	Data ItemData `json:"data"`
}

// Count summarizes an item's position across statuses.
type Count struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	OnOffer   int `json:"on_offer"`
	OnHold    int `json:"on_hold"`
	Max       int `json:"max"` // cap on simultaneously held copies, 0 means uncapped
}

// HistoryEntry records one completed flip of a retired asset.
type HistoryEntry struct {
	AssetID     string        `json:"asset_id"`
	BoughtFrom  market.Market `json:"bought_from"`
	BoughtPrice float64       `json:"bought_price"`
	SoldOn      market.Market `json:"sold_on"`
	SoldPrice   float64       `json:"sold_price"`
	SoldAt      time.Time     `json:"sold_at"`
}

// Item aggregates everything known about one item name: the latest quote per
// market, the tracked asset instances, and the flip history of retired ones.
type Item struct {
	Name      string                          `json:"name"`
	Count     Count                           `json:"count"`
	Quotes    map[market.Market]pricing.Quote `json:"quotes"`
	Instances map[string]*ItemData            `json:"instances"`
	History   []HistoryEntry                  `json:"history,omitempty"`
}

func NewItem(name string, maxCopies int) *Item {
	return &Item{
		Name:      name,
		Count:     Count{Max: maxCopies},
		Quotes:    make(map[market.Market]pricing.Quote),
		Instances: make(map[string]*ItemData),
	}
}

// CanBuy reports whether another copy fits under the per-item cap.
func (it *Item) CanBuy() bool {
	return it.Count.Max <= 0 || it.Count.Total < it.Count.Max
}

// Reconcile merges an inventory snapshot fetched from a market into the
// tracked instances. Snapshots are trusted for identity and lock expiry but
// not for lifecycle position: a ticket-driven asset keeps its status, and
// brand new assets enter with the status the snapshot observed. Assets the
// ledger has never seen stay snapshot-driven, so a later sync can release an
// inherited item whose trade lock ran out without any ticket ever applying.
// An unknown status anywhere in the snapshot rejects the whole merge.
func (it *Item) Reconcile(observed []ItemData) error {
	for _, o := range observed {
		if !Known(o.Status) {
			return fmt.Errorf("reconcile %s: unknown status %q for asset %s", it.Name, string(o.Status), o.Asset.AssetID)
		}
	}

	for _, o := range observed {
		cur, ok := it.Instances[o.Asset.AssetID]
		if !ok {
			inst := o
			inst.Observed = true
			it.Instances[o.Asset.AssetID] = &inst
			continue
		}
		cur.Asset = mergeAssetRef(cur.Asset, o.Asset)
		if cur.Observed {
			cur.Status = o.Status
			cur.LockExpiresAt = o.LockExpiresAt
			continue
		}
		if !o.LockExpiresAt.IsZero() {
			cur.LockExpiresAt = o.LockExpiresAt
		}
	}

	it.recount()
	return nil
}

// SetStatus records a ticket-validated status on a tracked instance, creating
// the instance when a buy flow starts tracking a brand new asset. The caller
// is responsible for having validated the transition.
func (it *Item) SetStatus(asset AssetRef, status ItemStatus) *ItemData {
	inst, ok := it.Instances[asset.AssetID]
	if !ok {
		inst = &ItemData{Asset: asset}
		it.Instances[asset.AssetID] = inst
	} else {
		inst.Asset = mergeAssetRef(inst.Asset, asset)
	}
	inst.Status = status
	inst.Observed = false
	it.recount()
	return inst
}

// Retire moves a sold instance out of the live set and into history.
func (it *Item) Retire(assetID string, soldOn market.Market, soldPrice float64, at time.Time) {
	inst, ok := it.Instances[assetID]
	if !ok {
		return
	}
	it.History = append(it.History, HistoryEntry{
		AssetID:     assetID,
		BoughtFrom:  inst.BoughtFrom,
		BoughtPrice: inst.BoughtPrice,
		SoldOn:      soldOn,
		SoldPrice:   soldPrice,
		SoldAt:      at,
	})
	delete(it.Instances, assetID)
	it.recount()
}

// AvailableInstances lists tracked assets ready to be listed for sale.
func (it *Item) AvailableInstances() []*ItemData {
	out := make([]*ItemData, 0, it.Count.Available)
	for _, inst := range it.Instances {
		if inst.Status == StatusAvailable {
			out = append(out, inst)
		}
	}
	return out
}

func (it *Item) recount() {
	c := Count{Max: it.Count.Max, Total: len(it.Instances)}
	for _, inst := range it.Instances {
		switch inst.Status {
		case StatusAvailable:
			c.Available++
		case StatusOnSellOfferWaitingBuyer, StatusOnSellOfferWaitingTradeOffer, StatusOnSellOfferWaitingTrade:
			c.OnOffer++
		case StatusOnHold:
			c.OnHold++
		}
	}
	it.Count = c
}

func mergeAssetRef(cur, obs AssetRef) AssetRef {
	if obs.DMarketItemID != "" {
		cur.DMarketItemID = obs.DMarketItemID
	}
	if obs.CSMoneyItemID != "" {
		cur.CSMoneyItemID = obs.CSMoneyItemID
	}
	if obs.MarketCSGOItemID != "" {
		cur.MarketCSGOItemID = obs.MarketCSGOItemID
	}
	if obs.CSFloatOfferID != "" {
		cur.CSFloatOfferID = obs.CSFloatOfferID
	}
	return cur
}
