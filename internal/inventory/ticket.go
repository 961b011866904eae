package inventory

import (
	"time"

	"github.com/google/uuid"

	"csgo-arbiter/internal/market"
)

// AssetRef carries every identifier an asset is known by. Markets name the
// same physical item differently; the Steam asset id is the canonical key
// and the rest are per-market translations.
type AssetRef struct {
	AssetID          string `json:"asset_id"`
	DMarketItemID    string `json:"dmarket_item_id,omitempty"`
	CSMoneyItemID    string `json:"csmoney_item_id,omitempty"`
	MarketCSGOItemID string `json:"marketcsgo_item_id,omitempty"`
	CSFloatOfferID   string `json:"csfloat_offer_id,omitempty"`
}

// MarketID returns the identifier this asset goes by on the given market,
// falling back to the Steam asset id where no translation exists.
func (a AssetRef) MarketID(m market.Market) string {
	switch m {
	case market.DMarket:
		if a.DMarketItemID != "" {
			return a.DMarketItemID
		}
	case market.CSMoney:
		if a.CSMoneyItemID != "" {
			return a.CSMoneyItemID
		}
	case market.MarketCSGO:
		if a.MarketCSGOItemID != "" {
			return a.MarketCSGOItemID
		}
	case market.CSFloat:
		if a.CSFloatOfferID != "" {
			return a.CSFloatOfferID
		}
	}
	return a.AssetID
}

// StatusChangeTicket binds one status change to one asset. Tickets are the
// only input the lifecycle accepts; everything that happens to an asset is
// expressed as one of these.
type StatusChangeTicket struct {
	ID        string       `json:"id"`
	ItemName  string       `json:"item_name"`
	Asset     AssetRef     `json:"asset"`
	Change    StatusChange `json:"change"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewTicket stamps a status change with a fresh id and creation time.
func NewTicket(itemName string, asset AssetRef, change StatusChange) StatusChangeTicket {
	return StatusChangeTicket{
		ID:        uuid.NewString(),
		ItemName:  itemName,
		Asset:     asset,
		Change:    change,
		CreatedAt: time.Now().UTC(),
	}
}
