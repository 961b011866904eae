package trader

import (
	"encoding/json"

	"gorm.io/gorm"

	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/pricing"
)

// LoadPersistedQuotes fills the book from the quote snapshot rows the trading
// daemon writes each cycle, so processes without a live poller still serve a
// populated book. Rows come back oldest first, so the newest quote per item
// and market wins. Returns the number of rows applied.
func LoadPersistedQuotes(db *gorm.DB, store *Store, names []string) (int, error) {
	var rows []models.QuoteSnapshot
	if err := db.Where("item_name IN ?", names).Order("fetched_at").Find(&rows).Error; err != nil {
		return 0, err
	}
	applied := 0
	for _, row := range rows {
		name, q, ok := quoteFromSnapshot(row)
		if !ok {
			continue
		}
		store.UpdateQuote(name, q)
		applied++
	}
	return applied, nil
}

// quoteFromSnapshot rebuilds a live quote from one persisted row. Rows naming
// a market this build does not know are skipped, not fatal: old snapshots
// outlive market integrations.
func quoteFromSnapshot(row models.QuoteSnapshot) (string, pricing.Quote, bool) {
	m, err := market.Parse(row.Market)
	if err != nil {
		return "", pricing.Quote{}, false
	}
	q := pricing.Quote{
		Market:                  m,
		BuyPrice:                row.BuyPrice,
		BuyPriceWithCommission:  row.BuyPriceWithCommission,
		SellPrice:               row.SellPrice,
		SellPriceWithCommission: row.SellPriceWithCommission,
	}
	if comm, err := market.Commissions(m); err == nil {
		q.CommissionPercent = comm.SellTotalPercent()
	}
	if row.HoldTierJSON != "" {
		var tiers models.HoldTiers
		if err := json.Unmarshal([]byte(row.HoldTierJSON), &tiers); err == nil {
			q.BuyPriceByHoldTier = tiers.Prices
			q.BuyPriceByHoldTierWithCommission = tiers.WithCommission
		}
	}
	if row.SaleStatsJSON != "" {
		var stats pricing.SaleStats
		if err := json.Unmarshal([]byte(row.SaleStatsJSON), &stats); err == nil {
			q.SaleStats = &stats
		}
	}
	return row.ItemName, q, true
}
