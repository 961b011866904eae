// Package pricing implements the arbitrage decision engine: cross-market
// price comparison, profitability selection under trade-hold discounting, and
// the inverse max-buy-price calculation.
package pricing

import (
	"csgo-arbiter/internal/market"
)

// HoldTierDays maps hold-tier index to the hold duration in days. Tier prices
// are ordered by increasing hold duration.
var HoldTierDays = [3]int{2, 4, 7}

// HoldTierPremiums are the capital-cost multipliers applied to hold-tier buy
// prices. Money locked for longer must clear a higher bar.
var HoldTierPremiums = [3]float64{1.02, 1.04, 1.07}

// Quote is one market's current terms for one item. Tier prices of 0 mean
// "unknown"; the selector falls back to the immediate price for those tiers.
type Quote struct {
	Market                           market.Market `json:"market"`
	CommissionPercent                float64       `json:"commission_percent" validate:"gte=0"`
	BuyPrice                         float64       `json:"buy_price" validate:"gte=0"`
	BuyPriceWithCommission           float64       `json:"buy_price_with_commission" validate:"gte=0"`
	BuyPriceByHoldTier               [3]float64    `json:"buy_price_by_hold_tier" validate:"dive,gte=0"`
	BuyPriceByHoldTierWithCommission [3]float64    `json:"buy_price_by_hold_tier_with_commission" validate:"dive,gte=0"`
	SellPrice                        float64       `json:"sell_price" validate:"gte=0"`
	SellPriceWithCommission          float64       `json:"sell_price_with_commission" validate:"gte=0"`
	SaleStats                        *SaleStats    `json:"sale_stats,omitempty"`
}

// Trend classifies the recent direction of an item's sale prices.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// SaleStats aggregates an item's recent sale history on one market. Derived
// and read-only; recomputed periodically, never mutated in place.
type SaleStats struct {
	WeeklyAvgPrice             float64 `json:"weekly_avg_price"`
	WeeklyAvgPriceWithComm     float64 `json:"weekly_avg_price_with_comm"`
	WeeklySaleCount            int     `json:"weekly_sale_count"`
	MonthlyAvgPrice            float64 `json:"monthly_avg_price"`
	MonthlySaleCount           int     `json:"monthly_sale_count"`
	WeekOverMonthChangePercent float64 `json:"week_over_month_change_percent"`
	ProjectedWeeklyPrice       float64 `json:"projected_weekly_price"`
	Trend                      Trend   `json:"trend"`
}

// MarketPair is a directional (buy, sell) market combination.
type MarketPair struct {
	Buy  market.Market `json:"buy"`
	Sell market.Market `json:"sell"`
}

// PriceCompare summarizes one directional comparison between two quotes of
// the same item. Computed fresh on every comparator run, never persisted.
type PriceCompare struct {
	ItemName              string  `json:"item_name"`
	DiffPercentBeforeComm int     `json:"diff_percent_before_comm"`
	DiffPercentAfterComm  int     `json:"diff_percent_after_comm"`
	DiffValueBeforeComm   float64 `json:"diff_value_before_comm"`
	DiffValueAfterComm    float64 `json:"diff_value_after_comm"`
	Buy                   Quote   `json:"buy"`
	Sell                  Quote   `json:"sell"`
}

// BestDeal is the profitability selector's result. The zero value is the
// "nothing qualifies" sentinel.
type BestDeal struct {
	ItemName      string        `json:"item_name"`
	BuyMarket     market.Market `json:"buy_market"`
	SellMarket    market.Market `json:"sell_market"`
	ProfitPercent float64       `json:"profit_percent"`
	HoldDays      int           `json:"hold_days"`
}

// Viable reports whether the deal names a real market pair with positive
// profit. The zero sentinel is never viable.
func (d BestDeal) Viable() bool {
	return d.BuyMarket != "" && d.SellMarket != "" && d.ProfitPercent > 0
}
