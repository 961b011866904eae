package pricing

import (
	"math"

	"github.com/rs/zerolog"

	"csgo-arbiter/internal/market"
)

// Selector picks the most profitable (buy market, sell market) pair for an
// item. The allowed market lists are fixed at construction and scanned in
// declaration order, buy markets outer and sell markets inner, so equal
// profits always resolve to the first combination encountered. That
// determinism is part of the contract, not an accident of iteration.
type Selector struct {
	buyMarkets  []market.Market
	sellMarkets []market.Market
	logger      zerolog.Logger
}

// NewSelector builds a Selector over the given allowed market lists. Empty
// lists fall back to the package defaults.
func NewSelector(buy, sell []market.Market, logger zerolog.Logger) *Selector {
	if len(buy) == 0 {
		buy = market.DefaultBuyMarkets()
	}
	if len(sell) == 0 {
		sell = market.DefaultSellMarkets()
	}
	return &Selector{buyMarkets: buy, sellMarkets: sell, logger: logger}
}

// MostProfitable scans every allowed (buy, sell) combination present in the
// quotes and returns the best deal. The best is updated only on strict
// improvement, so ties keep the earliest combination in scan order.
//
// Sell quotes without sale statistics are skipped and counted; when every
// candidate combination was skipped for missing stats the zero sentinel is
// returned together with ErrNoSaleStats so callers can tell "no data" from
// "no profit".
func (s *Selector) MostProfitable(itemName string, quotes []Quote) (BestDeal, error) {
	byMarket := make(map[market.Market]Quote, len(quotes))
	for _, q := range quotes {
		byMarket[q.Market] = q
	}

	best := BestDeal{ItemName: itemName}
	candidates := 0
	missingStats := 0

	for _, bm := range s.buyMarkets {
		buyQuote, ok := byMarket[bm]
		if !ok {
			continue
		}
		for _, sm := range s.sellMarkets {
			sellQuote, ok := byMarket[sm]
			if !ok {
				continue
			}
			candidates++

			if sellQuote.SaleStats == nil {
				missingStats++
				s.logger.Debug().
					Str("item", itemName).
					Str("sell_market", sm.String()).
					Msg("sell quote has no sale stats, skipping combination")
				continue
			}

			buyPrice, holdDays, err := EffectiveBuyPrice(buyQuote)
			if err != nil {
				s.logger.Debug().
					Str("item", itemName).
					Str("buy_market", bm.String()).
					Msg("no usable buy price, skipping combination")
				continue
			}

			profit := (sellQuote.SaleStats.WeeklyAvgPriceWithComm/buyPrice - 1) * 100
			if profit > best.ProfitPercent {
				best.BuyMarket = bm
				best.SellMarket = sm
				best.ProfitPercent = profit
				best.HoldDays = holdDays
			}
		}
	}

	if candidates > 0 && missingStats == candidates {
		return BestDeal{ItemName: itemName}, ErrNoSaleStats
	}
	return best, nil
}

// EffectiveBuyPrice returns the cheapest way to acquire the item on the
// quote's market and the hold duration that price implies. Candidates are
// the immediate commission-inclusive price plus each known hold-tier price
// multiplied by its capital premium. The minimum and its tier are tracked
// together in a single pass; unknown (zero) tiers fall back to the immediate
// price by contributing nothing.
//
// Ties keep the earlier candidate, so an equal immediate price beats any
// tier and a shorter hold beats a longer one.
func EffectiveBuyPrice(q Quote) (float64, int, error) {
	best := math.MaxFloat64
	holdDays := -1

	if q.BuyPriceWithCommission > 0 {
		best = q.BuyPriceWithCommission
		holdDays = 0
	}
	for i, tierPrice := range q.BuyPriceByHoldTierWithCommission {
		if tierPrice <= 0 {
			continue
		}
		effective := tierPrice * HoldTierPremiums[i]
		if effective < best {
			best = effective
			holdDays = HoldTierDays[i]
		}
	}

	if holdDays < 0 {
		return 0, 0, ErrNoUsableBuyPrice
	}
	return best, holdDays, nil
}
