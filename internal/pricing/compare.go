package pricing

import (
	"github.com/rs/zerolog/log"
)

// CompareAll evaluates every directional market pair for every item and
// returns the comparisons bucketed by (buy market, sell market). Both
// directions of each quote pair are evaluated because commissions and hold
// tiers are asymmetric per market. This is an exploratory report, not a
// decision: nothing is filtered by profitability here.
//
// Complexity is O(sum of k_i^2) over per-item quote counts, bounded by the
// fixed market enumeration.
func CompareAll(items map[string][]Quote) map[MarketPair][]PriceCompare {
	result := make(map[MarketPair][]PriceCompare)

	for name, quotes := range items {
		for i := 0; i < len(quotes); i++ {
			for j := i + 1; j < len(quotes); j++ {
				// Evaluate both directions of the unordered pair.
				appendCompare(result, name, quotes[i], quotes[j])
				appendCompare(result, name, quotes[j], quotes[i])
			}
		}
	}

	return result
}

// appendCompare computes one directed comparison and adds it to the bucket
// for (buy.Market, sell.Market). A non-positive buy price cannot be compared
// against; the pair is skipped and reported, never divided by.
func appendCompare(result map[MarketPair][]PriceCompare, name string, buy, sell Quote) {
	if buy.BuyPrice <= 0 {
		log.Debug().
			Str("item", name).
			Str("buy_market", buy.Market.String()).
			Str("sell_market", sell.Market.String()).
			Msg("skipping comparison: no positive buy price")
		return
	}

	cmp := PriceCompare{
		ItemName:              name,
		DiffPercentBeforeComm: int((sell.SellPrice - buy.BuyPrice) / buy.BuyPrice * 100),
		DiffPercentAfterComm:  int((sell.SellPriceWithCommission - buy.BuyPrice) / buy.BuyPrice * 100),
		DiffValueBeforeComm:   sell.SellPrice - buy.BuyPrice,
		DiffValueAfterComm:    sell.SellPriceWithCommission - buy.BuyPrice,
		Buy:                   buy,
		Sell:                  sell,
	}

	pair := MarketPair{Buy: buy.Market, Sell: sell.Market}
	result[pair] = append(result[pair], cmp)
}
