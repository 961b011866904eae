package pricing

import (
	"fmt"
	"math"

	"csgo-arbiter/internal/market"
)

// MaxBuyPrice inverts a target margin into the highest price that may be paid
// on the buy market while preserving that margin against the expected sale
// proceeds. The commission-netted average sell price is divided by the margin
// factor, reduced by the buy market's commission, then rounded up to the
// market's native granularity.
//
// This is a safety ceiling. If the market's commission schedule cannot be
// resolved the function returns a zero sentinel and the lookup error; it
// never proceeds with unknown commissions.
func MaxBuyPrice(avgSellPriceWithComm float64, buyMarket market.Market, minMarginPercent float64) (float64, error) {
	comm, err := market.Commissions(buyMarket)
	if err != nil {
		return 0, fmt.Errorf("max buy price: %w", err)
	}

	raw := avgSellPriceWithComm / (1 + minMarginPercent/100)
	raw -= raw * comm.BuyPercent / 100

	dec := buyMarket.PriceDecimals()
	return math.Ceil(raw*dec) / dec, nil
}
