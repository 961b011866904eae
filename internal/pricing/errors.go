package pricing

import "errors"

var (
	// ErrNoSaleStats signals that sale statistics were missing for every
	// candidate sell quote. "No data" is distinct from "no profit": callers
	// must not read the zero sentinel as a priced decision.
	ErrNoSaleStats = errors.New("no sale statistics available")

	// ErrNoUsableBuyPrice signals that a quote carried no positive buy price
	// in any tier, so no effective price could be derived.
	ErrNoUsableBuyPrice = errors.New("no usable buy price")
)
