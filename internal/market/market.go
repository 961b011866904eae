// Package market enumerates the supported marketplaces and their trading
// terms: commission schedules, price granularity, and egress policy.
package market

import (
	"errors"
	"fmt"
	"strings"
)

// Market identifies one marketplace.
type Market string

const (
	Steam      Market = "steam"
	DMarket    Market = "dmarket"
	MarketCSGO Market = "marketcsgo"
	Buff       Market = "buff"
	CSMoney    Market = "csmoney"
	CSFloat    Market = "csfloat"
	BitSkins   Market = "bitskins"
	LisSkins   Market = "lisskins"
	WaxPeer    Market = "waxpeer"
)

// ErrUnknownMarket is returned when a market name or commission schedule
// cannot be resolved.
var ErrUnknownMarket = errors.New("unknown market")

// All lists every supported market in declaration order.
func All() []Market {
	return []Market{Steam, DMarket, MarketCSGO, Buff, CSMoney, CSFloat, BitSkins, LisSkins, WaxPeer}
}

// Parse resolves a market from its string name.
func Parse(s string) (Market, error) {
	m := Market(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := commissions[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMarket, s)
	}
	return m, nil
}

func (m Market) String() string { return string(m) }

// Commission is the fee schedule of one market, in percent.
type Commission struct {
	BuyPercent      float64
	SellPercent     float64
	WithdrawPercent float64
}

// SellTotalPercent is the combined cut taken from a sale once the proceeds
// are withdrawn.
func (c Commission) SellTotalPercent() float64 {
	return c.SellPercent + c.WithdrawPercent
}

var commissions = map[Market]Commission{
	Steam:      {BuyPercent: 0, SellPercent: 13.04, WithdrawPercent: 0},
	DMarket:    {BuyPercent: 3, SellPercent: 7, WithdrawPercent: 2},
	MarketCSGO: {BuyPercent: 0, SellPercent: 5, WithdrawPercent: 0},
	Buff:       {BuyPercent: 0, SellPercent: 2.5, WithdrawPercent: 0},
	CSMoney:    {BuyPercent: 7, SellPercent: 7, WithdrawPercent: 3},
	CSFloat:    {BuyPercent: 0, SellPercent: 2, WithdrawPercent: 0},
	BitSkins:   {BuyPercent: 5, SellPercent: 10, WithdrawPercent: 2},
	LisSkins:   {BuyPercent: 0, SellPercent: 5, WithdrawPercent: 1},
	WaxPeer:    {BuyPercent: 0, SellPercent: 6, WithdrawPercent: 0},
}

// Commissions returns the fee schedule for a market. A missing schedule is an
// error, never a zero default: pricing code must not treat an unknown market
// as commission-free.
func Commissions(m Market) (Commission, error) {
	c, ok := commissions[m]
	if !ok {
		return Commission{}, fmt.Errorf("%w: %q", ErrUnknownMarket, m)
	}
	return c, nil
}

// PriceStep returns the market's native price granularity. MarketCSGO quotes
// in thousandths; every other market quotes in cents.
func (m Market) PriceStep() float64 {
	if m == MarketCSGO {
		return 0.001
	}
	return 0.01
}

// PriceDecimals returns the number of price steps per currency unit, the
// exact scale factor for granularity rounding.
func (m Market) PriceDecimals() float64 {
	if m == MarketCSGO {
		return 1000
	}
	return 100
}

// proxyExempt markets are called directly; the rest rotate through the shared
// egress pool.
var proxyExempt = map[Market]bool{
	Steam:    true,
	Buff:     true,
	LisSkins: true,
}

// UsesProxy reports whether calls to the market go through the egress pool.
func (m Market) UsesProxy() bool {
	return !proxyExempt[m]
}

// DefaultBuyMarkets is the fixed scan order for the buy side of the
// profitability selector. Order matters: ties resolve to the first market
// encountered.
func DefaultBuyMarkets() []Market {
	return []Market{DMarket, BitSkins, CSFloat, LisSkins, CSMoney}
}

// DefaultSellMarkets is the fixed scan order for the sell side.
func DefaultSellMarkets() []Market {
	return []Market{MarketCSGO}
}

// ParseList resolves a comma-separated list of market names, preserving
// order. Used for config overrides of the default buy/sell sets.
func ParseList(s string) ([]Market, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]Market, 0, len(parts))
	for _, p := range parts {
		m, err := Parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
