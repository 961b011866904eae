package trader

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/pricing"
	"csgo-arbiter/internal/services/marketcsgo"
)

// Buyer executes purchases and withdrawals on one buy market.
type Buyer interface {
	// BuyCheapest purchases the cheapest listing of the item priced at or
	// under maxPrice with a trade hold of at most maxHoldDays, and returns
	// the asset id the market assigns plus the price actually charged.
	BuyCheapest(ctx context.Context, itemName string, maxPrice float64, maxHoldDays int) (assetID string, price float64, err error)
	Withdraw(ctx context.Context, assetID string) error
}

// Seller lists and reprices instances on one sell market.
type Seller interface {
	CreateOffer(ctx context.Context, itemID string, price float64) error
	UpdatePrice(ctx context.Context, itemID string, price float64) error
}

// Engine runs the arbitrage loop over the position book. One cycle is three
// separate phases: decide on an immutable snapshot, execute purchases, then
// refresh sale listings. State only changes through tickets on the ledger,
// which feeds the store back via its listener.
type Engine struct {
	store     *Store
	selector  *pricing.Selector
	ledger    *ledger.Ledger
	db        *gorm.DB // nil disables persistence
	minMargin float64
	logger    zerolog.Logger

	buyers  map[market.Market]Buyer
	sellers map[market.Market]Seller
	notify  func(models.ArbitrageOpportunity)
}

func NewEngine(store *Store, selector *pricing.Selector, lg *ledger.Ledger, db *gorm.DB, minMarginPercent float64, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		selector:  selector,
		ledger:    lg,
		db:        db,
		minMargin: minMarginPercent,
		logger:    logger,
		buyers:    make(map[market.Market]Buyer),
		sellers:   make(map[market.Market]Seller),
	}
}

func (e *Engine) RegisterBuyer(m market.Market, b Buyer) { e.buyers[m] = b }

func (e *Engine) RegisterSeller(m market.Market, s Seller) { e.sellers[m] = s }

// SetOpportunityNotifier installs a callback invoked for every deal the
// engine judges worth acting on, before the purchase is attempted.
func (e *Engine) SetOpportunityNotifier(fn func(models.ArbitrageOpportunity)) { e.notify = fn }

// RunCycle makes one full pass over the book.
func (e *Engine) RunCycle(ctx context.Context) {
	snap := e.store.Snapshot()
	e.persistQuotes(snap)

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		e.evaluateItem(ctx, name, snap[name])
	}
	e.refreshSellOffers(ctx, snap)
}

func (e *Engine) evaluateItem(ctx context.Context, name string, quotes []pricing.Quote) {
	deal, err := e.selector.MostProfitable(name, quotes)
	if err != nil {
		e.logger.Debug().Str("item", name).Err(err).Msg("item not evaluated")
		return
	}
	if !deal.Viable() || deal.ProfitPercent < e.minMargin {
		return
	}

	sellStats := statsFor(quotes, deal.SellMarket)
	if sellStats == nil {
		return
	}
	maxPrice, err := pricing.MaxBuyPrice(sellStats.WeeklyAvgPriceWithComm, deal.BuyMarket, e.minMargin)
	if err != nil {
		e.logger.Warn().Str("item", name).Err(err).Msg("max buy price unavailable")
		return
	}

	opp := models.ArbitrageOpportunity{
		ItemName:      name,
		BuyMarket:     deal.BuyMarket.String(),
		SellMarket:    deal.SellMarket.String(),
		ProfitPercent: deal.ProfitPercent,
		HoldDays:      deal.HoldDays,
		MaxBuyPrice:   maxPrice,
		DetectedAt:    time.Now().UTC(),
	}
	if e.notify != nil {
		e.notify(opp)
	}

	e.logger.Info().
		Str("item", name).
		Str("buy_market", deal.BuyMarket.String()).
		Str("sell_market", deal.SellMarket.String()).
		Float64("profit_percent", deal.ProfitPercent).
		Int("hold_days", deal.HoldDays).
		Float64("max_buy_price", maxPrice).
		Msg("opportunity detected")

	defer e.persistOpportunity(&opp)

	if !e.store.CanBuy(name) {
		e.logger.Debug().Str("item", name).Msg("copy cap reached, not buying")
		return
	}
	buyer, ok := e.buyers[deal.BuyMarket]
	if !ok {
		e.logger.Debug().Str("item", name).Str("market", deal.BuyMarket.String()).Msg("no buyer wired for market")
		return
	}

	assetID, price, err := buyer.BuyCheapest(ctx, name, maxPrice, deal.HoldDays)
	if err != nil {
		e.logger.Warn().
			Str("item", name).
			Str("market", deal.BuyMarket.String()).
			Err(err).
			Msg("buy failed")
		return
	}
	opp.Executed = true

	e.logger.Info().
		Str("item", name).
		Str("market", deal.BuyMarket.String()).
		Str("asset_id", assetID).
		Float64("price", price).
		Msg("bought")

	e.recordPurchase(ctx, name, deal.BuyMarket, assetID, price, buyer)
}

// recordPurchase walks the buy leg onto the ledger and starts the delivery.
// The asset id only exists once the market confirms the purchase, so the
// buy-start and buy-success tickets are appended back to back after the
// fact.
func (e *Engine) recordPurchase(ctx context.Context, name string, m market.Market, assetID string, price float64, buyer Buyer) {
	asset := inventory.AssetRef{AssetID: assetID}

	if _, err := e.ledger.Append(ctx, inventory.NewTicket(name, asset, inventory.NewBuyStart(m))); err != nil {
		e.logger.Error().Str("asset_id", assetID).Err(err).Msg("recording buy start failed")
		return
	}
	success := inventory.NewBuySuccess(m)
	success.Price = price
	if _, err := e.ledger.Append(ctx, inventory.NewTicket(name, asset, success)); err != nil {
		e.logger.Error().Str("asset_id", assetID).Err(err).Msg("recording buy success failed")
		return
	}

	if err := buyer.Withdraw(ctx, assetID); err != nil {
		// The purchase is on the ledger either way; the item sits on the
		// market balance until the next withdrawal sweep.
		e.logger.Error().
			Str("item", name).
			Str("asset_id", assetID).
			Err(err).
			Msg("withdrawal failed, item stranded on market balance")
		return
	}
	if _, err := e.ledger.Append(ctx, inventory.NewTicket(name, asset, inventory.NewWithdrawal())); err != nil {
		e.logger.Error().Str("asset_id", assetID).Err(err).Msg("recording withdrawal failed")
	}
}

// RetryWithdrawals sweeps instances that were bought but never left the
// market balance and asks their market to deliver them.
func (e *Engine) RetryWithdrawals(ctx context.Context) {
	for _, v := range e.store.Instances() {
		if ctx.Err() != nil {
			return
		}
		if v.Data.Status != inventory.StatusBought && v.Data.Status != inventory.StatusBoughtAlternateFlow {
			continue
		}
		buyer, ok := e.buyers[v.Data.BoughtFrom]
		if !ok {
			continue
		}
		marketID := v.Data.Asset.MarketID(v.Data.BoughtFrom)
		if err := buyer.Withdraw(ctx, marketID); err != nil {
			e.logger.Warn().
				Str("item", v.Name).
				Str("asset_id", v.Data.Asset.AssetID).
				Err(err).
				Msg("withdrawal retry failed")
			continue
		}
		if _, err := e.ledger.Append(ctx, inventory.NewTicket(v.Name, v.Data.Asset, inventory.NewWithdrawal())); err != nil {
			e.logger.Error().Str("asset_id", v.Data.Asset.AssetID).Err(err).Msg("recording withdrawal failed")
		}
	}
}

func (e *Engine) refreshSellOffers(ctx context.Context, snap map[string][]pricing.Quote) {
	for sm, seller := range e.sellers {
		comm, err := market.Commissions(sm)
		if err != nil {
			continue
		}
		for _, name := range e.store.TrackedNames() {
			if ctx.Err() != nil {
				return
			}
			competing := sellPriceFor(snap[name], sm)
			for _, v := range e.store.AvailableViews(name) {
				price, ok := e.listPrice(v.Data.BoughtPrice, competing, e.store.LowestOwnAsk(name), sm, comm)
				if !ok {
					continue
				}

				offer := inventory.NewSellOfferCreated(sm)
				offer.Price = price

				// Ticket first: an asset the ledger never saw fails
				// validation here, before anything reaches the market.
				if _, err := e.ledger.Append(ctx, inventory.NewTicket(name, v.Data.Asset, offer)); err != nil {
					if !errors.Is(err, inventory.ErrInvalidTransition) {
						e.logger.Error().Str("asset_id", v.Data.Asset.AssetID).Err(err).Msg("recording sell offer failed")
					}
					continue
				}

				itemID := v.Data.Asset.MarketID(sm)
				if err := seller.CreateOffer(ctx, itemID, price); err != nil {
					e.logger.Warn().
						Str("item", name).
						Str("market", sm.String()).
						Err(err).
						Msg("listing failed, rolling the offer ticket back")
					if _, rerr := e.ledger.Append(ctx, inventory.NewTicket(name, v.Data.Asset, inventory.NewSellTradeCanceled())); rerr != nil {
						e.logger.Error().Str("asset_id", v.Data.Asset.AssetID).Err(rerr).Msg("rolling back sell offer failed")
					}
					continue
				}
				e.logger.Info().
					Str("item", name).
					Str("market", sm.String()).
					Str("asset_id", v.Data.Asset.AssetID).
					Float64("price", price).
					Msg("listed for sale")
			}
		}
	}
}

// listPrice picks the ask: one price step under the cheapest competing
// listing, but never below the floor that recovers cost plus margin after
// the sell-side commission. When our own cheapest live ask already matches
// or beats the competition, the cheapest listing is ours; a new copy joins
// it at the same price instead of undercutting it step by step.
func (e *Engine) listPrice(boughtPrice, competing, ownAsk float64, m market.Market, comm market.Commission) (float64, bool) {
	var floor float64
	if boughtPrice > 0 {
		floor = boughtPrice * (1 + e.minMargin/100) / (1 - comm.SellTotalPercent()/100)
	}
	dec := m.PriceDecimals()
	price := math.Floor((competing-m.PriceStep())*dec) / dec
	if ownAsk > 0 && ownAsk <= competing {
		price = ownAsk
	}
	if price < floor {
		// The margin floor rounds the other way: never list below it.
		price = math.Ceil(floor*dec) / dec
	}
	if price <= 0 {
		return 0, false
	}
	return price, true
}

// ApplyOfferEvents turns polled sell-offer changes into tickets. The poll is
// level based, so a state observed twice replays a ticket the state machine
// rejects; those rejections are dropped quietly.
func (e *Engine) ApplyOfferEvents(ctx context.Context, sm market.Market, events []marketcsgo.OfferEvent) {
	for _, ev := range events {
		name, ok := e.store.ItemNameByAsset(ev.ItemID)
		if !ok {
			e.logger.Debug().Str("item_id", ev.ItemID).Msg("offer event for unknown asset")
			continue
		}
		asset := inventory.AssetRef{AssetID: ev.ItemID}

		var change inventory.StatusChange
		switch ev.Kind {
		case marketcsgo.OfferBought:
			change = inventory.NewSellOfferBought(sm)
		case marketcsgo.OfferTradeSent:
			change = inventory.NewSellTradeSent(sm, ev.At.Unix())
		case marketcsgo.OfferDelivered:
			change = inventory.NewSellSuccess(sm, ev.Price)
		case marketcsgo.OfferCanceled:
			change = inventory.NewSellTradeCanceled()
		default:
			continue
		}

		if _, err := e.ledger.Append(ctx, inventory.NewTicket(name, asset, change)); err != nil {
			if errors.Is(err, inventory.ErrInvalidTransition) {
				continue
			}
			e.logger.Error().Str("asset_id", ev.ItemID).Err(err).Msg("recording offer event failed")
			continue
		}

		if ev.Kind == marketcsgo.OfferDelivered {
			e.logger.Info().
				Str("item", name).
				Str("asset_id", ev.ItemID).
				Float64("price", ev.Price).
				Msg("sale completed")
			e.persistTrade(name, sm, ev)
		}
	}
}

// persistQuotes writes the snapshot the cycle decided on, one row per item
// and market, so decisions stay auditable against the quotes they saw.
func (e *Engine) persistQuotes(snap map[string][]pricing.Quote) {
	if e.db == nil {
		return
	}
	now := time.Now().UTC()
	var recs []models.QuoteSnapshot
	for name, quotes := range snap {
		for _, q := range quotes {
			rec := models.QuoteSnapshot{
				ItemName:                name,
				Market:                  q.Market.String(),
				BuyPrice:                q.BuyPrice,
				BuyPriceWithCommission:  q.BuyPriceWithCommission,
				SellPrice:               q.SellPrice,
				SellPriceWithCommission: q.SellPriceWithCommission,
				FetchedAt:               now,
			}
			if tiers, err := json.Marshal(models.HoldTiers{
				Prices:         q.BuyPriceByHoldTier,
				WithCommission: q.BuyPriceByHoldTierWithCommission,
			}); err == nil {
				rec.HoldTierJSON = string(tiers)
			}
			if q.SaleStats != nil {
				if stats, err := json.Marshal(q.SaleStats); err == nil {
					rec.SaleStatsJSON = string(stats)
				}
			}
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		return
	}
	if err := e.db.Create(&recs).Error; err != nil {
		e.logger.Warn().Err(err).Msg("persisting quote snapshots failed")
	}
}

func (e *Engine) persistOpportunity(opp *models.ArbitrageOpportunity) {
	if e.db == nil {
		return
	}
	if err := e.db.Create(opp).Error; err != nil {
		e.logger.Warn().Str("item", opp.ItemName).Err(err).Msg("persisting opportunity failed")
	}
}

func (e *Engine) persistTrade(name string, sm market.Market, ev marketcsgo.OfferEvent) {
	if e.db == nil {
		return
	}
	rec := models.TradeRecord{
		ItemName:  name,
		AssetID:   ev.ItemID,
		SoldOn:    sm.String(),
		SoldPrice: ev.Price,
		SoldAt:    ev.At,
	}
	if it, ok := e.store.Item(name); ok {
		for _, h := range it.History {
			if h.AssetID == ev.ItemID {
				rec.BoughtFrom = h.BoughtFrom.String()
				rec.BoughtPrice = h.BoughtPrice
				break
			}
		}
	}
	if err := e.db.Create(&rec).Error; err != nil {
		e.logger.Warn().Str("item", name).Err(err).Msg("persisting trade failed")
	}
}

func statsFor(quotes []pricing.Quote, m market.Market) *pricing.SaleStats {
	for _, q := range quotes {
		if q.Market == m {
			return q.SaleStats
		}
	}
	return nil
}

func sellPriceFor(quotes []pricing.Quote, m market.Market) float64 {
	for _, q := range quotes {
		if q.Market == m {
			return q.SellPrice
		}
	}
	return 0
}
