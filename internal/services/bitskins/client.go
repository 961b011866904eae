// Package bitskins is the BitSkins market client: listing search with
// trade-hold bucketing, sale history, purchases and withdrawals.
package bitskins

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

const (
	defaultBaseURL = "https://api.bitskins.com"
	appID          = 730
	searchLimit    = 200
	historyLimit   = 50
)

type Service struct {
	apiKey  string
	exec    *executor.Executor
	logger  zerolog.Logger
	baseURL string
}

func New(apiKey string, exec *executor.Executor, logger zerolog.Logger) *Service {
	return &Service{
		apiKey:  apiKey,
		exec:    exec,
		logger:  logger.With().Str("service", "bitskins").Logger(),
		baseURL: defaultBaseURL,
	}
}

type searchListing struct {
	ID            string  `json:"id"`
	Price         int64   `json:"price"` // thousandths of a dollar
	FloatValue    float64 `json:"float_value"`
	TradeholdDays int     `json:"tradehold"`
}

type saleDay struct {
	Date     string `json:"date"`
	PriceAvg int64  `json:"price_avg"`
	Sales    int    `json:"sales"`
}

type historyRow struct {
	OrderID string `json:"id"`
	ItemID  string `json:"item_id"`
	AssetID string `json:"asset_id"`
	Price   int64  `json:"price"`
}

// Purchase is the confirmed result of a buy.
type Purchase struct {
	OrderID string
	AssetID string
	Price   float64
}

// FetchQuote searches the item's listings and folds them into a quote. The
// cheapest listing per trade-hold tier fills the tier prices; tiers with no
// listings backfill with the immediate price so every tier stays purchasable.
func (s *Service) FetchQuote(ctx context.Context, itemName string) (pricing.Quote, error) {
	comm, err := market.Commissions(market.BitSkins)
	if err != nil {
		return pricing.Quote{}, err
	}

	listings, err := s.searchListings(ctx, itemName)
	if err != nil {
		return pricing.Quote{}, err
	}

	var immediate float64
	var tiers [3]float64
	for _, l := range listings {
		if l.Price <= 0 {
			continue
		}
		price := fromThousandths(l.Price)
		tier := holdTier(l.TradeholdDays)
		if tier < 0 {
			if immediate == 0 || price < immediate {
				immediate = price
			}
			continue
		}
		if tiers[tier] == 0 || price < tiers[tier] {
			tiers[tier] = price
		}
	}
	if immediate == 0 && tiers == [3]float64{} {
		return pricing.Quote{}, errors.Errorf("bitskins: no listings for %q", itemName)
	}

	lowest := immediate
	for i := range tiers {
		if tiers[i] == 0 {
			tiers[i] = immediate
		}
		if tiers[i] > 0 && (lowest == 0 || tiers[i] < lowest) {
			lowest = tiers[i]
		}
	}

	quote := pricing.Quote{
		Market:                  market.BitSkins,
		CommissionPercent:       comm.SellTotalPercent(),
		BuyPrice:                immediate,
		BuyPriceWithCommission:  grossUp(immediate, comm.BuyPercent),
		BuyPriceByHoldTier:      tiers,
		SellPrice:               lowest,
		SellPriceWithCommission: lowest * (1 - comm.SellTotalPercent()/100),
	}
	for i := range tiers {
		quote.BuyPriceByHoldTierWithCommission[i] = grossUp(tiers[i], comm.BuyPercent)
	}
	return quote, nil
}

// FetchSaleStats pulls the item's daily sale history and aggregates it.
func (s *Service) FetchSaleStats(ctx context.Context, itemName string) (*pricing.SaleStats, error) {
	comm, err := market.Commissions(market.BitSkins)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"app_id": appID, "name": itemName, "limit": 31}
	raw, err := s.post(ctx, "/market/pricing/list", body, s.exec.BasePolicy())
	if err != nil {
		return nil, errors.Wrapf(err, "bitskins: sale history %q", itemName)
	}

	var parsed struct {
		List []saleDay `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "bitskins: decode sale history %q", itemName)
	}

	records := make([]pricing.SaleRecord, 0, len(parsed.List))
	for _, d := range parsed.List {
		day, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			s.logger.Debug().Str("date", d.Date).Msg("unparseable sale history date")
			continue
		}
		records = append(records, pricing.SaleRecord{
			Date:  day,
			Price: fromThousandths(d.PriceAvg),
			Count: d.Sales,
		})
	}
	return pricing.ComputeSaleStats(records, comm.SellTotalPercent(), time.Now().UTC())
}

// Buy purchases one listing at up to maxPrice. Buying is not idempotent, so
// the call runs exactly once; when the reply is lost in transit the purchase
// may still have gone through, so the ambiguous outcome reconciles against
// the recent-purchase history before reporting failure.
func (s *Service) Buy(ctx context.Context, listingID string, maxPrice float64) (*Purchase, error) {
	body := map[string]any{
		"app_id":    appID,
		"id":        listingID,
		"max_price": toThousandths(maxPrice),
	}
	raw, err := s.post(ctx, "/market/buy/single", body, s.exec.BasePolicy().NoRetry())
	if errors.Is(err, executor.ErrRetriesExhausted) {
		s.logger.Warn().
			Str("listing_id", listingID).
			Msg("buy outcome unknown, reconciling against purchase history")
		p, found, rerr := s.findRecentPurchase(ctx, listingID)
		if rerr != nil {
			return nil, errors.Wrapf(rerr, "bitskins: buy %s: outcome unknown and reconcile failed", listingID)
		}
		if !found {
			return nil, errors.Wrapf(err, "bitskins: buy %s", listingID)
		}
		s.logger.Info().
			Str("listing_id", listingID).
			Str("asset_id", p.AssetID).
			Msg("lost buy reply reconciled to a completed purchase")
		return p, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "bitskins: buy %s", listingID)
	}

	var parsed struct {
		ID      string `json:"id"`
		AssetID string `json:"asset_id"`
		Price   int64  `json:"price"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "bitskins: decode buy %s", listingID)
	}
	return &Purchase{
		OrderID: parsed.ID,
		AssetID: parsed.AssetID,
		Price:   fromThousandths(parsed.Price),
	}, nil
}

// BuyCheapest searches the live listings for itemName and buys the cheapest
// one priced at or under maxPrice whose trade hold does not exceed
// maxHoldDays. It returns the asset id the market assigned and the price
// actually charged.
func (s *Service) BuyCheapest(ctx context.Context, itemName string, maxPrice float64, maxHoldDays int) (string, float64, error) {
	listings, err := s.searchListings(ctx, itemName)
	if err != nil {
		return "", 0, err
	}

	// Listings arrive price-ascending, so the first eligible one wins.
	for _, l := range listings {
		price := fromThousandths(l.Price)
		if l.Price <= 0 || price > maxPrice || l.TradeholdDays > maxHoldDays {
			continue
		}
		p, err := s.Buy(ctx, l.ID, price)
		if err != nil {
			return "", 0, err
		}
		return p.AssetID, p.Price, nil
	}
	return "", 0, errors.Errorf("bitskins: no listing of %q at or under %.2f within a %d day hold", itemName, maxPrice, maxHoldDays)
}

// Withdraw asks BitSkins to deliver a purchased item to the linked Steam
// account. Sending a delivery trade twice could move two items, so the call
// runs exactly once.
func (s *Service) Withdraw(ctx context.Context, assetID string) error {
	body := map[string]any{"app_id": appID, "id": assetID}
	_, err := s.post(ctx, "/market/withdraw/single", body, s.exec.BasePolicy().NoRetry())
	if err != nil {
		return errors.Wrapf(err, "bitskins: withdraw %s", assetID)
	}
	return nil
}

func (s *Service) searchListings(ctx context.Context, itemName string) ([]searchListing, error) {
	body := map[string]any{
		"where": map[string]any{"skin_name": itemName},
		"limit": searchLimit,
		"order": []map[string]string{{"field": "price", "order": "ASC"}},
	}
	raw, err := s.post(ctx, fmt.Sprintf("/market/search/%d", appID), body, s.exec.BasePolicy())
	if err != nil {
		return nil, errors.Wrapf(err, "bitskins: search %q", itemName)
	}

	var parsed struct {
		List []searchListing `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "bitskins: decode search %q", itemName)
	}
	return parsed.List, nil
}

func (s *Service) findRecentPurchase(ctx context.Context, listingID string) (*Purchase, bool, error) {
	body := map[string]any{"type": "buyer", "limit": historyLimit}
	raw, err := s.post(ctx, "/market/history/list", body, s.exec.BasePolicy())
	if err != nil {
		return nil, false, err
	}

	var parsed struct {
		List []historyRow `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, err
	}
	for _, row := range parsed.List {
		if row.ItemID == listingID {
			return &Purchase{
				OrderID: row.OrderID,
				AssetID: row.AssetID,
				Price:   fromThousandths(row.Price),
			}, true, nil
		}
	}
	return nil, false, nil
}

func (s *Service) post(ctx context.Context, path string, body any, p executor.Policy) ([]byte, error) {
	resp, err := s.exec.DoWithPolicy(ctx, market.BitSkins, executor.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + path,
		Header: map[string]string{
			"x-apikey":     s.apiKey,
			"Content-Type": "application/json",
		},
		Body: body,
	}, p)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(resp.Body))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, errors.Errorf("%s: status %d: %s", path, resp.StatusCode, msg)
	}
	return resp.Body, nil
}

// holdTier buckets a listing's remaining trade hold into the quote's tier
// index, or -1 for instantly tradable listings.
func holdTier(days int) int {
	switch {
	case days <= 0:
		return -1
	case days <= 2:
		return 0
	case days <= 4:
		return 1
	default:
		return 2
	}
}

// grossUp converts a listed price to what the wallet is actually charged:
// the buyer commission is taken from the gross, rounded up to the cent.
func grossUp(price, buyCommissionPercent float64) float64 {
	if price <= 0 {
		return 0
	}
	raw := price / ((100 - buyCommissionPercent) / 100)
	return math.Ceil(raw*100) / 100
}

// Wire prices are integer thousandths of a dollar.
func fromThousandths(v int64) float64 { return float64(v) / 1000 }

func toThousandths(v float64) int64 { return int64(math.Round(v * 1000)) }
