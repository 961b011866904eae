// Package marketcsgo is the Market CSGO client, the default sell side:
// listing items, repricing, and polling delivery progress on sold offers.
package marketcsgo

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

const defaultBaseURL = "https://market.csgo.com"

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
		logger:  logger.With().Str("service", "marketcsgo").Logger(),
		baseURL: defaultBaseURL,
	}
}

// OfferEventKind classifies a change observed on one of our sale offers.
type OfferEventKind string

const (
	OfferBought    OfferEventKind = "bought"     // paid for, delivery trade not yet sent
	OfferTradeSent OfferEventKind = "trade_sent" // delivery trade offer is out
	OfferDelivered OfferEventKind = "delivered"  // buyer accepted, sale complete
	OfferCanceled  OfferEventKind = "canceled"   // delivery timed out or was declined
)

// OfferEvent is one observed change on a sale offer. Polling is level based:
// the same state can be reported on consecutive polls, so consumers must
// deduplicate.
type OfferEvent struct {
	ItemID  string
	Kind    OfferEventKind
	Price   float64
	TradeID string
	At      time.Time
}

// Sale offer states on the wire.
const (
	wireStatusListed    = "1"
	wireStatusSold      = "2"
	wireStatusTradeSent = "3"
	wireStatusDelivered = "5"
	wireStatusCanceled  = "6"
)

type listedItem struct {
	ItemID  string `json:"item_id"`
	Status  string `json:"status"`
	Price   int64  `json:"price"` // thousandths
	TradeID string `json:"trade_id"`
	Left    int64  `json:"left"` // seconds until the delivery deadline
}

// FetchQuote returns the current cheapest listing for the item. Market CSGO
// charges the buyer nothing and has no trade-hold tiers, so only the
// immediate prices are filled.
func (s *Service) FetchQuote(ctx context.Context, itemName string) (pricing.Quote, error) {
	comm, err := market.Commissions(market.MarketCSGO)
	if err != nil {
		return pricing.Quote{}, err
	}

	raw, err := s.get(ctx, "/api/v2/search-item-by-hash-name", map[string]string{"hash_name": itemName}, s.exec.BasePolicy())
	if err != nil {
		return pricing.Quote{}, errors.Wrapf(err, "marketcsgo: search %q", itemName)
	}

	var parsed struct {
		Data []struct {
			ID    int64 `json:"id"`
			Price int64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return pricing.Quote{}, errors.Wrapf(err, "marketcsgo: decode search %q", itemName)
	}

	var lowest float64
	for _, l := range parsed.Data {
		if l.Price <= 0 {
			continue
		}
		price := fromThousandths(l.Price)
		if lowest == 0 || price < lowest {
			lowest = price
		}
	}
	if lowest == 0 {
		return pricing.Quote{}, errors.Errorf("marketcsgo: no listings for %q", itemName)
	}

	return pricing.Quote{
		Market:                  market.MarketCSGO,
		CommissionPercent:       comm.SellTotalPercent(),
		BuyPrice:                lowest,
		BuyPriceWithCommission:  lowest,
		SellPrice:               lowest,
		SellPriceWithCommission: lowest * (1 - comm.SellTotalPercent()/100),
	}, nil
}

// FetchSaleStats pulls the item's sale history and aggregates it. History
// rows carry no per-sale counts, so each row weighs as one sale.
func (s *Service) FetchSaleStats(ctx context.Context, itemName string) (*pricing.SaleStats, error) {
	comm, err := market.Commissions(market.MarketCSGO)
	if err != nil {
		return nil, err
	}

	raw, err := s.get(ctx, "/api/v2/get-list-items-info", map[string]string{"list_hash_name[]": itemName}, s.exec.BasePolicy())
	if err != nil {
		return nil, errors.Wrapf(err, "marketcsgo: sale history %q", itemName)
	}

	var parsed struct {
		Data map[string]struct {
			Average float64     `json:"average"`
			History [][]float64 `json:"history"` // [unix seconds, price in thousandths]
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "marketcsgo: decode sale history %q", itemName)
	}

	info, ok := parsed.Data[itemName]
	if !ok {
		return nil, pricing.ErrNoSaleStats
	}

	records := make([]pricing.SaleRecord, 0, len(info.History))
	for _, row := range info.History {
		if len(row) != 2 {
			continue
		}
		records = append(records, pricing.SaleRecord{
			Date:  time.Unix(int64(row[0]), 0).UTC(),
			Price: row[1] / 1000,
			Count: 1,
		})
	}
	return pricing.ComputeSaleStats(records, comm.SellTotalPercent(), time.Now().UTC())
}

// CreateOffer lists an inventory item for sale.
func (s *Service) CreateOffer(ctx context.Context, itemID string, price float64) error {
	params := map[string]string{
		"item_id": itemID,
		"price":   strconv.FormatInt(toThousandths(price), 10),
		"cur":     "USD",
	}
	if _, err := s.get(ctx, "/api/v2/add-to-sale", params, s.exec.BasePolicy()); err != nil {
		return errors.Wrapf(err, "marketcsgo: list %s", itemID)
	}
	return nil
}

// UpdatePrice reprices a live offer.
func (s *Service) UpdatePrice(ctx context.Context, itemID string, price float64) error {
	params := map[string]string{
		"item_id": itemID,
		"price":   strconv.FormatInt(toThousandths(price), 10),
		"cur":     "USD",
	}
	if _, err := s.get(ctx, "/api/v2/set-price", params, s.exec.BasePolicy()); err != nil {
		return errors.Wrapf(err, "marketcsgo: reprice %s", itemID)
	}
	return nil
}

// RemoveOffer takes an offer off sale. On the wire that is a reprice to
// zero.
func (s *Service) RemoveOffer(ctx context.Context, itemID string) error {
	params := map[string]string{"item_id": itemID, "price": "0", "cur": "USD"}
	if _, err := s.get(ctx, "/api/v2/set-price", params, s.exec.BasePolicy()); err != nil {
		return errors.Wrapf(err, "marketcsgo: remove %s", itemID)
	}
	return nil
}

// PollStatuses reads our live offers and reports every one that moved past
// "listed". The ticket ledger rejects replays, so reporting the same state
// twice is harmless.
func (s *Service) PollStatuses(ctx context.Context) ([]OfferEvent, error) {
	raw, err := s.get(ctx, "/api/v2/items", nil, s.exec.BasePolicy())
	if err != nil {
		return nil, errors.Wrap(err, "marketcsgo: poll offers")
	}

	var parsed struct {
		Items []listedItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "marketcsgo: decode offers")
	}

	now := time.Now().UTC()
	var events []OfferEvent
	for _, item := range parsed.Items {
		kind, ok := eventKind(item.Status)
		if !ok {
			continue
		}
		events = append(events, OfferEvent{
			ItemID:  item.ItemID,
			Kind:    kind,
			Price:   fromThousandths(item.Price),
			TradeID: item.TradeID,
			At:      now,
		})
	}
	return events, nil
}

// SendTrades asks the market to create delivery trade offers for every sold
// item awaiting transfer. Creating a trade is not idempotent, so the call
// runs exactly once; a lost reply surfaces on the next status poll.
func (s *Service) SendTrades(ctx context.Context) error {
	if _, err := s.get(ctx, "/api/v2/trade-request-give-p2p-all", nil, s.exec.BasePolicy().NoRetry()); err != nil {
		return errors.Wrap(err, "marketcsgo: send delivery trades")
	}
	return nil
}

// Ping keeps our offers visible. The market hides listings of sellers that
// have not pinged for a few minutes.
func (s *Service) Ping(ctx context.Context) error {
	if _, err := s.get(ctx, "/api/v2/ping", nil, s.exec.BasePolicy()); err != nil {
		return errors.Wrap(err, "marketcsgo: ping")
	}
	return nil
}

func eventKind(wireStatus string) (OfferEventKind, bool) {
	switch wireStatus {
	case wireStatusListed:
		// Still waiting for a buyer, nothing to report.
		return "", false
	case wireStatusSold:
		return OfferBought, true
	case wireStatusTradeSent:
		return OfferTradeSent, true
	case wireStatusDelivered:
		return OfferDelivered, true
	case wireStatusCanceled:
		return OfferCanceled, true
	default:
		return "", false
	}
}

func (s *Service) get(ctx context.Context, path string, params map[string]string, p executor.Policy) ([]byte, error) {
	query := map[string]string{"key": s.apiKey}
	for k, v := range params {
		query[k] = v
	}

	resp, err := s.exec.DoWithPolicy(ctx, market.MarketCSGO, executor.Request{
		Method: http.MethodGet,
		URL:    s.baseURL + path,
		Query:  query,
	}, p)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s: status %d", path, resp.StatusCode)
	}

	var envelope struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err == nil &&
		envelope.Success != nil && !*envelope.Success {
		msg := strings.TrimSpace(envelope.Error)
		if msg == "" {
			msg = "request rejected"
		}
		return nil, errors.Errorf("%s: %s", path, msg)
	}
	return resp.Body, nil
}

func fromThousandths(v int64) float64 { return float64(v) / 1000 }

func toThousandths(v float64) int64 { return int64(math.Round(v * 1000)) }
