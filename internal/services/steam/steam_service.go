// Package steam talks to the Steam community endpoints: inventory walks,
// market price overviews and trade-offer acceptance.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

const (
	communityBaseURL = "https://steamcommunity.com"
	webAPIBaseURL    = "https://api.steampowered.com"

	inventoryPageSize = 5000
)

// ignoredNameParts filters inventory entries that are never arbitrage
// candidates: containers, stickers and other non-skin drops.
var ignoredNameParts = []string{
	"Case", "Souvenir", "Sticker", "Graffiti", "Patch",
	"Music Kit", "Pin", "Key", "Pass", "Capsule",
}

type Service struct {
	steamID   string
	apiKey    string
	sessionID string
	cookie    string
	exec      *executor.Executor
	logger    zerolog.Logger
	baseURL   string
	apiURL    string
}

func New(steamID, apiKey, tradeCookie string, exec *executor.Executor, logger zerolog.Logger) *Service {
	return &Service{
		steamID:   steamID,
		apiKey:    apiKey,
		sessionID: sessionIDFromCookie(tradeCookie),
		cookie:    tradeCookie,
		exec:      exec,
		logger:    logger.With().Str("service", "steam").Logger(),
		baseURL:   communityBaseURL,
		apiURL:    webAPIBaseURL,
	}
}

type inventoryAsset struct {
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
}

type assetDescription struct {
	ClassID         string `json:"classid"`
	InstanceID      string `json:"instanceid"`
	MarketHashName  string `json:"market_hash_name"`
	Tradable        int    `json:"tradable"`
	Marketable      int    `json:"marketable"`
	CacheExpiration string `json:"cache_expiration"` // trade lock end, RFC3339
}

type inventoryPage struct {
	Assets       []inventoryAsset   `json:"assets"`
	Descriptions []assetDescription `json:"descriptions"`
	MoreItems    int                `json:"more_items"`
	LastAssetID  string             `json:"last_assetid"`
	Success      int                `json:"success"`
}

type priceOverview struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	Volume      string `json:"volume"`
	MedianPrice string `json:"median_price"`
}

// FetchInventory walks the CS:GO inventory page by page and returns every
// marketable skin as an observation ready for reconciliation. Tradable items
// come back Available, trade-locked ones OnHold with the lock expiry.
func (s *Service) FetchInventory(ctx context.Context) ([]inventory.InstanceView, error) {
	var (
		views  []inventory.InstanceView
		cursor string
	)
	for {
		page, err := s.fetchInventoryPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		views = append(views, s.collectViews(page)...)
		if page.MoreItems != 1 || page.LastAssetID == "" {
			return views, nil
		}
		cursor = page.LastAssetID
	}
}

func (s *Service) fetchInventoryPage(ctx context.Context, startAssetID string) (*inventoryPage, error) {
	req := executor.Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("%s/inventory/%s/730/2", s.baseURL, s.steamID),
		Query: map[string]string{
			"l":     "english",
			"count": strconv.Itoa(inventoryPageSize),
		},
	}
	if startAssetID != "" {
		req.Query["start_assetid"] = startAssetID
	}

	resp, err := s.exec.Do(ctx, market.Steam, req)
	if err != nil {
		return nil, errors.Wrap(err, "steam: fetch inventory page")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("steam: fetch inventory page: status %d", resp.StatusCode)
	}

	var page inventoryPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, errors.Wrap(err, "steam: decode inventory page")
	}
	if page.Success != 1 {
		return nil, errors.New("steam: inventory page rejected")
	}
	return &page, nil
}

func (s *Service) collectViews(page *inventoryPage) []inventory.InstanceView {
	descs := make(map[string]assetDescription, len(page.Descriptions))
	for _, d := range page.Descriptions {
		descs[d.ClassID+"_"+d.InstanceID] = d
	}

	var views []inventory.InstanceView
	for _, asset := range page.Assets {
		desc, ok := descs[asset.ClassID+"_"+asset.InstanceID]
		if !ok || desc.Marketable != 1 || ignoredName(desc.MarketHashName) {
			continue
		}
		data := inventory.ItemData{
			Asset:  inventory.AssetRef{AssetID: asset.AssetID},
			Status: inventory.StatusAvailable,
		}
		if desc.Tradable != 1 {
			data.Status = inventory.StatusOnHold
			data.LockExpiresAt = s.parseLockExpiry(desc.CacheExpiration)
		}
		views = append(views, inventory.InstanceView{Name: desc.MarketHashName, Data: data})
	}
	return views
}

func ignoredName(name string) bool {
	for _, part := range ignoredNameParts {
		if strings.Contains(name, part) {
			return true
		}
	}
	return false
}

func (s *Service) parseLockExpiry(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		s.logger.Debug().Str("value", v).Msg("unparseable trade lock expiry")
		return time.Time{}
	}
	return t
}

// ScanTradeLocks returns a TradeLockDone ticket for every on-hold instance
// whose trade lock has expired. Instances with an unknown expiry stay on hold
// until an inventory refresh reports them tradable.
func ScanTradeLocks(views []inventory.InstanceView, now time.Time) []inventory.StatusChangeTicket {
	var tickets []inventory.StatusChangeTicket
	for _, v := range views {
		if v.Data.Status != inventory.StatusOnHold || v.Data.LockExpiresAt.IsZero() {
			continue
		}
		if v.Data.LockExpiresAt.After(now) {
			continue
		}
		tickets = append(tickets, inventory.NewTicket(v.Name, v.Data.Asset, inventory.NewTradeLockDone()))
	}
	return tickets
}

// FetchQuote reads the community market price overview. Steam charges no
// buyer fee, so the raw lowest listing doubles as the commission-inclusive
// cost; the seller side nets out the combined market fee.
func (s *Service) FetchQuote(ctx context.Context, itemName string) (pricing.Quote, error) {
	comm, err := market.Commissions(market.Steam)
	if err != nil {
		return pricing.Quote{}, err
	}

	req := executor.Request{
		Method: http.MethodGet,
		URL:    s.baseURL + "/market/priceoverview/",
		Query: map[string]string{
			"appid":            "730",
			"currency":         "1",
			"market_hash_name": itemName,
		},
	}
	resp, err := s.exec.Do(ctx, market.Steam, req)
	if err != nil {
		return pricing.Quote{}, errors.Wrapf(err, "steam: price overview %q", itemName)
	}
	if resp.StatusCode != http.StatusOK {
		return pricing.Quote{}, errors.Errorf("steam: price overview %q: status %d", itemName, resp.StatusCode)
	}

	var overview priceOverview
	if err := json.Unmarshal(resp.Body, &overview); err != nil {
		return pricing.Quote{}, errors.Wrapf(err, "steam: decode price overview %q", itemName)
	}
	if !overview.Success || overview.LowestPrice == "" {
		return pricing.Quote{}, errors.Errorf("steam: no listings for %q", itemName)
	}

	lowest, err := parseDollarPrice(overview.LowestPrice)
	if err != nil {
		return pricing.Quote{}, errors.Wrapf(err, "steam: parse price %q", overview.LowestPrice)
	}

	return pricing.Quote{
		Market:                  market.Steam,
		CommissionPercent:       comm.SellTotalPercent(),
		BuyPrice:                lowest,
		BuyPriceWithCommission:  lowest,
		SellPrice:               lowest,
		SellPriceWithCommission: lowest * (1 - comm.SellTotalPercent()/100),
	}, nil
}

// AcceptTradeOffer confirms an incoming item delivery. Accepting is not
// idempotent, so the call runs exactly once; a 401 or 403 reply means the
// session cookie has expired and comes back as ErrFatalResponse.
func (s *Service) AcceptTradeOffer(ctx context.Context, offerID, partnerID string) error {
	form := url.Values{}
	form.Set("sessionid", s.sessionID)
	form.Set("serverid", "1")
	form.Set("tradeofferid", offerID)
	form.Set("partner", partnerID)
	form.Set("captcha", "")

	req := executor.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/tradeoffer/%s/accept", s.baseURL, offerID),
		Header: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Cookie":       s.cookie,
			"Referer":      fmt.Sprintf("%s/tradeoffer/%s/", s.baseURL, offerID),
		},
		Body: form.Encode(),
	}

	resp, err := s.exec.DoWithPolicy(ctx, market.Steam, req, s.exec.BasePolicy().NoRetry())
	if err != nil {
		return errors.Wrapf(err, "steam: accept trade offer %s", offerID)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("steam: accept trade offer %s: status %d", offerID, resp.StatusCode)
	}
	return nil
}

// ValidateCredentials checks the web API key before the daemon starts
// trading.
func (s *Service) ValidateCredentials(ctx context.Context) error {
	req := executor.Request{
		Method: http.MethodGet,
		URL:    s.apiURL + "/ISteamUser/GetPlayerSummaries/v2/",
		Query: map[string]string{
			"key":      s.apiKey,
			"steamids": s.steamID,
		},
	}
	resp, err := s.exec.Do(ctx, market.Steam, req)
	if err != nil {
		return errors.Wrap(err, "steam: validate credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("steam: api key rejected with status %d", resp.StatusCode)
	}
	return nil
}

// parseDollarPrice converts a display price like "$1,234.56" to a float.
func parseDollarPrice(v string) (float64, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "$")
	v = strings.ReplaceAll(v, ",", "")
	return strconv.ParseFloat(v, 64)
}

func sessionIDFromCookie(cookie string) string {
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "sessionid=") {
			return strings.TrimPrefix(part, "sessionid=")
		}
	}
	return ""
}
