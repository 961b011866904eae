package models

import (
	"time"

	"gorm.io/gorm"
)

// TrackedItem is an item name the trader watches and is willing to hold.
type TrackedItem struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"uniqueIndex;not null"`
	MaxCopies int            `json:"max_copies" gorm:"default:1"`
	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// HoldTiers is the JSON payload of QuoteSnapshot.HoldTierJSON.
type HoldTiers struct {
	Prices         [3]float64 `json:"prices"`
	WithCommission [3]float64 `json:"with_commission"`
}

// QuoteSnapshot stores one observed quote for an item on one market. The
// hold-tier arrays and sale statistics ride along as JSON text.
type QuoteSnapshot struct {
	ID                      uint      `json:"id" gorm:"primaryKey"`
	ItemName                string    `json:"item_name" gorm:"index;not null"`
	Market                  string    `json:"market" gorm:"index;not null"`
	BuyPrice                float64   `json:"buy_price"`
	BuyPriceWithCommission  float64   `json:"buy_price_with_commission"`
	SellPrice               float64   `json:"sell_price"`
	SellPriceWithCommission float64   `json:"sell_price_with_commission"`
	HoldTierJSON            string    `json:"hold_tier_json" gorm:"type:text"`
	SaleStatsJSON           string    `json:"sale_stats_json" gorm:"type:text"`
	FetchedAt               time.Time `json:"fetched_at" gorm:"index"`
	CreatedAt               time.Time `json:"created_at"`
}

// TicketRecord is one applied status change ticket. AssetID plus Seq is
// unique so the per-asset log stays gapless even under concurrent writers.
// Status holds the status the asset reached after the ticket; AssetJSON
// holds the full asset reference as JSON.
type TicketRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TicketID  string    `json:"ticket_id" gorm:"uniqueIndex;not null"`
	ItemName  string    `json:"item_name" gorm:"index;not null"`
	AssetID   string    `json:"asset_id" gorm:"index:idx_asset_seq,unique;not null"`
	Seq       int       `json:"seq" gorm:"index:idx_asset_seq,unique;not null"`
	Kind      string    `json:"kind" gorm:"not null"`
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	EventTime int64     `json:"event_time"`
	Status    string    `json:"status" gorm:"not null"`
	AssetJSON string    `json:"asset_json" gorm:"type:text"`
	IssuedAt  time.Time `json:"issued_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeRecord is one completed flip: bought on one market, sold on another.
type TradeRecord struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ItemName    string         `json:"item_name" gorm:"index;not null"`
	AssetID     string         `json:"asset_id" gorm:"index;not null"`
	BoughtFrom  string         `json:"bought_from" gorm:"not null"`
	BoughtPrice float64        `json:"bought_price"`
	SoldOn      string         `json:"sold_on" gorm:"not null"`
	SoldPrice   float64        `json:"sold_price"`
	SoldAt      time.Time      `json:"sold_at" gorm:"index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// ArbitrageOpportunity records a deal the engine judged worth acting on,
// whether or not the purchase went through.
type ArbitrageOpportunity struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	ItemName      string    `json:"item_name" gorm:"index;not null"`
	BuyMarket     string    `json:"buy_market" gorm:"not null"`
	SellMarket    string    `json:"sell_market" gorm:"not null"`
	ProfitPercent float64   `json:"profit_percent"`
	HoldDays      int       `json:"hold_days"`
	MaxBuyPrice   float64   `json:"max_buy_price"`
	Executed      bool      `json:"executed" gorm:"default:false"`
	DetectedAt    time.Time `json:"detected_at" gorm:"index"`
	CreatedAt     time.Time `json:"created_at"`
}
