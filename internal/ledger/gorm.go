package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/models"
)

// GormStore persists ledger events as ticket records. The unique index on
// (asset_id, seq) makes duplicate sequence numbers a database error, which
// keeps the per-asset log gapless even if two processes ever share one
// database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) Append(ctx context.Context, ev Event) error {
	assetJSON, err := json.Marshal(ev.Ticket.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset ref: %w", err)
	}

	rec := models.TicketRecord{
		TicketID:  ev.Ticket.ID,
		ItemName:  ev.Ticket.ItemName,
		AssetID:   ev.Ticket.Asset.AssetID,
		Seq:       ev.Seq,
		Kind:      string(ev.Ticket.Change.Kind),
		Market:    ev.Ticket.Change.Market.String(),
		Price:     ev.Ticket.Change.Price,
		EventTime: ev.Ticket.Change.Timestamp,
		Status:    string(ev.Status),
		AssetJSON: string(assetJSON),
		IssuedAt:  ev.Ticket.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) LoadAll(ctx context.Context) ([]Event, error) {
	var recs []models.TicketRecord
	if err := s.db.WithContext(ctx).Order("asset_id, seq").Find(&recs).Error; err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(recs))
	for _, rec := range recs {
		var asset inventory.AssetRef
		if rec.AssetJSON != "" {
			if err := json.Unmarshal([]byte(rec.AssetJSON), &asset); err != nil {
				return nil, fmt.Errorf("ticket %s: corrupt asset ref: %w", rec.TicketID, err)
			}
		}
		if asset.AssetID == "" {
			asset.AssetID = rec.AssetID
		}

		events = append(events, Event{
			Ticket: inventory.StatusChangeTicket{
				ID:       rec.TicketID,
				ItemName: rec.ItemName,
				Asset:    asset,
				Change: inventory.StatusChange{
					Kind:      inventory.ChangeKind(rec.Kind),
					Market:    market.Market(rec.Market),
					Timestamp: rec.EventTime,
					Price:     rec.Price,
				},
				CreatedAt: rec.IssuedAt,
			},
			Seq:    rec.Seq,
			Status: inventory.ItemStatus(rec.Status),
		})
	}
	return events, nil
}
