// Package api exposes the trading book, decisions, and ticket history over
// HTTP, plus a websocket feed of applied tickets and detected opportunities.
// Handlers read the in-memory store and ledger directly; only opportunity and
// trade history go through the database.
package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"gorm.io/gorm"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/pricing"
	"csgo-arbiter/internal/trader"
)

type APIHandler struct {
	store     *trader.Store
	ledger    *ledger.Ledger
	db        *gorm.DB // nil disables the history endpoints
	startedAt time.Time
}

func SetupRoutes(r *gin.RouterGroup, store *trader.Store, lg *ledger.Ledger, db *gorm.DB) *APIHandler {
	handler := &APIHandler{
		store:     store,
		ledger:    lg,
		db:        db,
		startedAt: time.Now(),
	}

	r.GET("/status", handler.Status)

	items := r.Group("/items")
	{
		items.GET("", handler.ListItems)
		items.GET("/:name", handler.GetItem)
	}

	r.GET("/opportunities", handler.ListOpportunities)
	r.GET("/trades", handler.ListTrades)
	r.GET("/compare", handler.Compare)
	r.GET("/tickets/:asset", handler.TicketLog)

	return handler
}

// Status reports process health: uptime, host load, and book size.
func (h *APIHandler) Status(c *gin.Context) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}
	memPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	}

	items := h.store.Items()
	instances := 0
	onOffer := 0
	for _, it := range items {
		instances += it.Count.Total
		onOffer += it.Count.OnOffer
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"cpu_percent":    cpuPercent[0],
		"mem_percent":    memPercent,
		"tracked_items":  len(items),
		"live_instances": instances,
		"on_offer":       onOffer,
	}})
}

// ListItems returns the tracked book, optionally filtered by a substring of
// the item name.
func (h *APIHandler) ListItems(c *gin.Context) {
	search := strings.TrimSpace(c.Query("search"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	all := h.store.Items()
	filtered := make([]inventory.Item, 0, len(all))
	for _, it := range all {
		if search == "" || strings.Contains(strings.ToLower(it.Name), strings.ToLower(search)) {
			filtered = append(filtered, it)
		}
	}

	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{
		"count": end - start,
		"total": total,
		"items": filtered[start:end],
	}})
}

func (h *APIHandler) GetItem(c *gin.Context) {
	it, ok := h.store.Item(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not tracked"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": it})
}

func (h *APIHandler) ListOpportunities(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := h.db.Model(&models.ArbitrageOpportunity{}).Order("detected_at DESC").Limit(limit)
	if executed := c.Query("executed"); executed != "" {
		want, err := strconv.ParseBool(executed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "executed must be a boolean"})
			return
		}
		q = q.Where("executed = ?", want)
	}

	var opps []models.ArbitrageOpportunity
	if err := q.Find(&opps).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{"count": len(opps), "items": opps}})
}

func (h *APIHandler) ListTrades(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var trades []models.TradeRecord
	if err := h.db.Model(&models.TradeRecord{}).Order("sold_at DESC").Limit(limit).Find(&trades).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{"count": len(trades), "items": trades}})
}

type pairReport struct {
	BuyMarket  string                 `json:"buy_market"`
	SellMarket string                 `json:"sell_market"`
	Compares   []pricing.PriceCompare `json:"compares"`
}

// Compare runs the cross-market comparator over the current quote snapshot.
// Nothing here is filtered by profitability; it is the raw spread report.
func (h *APIHandler) Compare(c *gin.Context) {
	pairs := pricing.CompareAll(h.store.Snapshot())

	out := make([]pairReport, 0, len(pairs))
	for pair, cmps := range pairs {
		sort.Slice(cmps, func(i, j int) bool {
			return cmps[i].DiffPercentAfterComm > cmps[j].DiffPercentAfterComm
		})
		out = append(out, pairReport{
			BuyMarket:  pair.Buy.String(),
			SellMarket: pair.Sell.String(),
			Compares:   cmps,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuyMarket != out[j].BuyMarket {
			return out[i].BuyMarket < out[j].BuyMarket
		}
		return out[i].SellMarket < out[j].SellMarket
	})

	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{"count": len(out), "pairs": out}})
}

// TicketLog returns an asset's full lifecycle: every applied ticket in order
// plus the status it currently sits in.
func (h *APIHandler) TicketLog(c *gin.Context) {
	assetID := c.Param("asset")
	events := h.ledger.Log(assetID)
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tickets for asset"})
		return
	}
	status, _ := h.ledger.Status(assetID)
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": gin.H{
		"asset_id": assetID,
		"status":   status,
		"events":   events,
	}})
}
