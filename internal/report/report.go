// Package report renders comparator output into spreadsheets for manual
// review.
package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

// spreadHeader is the column layout of every market-pair sheet.
var spreadHeader = []any{
	"Item", "Buy Price", "Buy With Fee", "Sell Price", "Sell With Fee",
	"Diff", "Diff After Fees", "Diff % After Fees", "Weekly Sales", "Weekly Avg With Fee",
}

// WriteSpreadWorkbook writes one sheet per directional market pair, rows
// sorted by after-fee spread with the widest first.
func WriteSpreadWorkbook(path string, pairs map[pricing.MarketPair][]pricing.PriceCompare) error {
	f := excelize.NewFile()
	defer f.Close()

	ordered := make([]pricing.MarketPair, 0, len(pairs))
	for pair := range pairs {
		ordered = append(ordered, pair)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Buy != ordered[j].Buy {
			return ordered[i].Buy < ordered[j].Buy
		}
		return ordered[i].Sell < ordered[j].Sell
	})

	for _, pair := range ordered {
		if err := writePairSheet(f, pair, pairs[pair]); err != nil {
			return err
		}
	}

	// The default sheet only survives when there was nothing to write.
	if len(ordered) > 0 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("report: drop default sheet: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}

func writePairSheet(f *excelize.File, pair pricing.MarketPair, compares []pricing.PriceCompare) error {
	name := sheetName(pair.Buy, pair.Sell)
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("report: sheet %s: %w", name, err)
	}
	if err := f.SetSheetRow(name, "A1", &spreadHeader); err != nil {
		return fmt.Errorf("report: sheet %s header: %w", name, err)
	}

	rows := make([]pricing.PriceCompare, len(compares))
	copy(rows, compares)
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].DiffValueAfterComm > rows[j].DiffValueAfterComm
	})

	for i, cmp := range rows {
		var weeklySales int
		var weeklyAvg float64
		if cmp.Sell.SaleStats != nil {
			weeklySales = cmp.Sell.SaleStats.WeeklySaleCount
			weeklyAvg = cmp.Sell.SaleStats.WeeklyAvgPriceWithComm
		}
		row := []any{
			cmp.ItemName,
			cmp.Buy.BuyPrice,
			cmp.Buy.BuyPriceWithCommission,
			cmp.Sell.SellPrice,
			cmp.Sell.SellPriceWithCommission,
			cmp.DiffValueBeforeComm,
			cmp.DiffValueAfterComm,
			cmp.DiffPercentAfterComm,
			weeklySales,
			weeklyAvg,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("report: sheet %s row %d: %w", name, i+2, err)
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("report: sheet %s row %d: %w", name, i+2, err)
		}
	}
	return nil
}

// sheetName flattens a pair into a sheet title within Excel's 31 char limit.
func sheetName(buy, sell market.Market) string {
	name := fmt.Sprintf("%s to %s", buy, sell)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
