package pricing

import (
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// SaleRecord is one day of sale history for an item on one market.
type SaleRecord struct {
	Date  time.Time
	Price float64 // representative sale price for the day
	Count int     // number of sales that day
}

// trendWindow is the number of trailing days the regression slope looks at.
const trendWindow = 7

// minMonthlyRecords is the smallest sale history worth aggregating. Below
// this the averages would be single prints, not statistics.
const minMonthlyRecords = 2

// ComputeSaleStats aggregates raw daily sale records into SaleStats. Averages
// are sale-count weighted; the commission-netted weekly average uses the
// given total sell-side commission percentage. Records outside the trailing
// 30 days are ignored.
//
// Sparse history is an error, not a zero: callers must never see a zero
// average that actually means "no data".
func ComputeSaleStats(records []SaleRecord, sellCommissionPercent float64, now time.Time) (*SaleStats, error) {
	weekCutoff := now.AddDate(0, 0, -7)
	monthCutoff := now.AddDate(0, 0, -30)

	monthly := make([]SaleRecord, 0, len(records))
	for _, r := range records {
		if r.Date.After(monthCutoff) && r.Price > 0 {
			monthly = append(monthly, r)
		}
	}
	if len(monthly) < minMonthlyRecords {
		return nil, ErrNoSaleStats
	}
	sort.Slice(monthly, func(i, j int) bool { return monthly[i].Date.Before(monthly[j].Date) })

	var (
		monthPrices, monthWeights []float64
		weekPrices, weekWeights   []float64
		monthCount, weekCount     int
	)
	for _, r := range monthly {
		w := float64(r.Count)
		if r.Count < 1 {
			w = 1
		}
		monthPrices = append(monthPrices, r.Price)
		monthWeights = append(monthWeights, w)
		monthCount += int(w)
		if r.Date.After(weekCutoff) {
			weekPrices = append(weekPrices, r.Price)
			weekWeights = append(weekWeights, w)
			weekCount += int(w)
		}
	}
	if len(weekPrices) == 0 {
		return nil, ErrNoSaleStats
	}

	weeklyAvg := stat.Mean(weekPrices, weekWeights)
	monthlyAvg := stat.Mean(monthPrices, monthWeights)
	if monthlyAvg <= 0 {
		return nil, ErrNoSaleStats
	}

	slope := priceSlope(monthPrices)

	stats := &SaleStats{
		WeeklyAvgPrice:             weeklyAvg,
		WeeklyAvgPriceWithComm:     weeklyAvg * (1 - sellCommissionPercent/100),
		WeeklySaleCount:            weekCount,
		MonthlyAvgPrice:            monthlyAvg,
		MonthlySaleCount:           monthCount,
		WeekOverMonthChangePercent: (weeklyAvg - monthlyAvg) / monthlyAvg * 100,
		ProjectedWeeklyPrice:       weeklyAvg + slope*7,
		Trend:                      classifyTrend(slope, monthlyAvg),
	}
	if stats.ProjectedWeeklyPrice < 0 {
		stats.ProjectedWeeklyPrice = 0
	}
	return stats, nil
}

// priceSlope returns the per-day linear regression slope over the trailing
// trend window of the date-ordered daily price series.
func priceSlope(series []float64) float64 {
	if len(series) < 3 {
		return 0
	}
	period := trendWindow
	if len(series) < period {
		period = len(series)
	}
	slopes := talib.LinearRegSlope(series, period)
	return slopes[len(slopes)-1]
}

// classifyTrend buckets a daily slope into up/down/stable relative to the
// price magnitude. Moves under 0.2% per day are noise.
func classifyTrend(slope, monthlyAvg float64) Trend {
	threshold := monthlyAvg * 0.002
	switch {
	case slope > threshold:
		return TrendUp
	case slope < -threshold:
		return TrendDown
	default:
		return TrendStable
	}
}
