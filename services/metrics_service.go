package services

import (
	"math"
	"stockscreener/types"
	"time"
)

// Metric names as they appear in the cutoffs table.
const (
	MetricRevenueCAGR     = "revenue_cagr"
	MetricNetProfitMargin = "net_profit_margin"
)

// CalculateCAGR computes the compound annual growth rate over a
// chronological series covering W years: (end/start)^(1/(W-1)) - 1.
// Undefined when the series is shorter than two years or starts at or below
// zero; undefined is reported as an invalid NullFloat, never as zero.
func CalculateCAGR(series []float64) types.NullFloat {
	if len(series) < 2 {
		return types.NullFloat{}
	}
	start := series[0]
	end := series[len(series)-1]
	if start <= 0 {
		return types.NullFloat{}
	}
	n := float64(len(series) - 1)
	ratio := end / start
	if ratio <= 0 {
		// A sign flip over the window has no real geometric growth rate.
		return types.NullFloat{}
	}
	return types.SomeFloat(math.Pow(ratio, 1/n) - 1)
}

// ComputeMetrics derives one metrics-table row from a ticker's raw bundle.
// window is the validated window length in years; the CAGR uses the most
// recent window-sized slice of the revenue series. Metrics whose
// preconditions fail are left missing while the rest of the row still
// computes.
func ComputeMetrics(bundle *types.FinancialBundle, window int, now time.Time) types.MetricRecord {
	record := types.MetricRecord{
		Symbol:      bundle.Symbol,
		Industry:    bundle.Industry,
		ROCE:        bundle.ROCE,
		MarketCap:   bundle.MarketCap,
		LastUpdated: types.DateTime{Time: now},
	}

	revenues := make([]float64, 0, len(bundle.Years))
	for _, y := range bundle.Years {
		if y.Revenue.Valid {
			revenues = append(revenues, y.Revenue.Float64)
		}
	}
	if len(revenues) >= window && window >= 2 {
		record.RevenueCAGR = CalculateCAGR(revenues[len(revenues)-window:])
	}

	record.NetProfitMargin = latestNetProfitMargin(bundle.Years)
	return record
}

// latestNetProfitMargin is net income over revenue for the most recent year
// carrying both. Undefined when revenue is zero — a zero denominator is a
// missing margin, not a zero margin.
func latestNetProfitMargin(years []types.FinancialYear) types.NullFloat {
	for i := len(years) - 1; i >= 0; i-- {
		y := years[i]
		if !y.Revenue.Valid || !y.NetIncome.Valid {
			continue
		}
		if y.Revenue.Float64 == 0 {
			return types.NullFloat{}
		}
		return types.SomeFloat(y.NetIncome.Float64 / y.Revenue.Float64)
	}
	return types.NullFloat{}
}
