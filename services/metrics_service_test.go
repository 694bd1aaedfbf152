package services

import (
	"math"
	"stockscreener/types"
	"testing"
	"time"
)

func yearSeries(revenues, netIncomes []float64) []types.FinancialYear {
	years := make([]types.FinancialYear, len(revenues))
	for i := range revenues {
		years[i] = types.FinancialYear{
			Label:     "Mar 202" + string(rune('0'+i)),
			Revenue:   types.SomeFloat(revenues[i]),
			NetIncome: types.SomeFloat(netIncomes[i]),
		}
	}
	return years
}

func TestCalculateCAGR_TenPercentGrowth(t *testing.T) {
	got := CalculateCAGR([]float64{100, 110, 121})
	if !got.Valid {
		t.Fatal("Expected a defined CAGR")
	}
	if math.Abs(got.Float64-0.10) > 1e-9 {
		t.Errorf("Expected 0.10, got %v", got.Float64)
	}
}

func TestCalculateCAGR_SingleYearUndefined(t *testing.T) {
	got := CalculateCAGR([]float64{100})
	if got.Valid {
		t.Errorf("Expected undefined CAGR, got %v", got.Float64)
	}
}

func TestCalculateCAGR_ZeroBaseUndefined(t *testing.T) {
	got := CalculateCAGR([]float64{0, 121})
	if got.Valid {
		t.Errorf("Expected undefined CAGR, got %v", got.Float64)
	}
}

func TestCalculateCAGR_NegativeBaseUndefined(t *testing.T) {
	got := CalculateCAGR([]float64{-50, 121})
	if got.Valid {
		t.Errorf("Expected undefined CAGR, got %v", got.Float64)
	}
}

func TestComputeMetrics_MarginForZeroRevenueIsMissing(t *testing.T) {
	bundle := &types.FinancialBundle{
		Symbol: "ZERO.NS",
		Years:  yearSeries([]float64{100, 50, 0}, []float64{10, 5, 3}),
	}
	record := ComputeMetrics(bundle, 2, time.Now())
	if record.NetProfitMargin.Valid {
		t.Errorf("Expected missing margin for zero revenue, got %v", record.NetProfitMargin.Float64)
	}
}

func TestComputeMetrics_ZeroMarginStaysDistinctFromMissing(t *testing.T) {
	bundle := &types.FinancialBundle{
		Symbol: "FLAT.NS",
		Years:  yearSeries([]float64{100, 110}, []float64{10, 0}),
	}
	record := ComputeMetrics(bundle, 2, time.Now())
	if !record.NetProfitMargin.Valid || record.NetProfitMargin.Float64 != 0 {
		t.Errorf("Expected a real 0.0 margin, got %+v", record.NetProfitMargin)
	}
}

func TestComputeMetrics_WindowTooShortLeavesCAGRMissing(t *testing.T) {
	bundle := &types.FinancialBundle{
		Symbol: "SHORT.NS",
		Years:  yearSeries([]float64{100, 110, 121}, []float64{10, 11, 12}),
	}
	record := ComputeMetrics(bundle, 4, time.Now())
	if record.RevenueCAGR.Valid {
		t.Errorf("Expected missing CAGR for 3 years with a 4-year window, got %v", record.RevenueCAGR.Float64)
	}
	// The rest of the row still computes.
	if !record.NetProfitMargin.Valid {
		t.Error("Expected margin to compute even when CAGR is missing")
	}
}

func TestComputeMetrics_UsesMostRecentWindow(t *testing.T) {
	// Older years grow at a different rate; the window should cover the
	// most recent 3 values only.
	bundle := &types.FinancialBundle{
		Symbol: "WIN.NS",
		Years:  yearSeries([]float64{10, 100, 110, 121}, []float64{1, 10, 11, 12}),
	}
	record := ComputeMetrics(bundle, 3, time.Now())
	if !record.RevenueCAGR.Valid {
		t.Fatal("Expected a defined CAGR")
	}
	if math.Abs(record.RevenueCAGR.Float64-0.10) > 1e-9 {
		t.Errorf("Expected 0.10 over the recent window, got %v", record.RevenueCAGR.Float64)
	}
}

func TestComputeMetrics_MissingMarketCapDegradesRow(t *testing.T) {
	bundle := &types.FinancialBundle{
		Symbol:   "NOCAP.NS",
		Industry: "Cement",
		Years:    yearSeries([]float64{100, 121}, []float64{10, 12}),
	}
	record := ComputeMetrics(bundle, 2, time.Now())
	if record.MarketCap.Valid {
		t.Errorf("Expected missing market cap, got %v", record.MarketCap.Float64)
	}
	if !record.RevenueCAGR.Valid {
		t.Error("Expected CAGR to compute despite missing market cap")
	}
	if record.Industry != "Cement" {
		t.Errorf("Expected industry to pass through, got %q", record.Industry)
	}
}
