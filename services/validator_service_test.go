package services

import (
	"context"
	"errors"
	"stockscreener/types"
	"testing"
)

// stubFetcher serves canned bundles keyed by symbol; symbols in failures
// return an error instead.
type stubFetcher struct {
	bundles  map[string]*types.FinancialBundle
	failures map[string]error
}

func (s *stubFetcher) FetchFinancials(_ context.Context, symbol string) (*types.FinancialBundle, error) {
	if err, ok := s.failures[symbol]; ok {
		return nil, err
	}
	if b, ok := s.bundles[symbol]; ok {
		return b, nil
	}
	return nil, errors.New("unknown symbol")
}

func completeBundle(symbol, industry string, years int) *types.FinancialBundle {
	series := make([]types.FinancialYear, years)
	rev := 100.0
	for i := range series {
		series[i] = types.FinancialYear{
			Revenue:   types.SomeFloat(rev),
			NetIncome: types.SomeFloat(rev / 10),
		}
		rev *= 1.1
	}
	return &types.FinancialBundle{
		Symbol:    symbol,
		Industry:  industry,
		MarketCap: types.SomeFloat(8000),
		Years:     series,
	}
}

func TestValidateTicker_ExactlyMinYearsQualifies(t *testing.T) {
	fetcher := &stubFetcher{bundles: map[string]*types.FinancialBundle{
		"OK.NS": completeBundle("OK.NS", "Cement", 4),
	}}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 4}

	res := v.ValidateTicker(context.Background(), types.Ticker{Symbol: "OK.NS"})
	if !res.Qualified {
		t.Fatalf("Expected qualified, got excluded with reason %q", res.Reason)
	}
	if res.YearsAvailable != 4 {
		t.Errorf("Expected 4 years available, got %d", res.YearsAvailable)
	}
}

func TestValidateTicker_OneYearShortIsInsufficientHistory(t *testing.T) {
	fetcher := &stubFetcher{bundles: map[string]*types.FinancialBundle{
		"SHORT.NS": completeBundle("SHORT.NS", "Cement", 3),
	}}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 4}

	res := v.ValidateTicker(context.Background(), types.Ticker{Symbol: "SHORT.NS"})
	if res.Qualified {
		t.Fatal("Expected excluded")
	}
	if res.Reason != types.ReasonInsufficientHistory {
		t.Errorf("Expected reason %q, got %q", types.ReasonInsufficientHistory, res.Reason)
	}
	if res.YearsAvailable != 3 {
		t.Errorf("Expected 3 years available, got %d", res.YearsAvailable)
	}
}

func TestValidateTicker_GapResetsConsecutiveCount(t *testing.T) {
	bundle := completeBundle("GAP.NS", "Cement", 5)
	// Knock out net income two years back: only the most recent 2 years
	// count as consecutive.
	bundle.Years[2].NetIncome = types.NullFloat{}
	fetcher := &stubFetcher{bundles: map[string]*types.FinancialBundle{"GAP.NS": bundle}}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 4}

	res := v.ValidateTicker(context.Background(), types.Ticker{Symbol: "GAP.NS"})
	if res.Qualified {
		t.Fatal("Expected excluded")
	}
	if res.YearsAvailable != 2 {
		t.Errorf("Expected 2 consecutive years, got %d", res.YearsAvailable)
	}
}

func TestValidateTicker_FetchErrorIsIsolated(t *testing.T) {
	fetcher := &stubFetcher{failures: map[string]error{
		"BAD.NS": errors.New("connection reset"),
	}}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 4}

	res := v.ValidateTicker(context.Background(), types.Ticker{Symbol: "BAD.NS"})
	if res.Qualified {
		t.Fatal("Expected excluded")
	}
	if res.Reason != types.ReasonFetchFailure {
		t.Errorf("Expected reason %q, got %q", types.ReasonFetchFailure, res.Reason)
	}
}

func TestValidateTicker_NoCompleteYearsIsMissingField(t *testing.T) {
	bundle := completeBundle("NOFIELD.NS", "Cement", 3)
	for i := range bundle.Years {
		bundle.Years[i].NetIncome = types.NullFloat{}
	}
	fetcher := &stubFetcher{bundles: map[string]*types.FinancialBundle{"NOFIELD.NS": bundle}}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 2}

	res := v.ValidateTicker(context.Background(), types.Ticker{Symbol: "NOFIELD.NS"})
	if res.Reason != types.ReasonMissingField {
		t.Errorf("Expected reason %q, got %q", types.ReasonMissingField, res.Reason)
	}
}

func TestPartition_SplitsUniverseAndKeepsGoing(t *testing.T) {
	fetcher := &stubFetcher{
		bundles: map[string]*types.FinancialBundle{
			"A.NS": completeBundle("A.NS", "Cement", 5),
			"B.NS": completeBundle("B.NS", "Banks", 2),
		},
		failures: map[string]error{
			"C.NS": errors.New("boom"),
		},
	}
	v := &ValidatorService{Fetcher: fetcher, MinYears: 4}

	universe := []types.Ticker{
		{Symbol: "C.NS", Exchange: "NSE"},
		{Symbol: "A.NS", Exchange: "NSE"},
		{Symbol: "B.NS", Exchange: "NSE"},
	}
	qualified, excluded := v.Partition(context.Background(), universe)

	if len(qualified) != 1 || qualified[0].Symbol != "A.NS" {
		t.Fatalf("Expected only A.NS qualified, got %+v", qualified)
	}
	if qualified[0].Industry != "Cement" {
		t.Errorf("Expected industry filled from the fetched bundle, got %q", qualified[0].Industry)
	}
	if len(excluded) != 2 {
		t.Fatalf("Expected 2 excluded, got %d", len(excluded))
	}
	// Sorted by symbol.
	if excluded[0].Symbol != "B.NS" || excluded[1].Symbol != "C.NS" {
		t.Errorf("Expected sorted exclusions, got %+v", excluded)
	}
}
