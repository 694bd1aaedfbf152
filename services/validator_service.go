package services

import (
	"context"
	"sort"
	"stockscreener/types"

	"go.uber.org/zap"
)

// ValidatorService checks data sufficiency per ticker: at least MinYears
// consecutive fiscal years, counted backward from the most recent, with both
// revenue and net income present.
type ValidatorService struct {
	Fetcher  FinancialsFetcher
	MinYears int
}

// ValidateTicker fetches the ticker's annual statements and decides whether
// it qualifies. Fetch errors are absorbed into an excluded verdict; they
// never propagate past the ticker.
func (v *ValidatorService) ValidateTicker(ctx context.Context, t types.Ticker) types.ValidationResult {
	bundle, err := v.Fetcher.FetchFinancials(ctx, t.Symbol)
	if err != nil {
		zap.L().Warn("Validation fetch failed",
			zap.String("symbol", t.Symbol),
			zap.Error(err))
		return types.ValidationResult{Ticker: t, Reason: types.ReasonFetchFailure}
	}

	if bundle.Industry != "" && t.Industry == "" {
		t.Industry = bundle.Industry
	}

	if len(bundle.Years) == 0 {
		return types.ValidationResult{Ticker: t, Reason: types.ReasonMissingField}
	}

	years := consecutiveCompleteYears(bundle.Years)
	if years == 0 {
		return types.ValidationResult{Ticker: t, Reason: types.ReasonMissingField}
	}
	if years < v.MinYears {
		return types.ValidationResult{Ticker: t, YearsAvailable: years, Reason: types.ReasonInsufficientHistory}
	}
	return types.ValidationResult{Ticker: t, Qualified: true, YearsAvailable: years}
}

// Partition validates the whole universe and splits it into the qualified
// and excluded tables. Output is sorted by symbol so re-running against the
// same upstream state reproduces the same partition byte for byte.
func (v *ValidatorService) Partition(ctx context.Context, universe []types.Ticker) ([]types.QualifiedTicker, []types.ExcludedTicker) {
	qualified := []types.QualifiedTicker{}
	excluded := []types.ExcludedTicker{}

	for _, t := range universe {
		res := v.ValidateTicker(ctx, t)
		if res.Qualified {
			qualified = append(qualified, types.QualifiedTicker{
				Symbol:         res.Ticker.Symbol,
				Industry:       res.Ticker.Industry,
				YearsAvailable: res.YearsAvailable,
			})
		} else {
			excluded = append(excluded, types.ExcludedTicker{
				Symbol:         res.Ticker.Symbol,
				Reason:         res.Reason,
				YearsAvailable: res.YearsAvailable,
			})
		}
	}

	sort.Slice(qualified, func(i, j int) bool { return qualified[i].Symbol < qualified[j].Symbol })
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].Symbol < excluded[j].Symbol })

	zap.L().Info("Universe validated",
		zap.Int("universe", len(universe)),
		zap.Int("qualified", len(qualified)),
		zap.Int("excluded", len(excluded)))
	return qualified, excluded
}

// consecutiveCompleteYears counts years with all required line items,
// starting at the most recent year and stopping at the first gap. Series are
// chronological, so it walks from the tail.
func consecutiveCompleteYears(years []types.FinancialYear) int {
	count := 0
	for i := len(years) - 1; i >= 0; i-- {
		if !years[i].Complete() {
			break
		}
		count++
	}
	return count
}
