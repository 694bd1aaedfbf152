package services

import (
	"fmt"
	"sort"
	"stockscreener/types"
	"stockscreener/utils/helpers"

	"go.uber.org/zap"
)

// CutoffConfig configures the cutoff computation. Percentiles are "top p%"
// values: 5 means the 95th percentile of the metric's distribution within
// the industry.
type CutoffConfig struct {
	Percentiles   []int
	MinSampleSize int
}

// Validate rejects configurations before any output is written.
func (c CutoffConfig) Validate() error {
	if len(c.Percentiles) == 0 {
		return &ConfigurationError{Field: "percentiles", Reason: "list must not be empty"}
	}
	for _, p := range c.Percentiles {
		if p <= 0 || p >= 100 {
			return &ConfigurationError{Field: "percentiles", Reason: fmt.Sprintf("%d is out of range (0, 100)", p)}
		}
	}
	if c.MinSampleSize < 1 {
		return &ConfigurationError{Field: "minSampleSize", Reason: "must be at least 1"}
	}
	return nil
}

// cutoffMetrics lists the metrics cutoffs are computed for, in output order.
var cutoffMetrics = []struct {
	name  string
	value func(types.MetricRecord) types.NullFloat
}{
	{MetricNetProfitMargin, func(r types.MetricRecord) types.NullFloat { return r.NetProfitMargin }},
	{MetricRevenueCAGR, func(r types.MetricRecord) types.NullFloat { return r.RevenueCAGR }},
}

// ComputeCutoffs regenerates the full cutoffs table from the metrics table.
// Rows are grouped by industry; thresholds are linear-interpolation
// percentiles over the non-missing values of each metric. Output ordering is
// fixed (industry, metric, percentile ascending) so identical input yields
// byte-identical output.
func ComputeCutoffs(records []types.MetricRecord, cfg CutoffConfig) ([]types.CutoffRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	percentiles := make([]int, len(cfg.Percentiles))
	copy(percentiles, cfg.Percentiles)
	sort.Ints(percentiles)

	groups := make(map[string][]types.MetricRecord)
	for _, r := range records {
		if r.Industry == "" {
			continue
		}
		groups[r.Industry] = append(groups[r.Industry], r)
	}

	industries := make([]string, 0, len(groups))
	for industry := range groups {
		industries = append(industries, industry)
	}
	sort.Strings(industries)

	cutoffs := []types.CutoffRecord{}
	for _, industry := range industries {
		group := groups[industry]
		for _, metric := range cutoffMetrics {
			values := []float64{}
			for _, r := range group {
				if v := metric.value(r); v.Valid {
					values = append(values, v.Float64)
				}
			}
			if len(values) == 0 {
				continue
			}

			lowConfidence := len(values) < cfg.MinSampleSize
			if lowConfidence {
				zap.L().Info("Industry sample below minimum, cutoffs flagged low confidence",
					zap.String("industry", industry),
					zap.String("metric", metric.name),
					zap.Int("sample", len(values)))
			}

			for _, p := range percentiles {
				threshold, ok := helpers.Percentile(values, 1-float64(p)/100)
				if !ok {
					continue
				}
				cutoffs = append(cutoffs, types.CutoffRecord{
					Industry:       industry,
					MetricName:     metric.name,
					Percentile:     p,
					ThresholdValue: threshold,
					LowConfidence:  lowConfidence,
				})
			}
		}
	}
	return cutoffs, nil
}
