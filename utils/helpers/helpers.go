package helpers

import (
	"math"
	"regexp"
	"sort"
	"stockscreener/types"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MatchHeader reports whether a scraped row label matches any of the given
// patterns, ignoring case and surrounding whitespace.
func MatchHeader(cellValue string, patterns []string) bool {
	normalizedValue := NormalizeString(cellValue)
	for _, pattern := range patterns {
		matched, _ := regexp.MatchString(pattern, normalizedValue)
		if matched {
			return true
		}
	}
	return false
}

// Helper function to normalize strings
func NormalizeString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ToFloat parses a scraped numeric cell ("1,234.56", "12%", "₹ 1,200 Cr.")
// into a float64, returning 0 when the cell cannot be parsed.
func ToFloat(value string) float64 {
	f, ok := parseNumericCell(value)
	if !ok {
		zap.L().Debug("Could not convert cell to float64", zap.String("value", value))
		return 0.0
	}
	return f
}

// ToNullFloat is the lossless variant of ToFloat: an unparseable or empty
// cell comes back invalid instead of 0, so missing stays distinguishable
// from an actual zero.
func ToNullFloat(value string) types.NullFloat {
	f, ok := parseNumericCell(value)
	if !ok {
		return types.NullFloat{}
	}
	return types.SomeFloat(f)
}

func parseNumericCell(value string) (float64, bool) {
	cleanStr := strings.TrimSpace(value)
	cleanStr = strings.ReplaceAll(cleanStr, ",", "")
	cleanStr = strings.ReplaceAll(cleanStr, "₹", "")
	cleanStr = strings.ReplaceAll(cleanStr, "Cr.", "")
	cleanStr = strings.TrimSpace(cleanStr)

	if cleanStr == "" || cleanStr == "-" || cleanStr == "--" {
		return 0, false
	}

	// Percent cells come back as the decimal equivalent.
	if strings.Contains(cleanStr, "%") {
		cleanStr = strings.ReplaceAll(cleanStr, "%", "")
		f, err := strconv.ParseFloat(strings.TrimSpace(cleanStr), 64)
		if err != nil {
			return 0, false
		}
		return f / 100.0, true
	}

	f, err := strconv.ParseFloat(cleanStr, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Percentile computes the q-th quantile (0 <= q <= 1) of values using linear
// interpolation between order statistics, the same scheme pandas/numpy use
// by default. The input does not need to be sorted.
func Percentile(values []float64, q float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0], true
	}
	if q >= 1 {
		return sorted[len(sorted)-1], true
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo], true
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo]), true
}

// GetMarketCapCategory buckets a market cap (in ₹ crore) the way the
// screener view groups stocks.
func GetMarketCapCategory(marketCap float64) string {
	if marketCap >= 20000 {
		return "Large Cap"
	} else if marketCap >= 5000 && marketCap < 20000 {
		return "Mid Cap"
	} else if marketCap > 0 {
		return "Small Cap"
	}
	return "Unknown Category"
}
