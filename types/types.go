package types

import (
	"strconv"
	"time"
)

// NullFloat is a float64 that can be absent. A metric that could not be
// computed is stored as invalid, never coerced to zero — zero is a real value
// downstream filters must be able to see. Serializes to an empty CSV cell.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

func SomeFloat(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

func (n NullFloat) MarshalCSV() (string, error) {
	if !n.Valid {
		return "", nil
	}
	return strconv.FormatFloat(n.Float64, 'f', -1, 64), nil
}

func (n *NullFloat) UnmarshalCSV(field string) error {
	if field == "" {
		*n = NullFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return err
	}
	*n = NullFloat{Float64: v, Valid: true}
	return nil
}

// DateTime wraps time.Time so table timestamps serialize as RFC3339 in UTC.
type DateTime struct {
	time.Time
}

func (d DateTime) MarshalCSV() (string, error) {
	if d.IsZero() {
		return "", nil
	}
	return d.UTC().Format(time.RFC3339), nil
}

func (d *DateTime) UnmarshalCSV(field string) error {
	if field == "" {
		*d = DateTime{}
		return nil
	}
	t, err := time.Parse(time.RFC3339, field)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Ticker is one row of the universe table. Immutable once loaded.
type Ticker struct {
	Symbol   string `csv:"symbol" json:"symbol"`
	Exchange string `csv:"exchange" json:"exchange"`
	Industry string `csv:"industry" json:"industry"`
}

// FinancialYear is a single fiscal-year observation. Series are kept
// chronological (oldest first) everywhere in the pipeline.
type FinancialYear struct {
	Label     string
	Revenue   NullFloat
	NetIncome NullFloat
}

// Complete reports whether every field the validator requires is present.
func (y FinancialYear) Complete() bool {
	return y.Revenue.Valid && y.NetIncome.Valid
}

// FinancialBundle is the raw per-ticker payload produced by the fetch stage
// and consumed by the metrics computer.
type FinancialBundle struct {
	Symbol    string
	Industry  string
	MarketCap NullFloat
	ROCE      NullFloat
	Years     []FinancialYear
}

// Exclusion reasons written to the excluded-tickers table.
const (
	ReasonInsufficientHistory = "insufficient history"
	ReasonFetchFailure        = "fetch failure"
	ReasonMissingField        = "missing field"
)

// ValidationResult is the per-ticker verdict of the validator.
type ValidationResult struct {
	Ticker         Ticker
	Qualified      bool
	YearsAvailable int
	Reason         string
}

// QualifiedTicker is one row of the qualified-tickers table, the fetch
// stage's input contract.
type QualifiedTicker struct {
	Symbol         string `csv:"symbol"`
	Industry       string `csv:"industry"`
	YearsAvailable int    `csv:"years_available"`
}

// ExcludedTicker is one row of the excluded-tickers table.
type ExcludedTicker struct {
	Symbol         string `csv:"symbol"`
	Reason         string `csv:"reason"`
	YearsAvailable int    `csv:"years_available"`
}

// MetricRecord is one row of the metrics table, keyed by symbol.
type MetricRecord struct {
	Symbol          string    `csv:"symbol" json:"symbol" bson:"symbol"`
	Industry        string    `csv:"industry" json:"industry" bson:"industry"`
	RevenueCAGR     NullFloat `csv:"revenue_cagr" json:"revenueCagr"`
	NetProfitMargin NullFloat `csv:"net_profit_margin" json:"netProfitMargin"`
	ROCE            NullFloat `csv:"roce" json:"roce"`
	MarketCap       NullFloat `csv:"market_cap" json:"marketCap"`
	LastUpdated     DateTime  `csv:"last_updated" json:"lastUpdated"`
}

// CutoffRecord is one row of the cutoffs table: the threshold a ticker must
// clear to sit in the top Percentile% of its industry for MetricName.
type CutoffRecord struct {
	Industry       string  `csv:"industry" json:"industry" bson:"industry"`
	MetricName     string  `csv:"metric_name" json:"metricName" bson:"metricName"`
	Percentile     int     `csv:"percentile" json:"percentile" bson:"percentile"`
	ThresholdValue float64 `csv:"threshold_value" json:"thresholdValue" bson:"thresholdValue"`
	LowConfidence  bool    `csv:"low_confidence" json:"lowConfidence" bson:"lowConfidence"`
}

// FetchFailure is one row of the fetch-failure log. Failed tickers stay in
// the qualified table and are retried on the next run.
type FetchFailure struct {
	Symbol   string   `csv:"symbol" json:"symbol"`
	Error    string   `csv:"error" json:"error"`
	Attempts int      `csv:"attempts" json:"attempts"`
	FailedAt DateTime `csv:"failed_at" json:"failedAt"`
}

// OutcomeKind tags a per-ticker fetch outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeExcluded
	OutcomeFailed
)

// TickerOutcome is the tagged per-ticker result collected by the fetch
// stage: exactly one of Bundle, Reason or Err is meaningful.
type TickerOutcome struct {
	Symbol   string
	Kind     OutcomeKind
	Bundle   *FinancialBundle
	Reason   string
	Err      error
	Attempts int
}

// RunMode distinguishes production runs from small-batch test runs.
type RunMode string

const (
	RunModeFull RunMode = "full"
	RunModeTest RunMode = "test"
)

// RunSummary aggregates per-ticker outcomes for one pipeline run. It is the
// payload of the Kafka reporting event and the /api/pipeline/summary view.
type RunSummary struct {
	RunID             string    `json:"runId"`
	Mode              RunMode   `json:"mode"`
	UniverseSize      int       `json:"universeSize"`
	Qualified         int       `json:"qualified"`
	Excluded          int       `json:"excluded"`
	FetchFailures     int       `json:"fetchFailures"`
	MetricRows        int       `json:"metricRows"`
	IndustriesCovered int       `json:"industriesCovered"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	Succeeded         bool      `json:"succeeded"`
}

// FetchFailureEvent is published to RabbitMQ for each ticker that exhausted
// its retry budget, so ops tooling can watch the retry backlog.
type FetchFailureEvent struct {
	RunID   string       `json:"runId"`
	Failure FetchFailure `json:"failure"`
	SentAt  time.Time    `json:"sentAt"`
}
