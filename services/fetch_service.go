package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"stockscreener/clients/http_client"
	"stockscreener/types"
	"stockscreener/utils/helpers"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// FinancialsFetcher fetches the raw financial bundle for one ticker. The
// validator and the metrics fetch stage share this so test doubles can stand
// in for the provider.
type FinancialsFetcher interface {
	FetchFinancials(ctx context.Context, symbol string) (*types.FinancialBundle, error)
}

// RetryPolicy is the explicit retry contract for provider calls: how many
// attempts a ticker gets and how long to back off between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before the next attempt. Doubles per attempt,
// capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// permanentError marks fetch errors that retrying cannot fix, such as a
// page that fetched fine but holds no statement data.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsRetryable classifies a fetch error for the retry policy.
func IsRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return http_client.Retryable(err)
}

// FetchService runs the metrics fetch stage: every qualified ticker is
// fetched on a bounded worker pool, each worker isolated so one bad ticker
// never aborts the batch.
type FetchService struct {
	Fetcher FinancialsFetcher
	Policy  RetryPolicy
	Workers int
}

// FetchAll fetches all qualified tickers and collects one tagged outcome per
// ticker. Row order of the result is not meaningful.
func (s *FetchService) FetchAll(ctx context.Context, tickers []types.QualifiedTicker) []types.TickerOutcome {
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tickers) && len(tickers) > 0 {
		workers = len(tickers)
	}

	jobs := make(chan types.QualifiedTicker)
	results := make(chan types.TickerOutcome, len(tickers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- s.fetchOne(ctx, t)
			}
		}()
	}

	for _, t := range tickers {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]types.TickerOutcome, 0, len(tickers))
	for r := range results {
		outcomes = append(outcomes, r)
	}
	return outcomes
}

func (s *FetchService) fetchOne(ctx context.Context, t types.QualifiedTicker) types.TickerOutcome {
	bundle, attempts, err := s.fetchWithRetries(ctx, t.Symbol)
	if err != nil {
		zap.L().Warn("Ticker fetch failed, excluding from this run",
			zap.String("symbol", t.Symbol),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return types.TickerOutcome{Symbol: t.Symbol, Kind: types.OutcomeFailed, Err: err, Attempts: attempts}
	}
	if len(bundle.Years) == 0 {
		// The page exists but carries no statement rows: upstream data
		// regressed since validation. Excluded this run, retryable next.
		zap.L().Warn("Ticker has no usable statement rows", zap.String("symbol", t.Symbol))
		return types.TickerOutcome{Symbol: t.Symbol, Kind: types.OutcomeExcluded, Reason: types.ReasonMissingField, Attempts: attempts}
	}
	return types.TickerOutcome{Symbol: t.Symbol, Kind: types.OutcomeSuccess, Bundle: bundle, Attempts: attempts}
}

func (s *FetchService) fetchWithRetries(ctx context.Context, symbol string) (*types.FinancialBundle, int, error) {
	var lastErr error
	maxAttempts := s.Policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		bundle, err := s.Fetcher.FetchFinancials(ctx, symbol)
		if err == nil {
			return bundle, attempt, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, attempt, err
		}
		if attempt < maxAttempts {
			zap.L().Warn("Retrying ticker fetch",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", s.Policy.Delay(attempt)),
				zap.Error(err))
			select {
			case <-time.After(s.Policy.Delay(attempt)):
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			}
		}
	}
	return nil, maxAttempts, lastErr
}

// screenerFetcher scrapes the provider's company page for the annual
// statement series, market cap, ROCE and industry tag.
type screenerFetcher struct{}

// NewScreenerFetcher returns the production FinancialsFetcher backed by the
// screener provider.
func NewScreenerFetcher() FinancialsFetcher {
	return &screenerFetcher{}
}

func (f *screenerFetcher) FetchFinancials(ctx context.Context, symbol string) (*types.FinancialBundle, error) {
	// Universe symbols are exchange-qualified (RELIANCE.NS); the provider
	// keys pages on the bare exchange symbol.
	providerSymbol := strings.SplitN(symbol, ".", 2)[0]

	body, err := http_client.GetCompanyPage(ctx, providerSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the company page: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("failed to parse the HTML content: %w", err)}
	}

	return parseCompanyPage(symbol, doc), nil
}

var (
	revenuePatterns   = []string{`^sales`, `^revenue`, `^total revenue`}
	netIncomePatterns = []string{`^net profit`, `^net income`}
)

// parseCompanyPage extracts the financial bundle from a provider company
// page document.
func parseCompanyPage(symbol string, doc *goquery.Document) *types.FinancialBundle {
	bundle := &types.FinancialBundle{Symbol: symbol}

	// Industry tag from the peers section breadcrumb.
	doc.Find("section#peers p.sub a").Each(func(i int, item *goquery.Selection) {
		bundle.Industry = strings.TrimSpace(item.Text())
	})

	// Top ratios list: market cap and ROCE.
	doc.Find("li.flex.flex-space-between[data-source='default']").Each(func(index int, item *goquery.Selection) {
		key := strings.TrimSpace(item.Find("span.name").Text())
		value := strings.TrimSpace(item.Find("span.nowrap.value").Text())
		value = strings.ReplaceAll(value, "\n", "")

		switch helpers.NormalizeString(key) {
		case "market cap":
			bundle.MarketCap = helpers.ToNullFloat(value)
		case "roce":
			bundle.ROCE = helpers.ToNullFloat(value)
		}
	})

	labels, rows := parseStatementTable(doc.Find("section#profit-loss"), "div[data-result-table]")
	bundle.Years = buildYearSeries(labels, rows)
	return bundle
}

// parseStatementTable pulls the year headers and per-line-item cells out of
// a statement section. Columns are chronological, oldest first.
func parseStatementTable(section *goquery.Selection, tableSelector string) ([]string, map[string][]string) {
	table := section.Find(tableSelector)
	if table.Length() == 0 {
		return nil, nil
	}

	labels := []string{}
	table.Find("thead th").Each(func(i int, th *goquery.Selection) {
		if i > 0 { // Skip the row-label column
			labels = append(labels, strings.TrimSpace(th.Text()))
		}
	})

	rows := make(map[string][]string)
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		rowKey := strings.TrimSpace(tr.Find("td.text").Text())
		rowKey = strings.TrimSuffix(rowKey, "+")
		rowKey = strings.TrimSpace(rowKey)
		rowValues := []string{}
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			if j > 0 { // Skip the first column which is the row key
				rowValues = append(rowValues, strings.TrimSpace(td.Text()))
			}
		})
		rows[rowKey] = rowValues
	})

	return labels, rows
}

// buildYearSeries aligns the revenue and net income rows with the fiscal
// year headers. Trailing non-year columns (TTM) are dropped.
func buildYearSeries(labels []string, rows map[string][]string) []types.FinancialYear {
	if len(labels) == 0 || len(rows) == 0 {
		return nil
	}

	revenue := findStatementRow(rows, revenuePatterns)
	netIncome := findStatementRow(rows, netIncomePatterns)
	if revenue == nil && netIncome == nil {
		return nil
	}

	years := make([]types.FinancialYear, 0, len(labels))
	for i, label := range labels {
		if label == "" || helpers.NormalizeString(label) == "ttm" {
			continue
		}
		year := types.FinancialYear{Label: label}
		if revenue != nil && i < len(revenue) {
			year.Revenue = helpers.ToNullFloat(revenue[i])
		}
		if netIncome != nil && i < len(netIncome) {
			year.NetIncome = helpers.ToNullFloat(netIncome[i])
		}
		years = append(years, year)
	}
	return years
}

func findStatementRow(rows map[string][]string, patterns []string) []string {
	for _, pattern := range patterns {
		keys := make([]string, 0, len(rows))
		for key := range rows {
			if helpers.MatchHeader(key, []string{pattern}) {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			return rows[keys[0]]
		}
	}
	return nil
}
