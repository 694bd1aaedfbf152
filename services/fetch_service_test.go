package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"stockscreener/clients/http_client"
	"stockscreener/types"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func TestRetryPolicy_DelayDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, want := range expected {
		if got := p.Delay(attempt + 1); got != want {
			t.Errorf("Delay(%d): expected %v, got %v", attempt+1, want, got)
		}
	}
}

func TestIsRetryable_Classification(t *testing.T) {
	if !IsRetryable(&http_client.ProviderError{StatusCode: http.StatusInternalServerError}) {
		t.Error("Expected 500 to be retryable")
	}
	if !IsRetryable(&http_client.ProviderError{StatusCode: http.StatusTooManyRequests}) {
		t.Error("Expected 429 to be retryable")
	}
	if IsRetryable(&http_client.ProviderError{StatusCode: http.StatusNotFound}) {
		t.Error("Expected 404 to be permanent")
	}
	if IsRetryable(&permanentError{err: errors.New("bad html")}) {
		t.Error("Expected parse failures to be permanent")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Error("Expected transport errors to be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("Expected cancellation not to be retried")
	}
}

// The production fetcher wraps provider errors with context before they
// reach the retry policy; classification must survive the wrapping.
func TestIsRetryable_WrappedProviderErrors(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("failed to fetch the company page: %w", err)
	}

	if IsRetryable(wrap(&http_client.ProviderError{StatusCode: http.StatusNotFound})) {
		t.Error("Expected a wrapped 404 to stay permanent")
	}
	if !IsRetryable(wrap(&http_client.ProviderError{StatusCode: http.StatusBadGateway})) {
		t.Error("Expected a wrapped 502 to stay retryable")
	}
	if !IsRetryable(wrap(&http_client.ProviderError{StatusCode: http.StatusTooManyRequests})) {
		t.Error("Expected a wrapped 429 to stay retryable")
	}
	if IsRetryable(wrap(context.Canceled)) {
		t.Error("Expected wrapped cancellation not to be retried")
	}
}

// flakyFetcher fails a symbol a fixed number of times before succeeding.
type flakyFetcher struct {
	mu        sync.Mutex
	failFirst map[string]int
	attempts  map[string]int
	err       error
}

func (f *flakyFetcher) FetchFinancials(_ context.Context, symbol string) (*types.FinancialBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[symbol]++
	if f.attempts[symbol] <= f.failFirst[symbol] {
		return nil, f.err
	}
	return completeBundle(symbol, "Cement", 4), nil
}

func TestFetchAll_RetriesTransientFailures(t *testing.T) {
	fetcher := &flakyFetcher{
		failFirst: map[string]int{"FLAKY.NS": 2},
		err:       &http_client.ProviderError{StatusCode: http.StatusServiceUnavailable},
	}
	s := &FetchService{
		Fetcher: fetcher,
		Policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Workers: 2,
	}

	outcomes := s.FetchAll(context.Background(), []types.QualifiedTicker{{Symbol: "FLAKY.NS"}})
	if len(outcomes) != 1 {
		t.Fatalf("Expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Kind != types.OutcomeSuccess {
		t.Fatalf("Expected success after retries, got kind %v err %v", outcomes[0].Kind, outcomes[0].Err)
	}
	if outcomes[0].Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcomes[0].Attempts)
	}
}

func TestFetchAll_PermanentFailureNotRetried(t *testing.T) {
	fetcher := &flakyFetcher{
		failFirst: map[string]int{"GONE.NS": 99},
		err:       &http_client.ProviderError{StatusCode: http.StatusNotFound},
	}
	s := &FetchService{
		Fetcher: fetcher,
		Policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Workers: 1,
	}

	outcomes := s.FetchAll(context.Background(), []types.QualifiedTicker{{Symbol: "GONE.NS"}})
	if outcomes[0].Kind != types.OutcomeFailed {
		t.Fatalf("Expected failure, got kind %v", outcomes[0].Kind)
	}
	if fetcher.attempts["GONE.NS"] != 1 {
		t.Errorf("Expected a single attempt for a permanent error, got %d", fetcher.attempts["GONE.NS"])
	}
}

func TestFetchAll_WrappedPermanentFailureNotRetried(t *testing.T) {
	fetcher := &flakyFetcher{
		failFirst: map[string]int{"GONE.NS": 99},
		err:       fmt.Errorf("failed to fetch the company page: %w", &http_client.ProviderError{StatusCode: http.StatusNotFound}),
	}
	s := &FetchService{
		Fetcher: fetcher,
		Policy:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Workers: 1,
	}

	outcomes := s.FetchAll(context.Background(), []types.QualifiedTicker{{Symbol: "GONE.NS"}})
	if outcomes[0].Kind != types.OutcomeFailed {
		t.Fatalf("Expected failure, got kind %v", outcomes[0].Kind)
	}
	if fetcher.attempts["GONE.NS"] != 1 {
		t.Errorf("Expected a single attempt for a wrapped permanent error, got %d", fetcher.attempts["GONE.NS"])
	}
}

func TestFetchAll_ExhaustedRetriesReportAttempts(t *testing.T) {
	fetcher := &flakyFetcher{
		failFirst: map[string]int{"DOWN.NS": 99},
		err:       &http_client.ProviderError{StatusCode: http.StatusBadGateway},
	}
	s := &FetchService{
		Fetcher: fetcher,
		Policy:  RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Workers: 1,
	}

	outcomes := s.FetchAll(context.Background(), []types.QualifiedTicker{{Symbol: "DOWN.NS"}})
	if outcomes[0].Kind != types.OutcomeFailed {
		t.Fatalf("Expected failure, got kind %v", outcomes[0].Kind)
	}
	if outcomes[0].Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcomes[0].Attempts)
	}
}

const companyPageHTML = `
<html><body>
<ul>
<li class="flex flex-space-between" data-source="default">
  <span class="name">Market Cap</span>
  <span class="nowrap value">₹ 1,200 Cr.</span>
</li>
<li class="flex flex-space-between" data-source="default">
  <span class="name">ROCE</span>
  <span class="nowrap value">15.5 %</span>
</li>
</ul>
<section id="peers"><p class="sub"><a href="#">Cement</a></p></section>
<section id="profit-loss"><div data-result-table>
<table>
<thead><tr><th></th><th>Mar 2021</th><th>Mar 2022</th><th>Mar 2023</th><th>TTM</th></tr></thead>
<tbody>
<tr><td class="text">Sales +</td><td>100</td><td>110</td><td>121</td><td>130</td></tr>
<tr><td class="text">Net Profit +</td><td>10</td><td>11</td><td>12</td><td>13</td></tr>
</tbody>
</table>
</div></section>
</body></html>`

func TestParseCompanyPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(companyPageHTML))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	bundle := parseCompanyPage("ACC.NS", doc)
	if bundle.Industry != "Cement" {
		t.Errorf("Expected industry Cement, got %q", bundle.Industry)
	}
	if !bundle.MarketCap.Valid || bundle.MarketCap.Float64 != 1200 {
		t.Errorf("Expected market cap 1200, got %+v", bundle.MarketCap)
	}
	if !bundle.ROCE.Valid || bundle.ROCE.Float64 != 0.155 {
		t.Errorf("Expected ROCE 0.155, got %+v", bundle.ROCE)
	}

	if len(bundle.Years) != 3 {
		t.Fatalf("Expected 3 fiscal years (TTM dropped), got %d", len(bundle.Years))
	}
	first, last := bundle.Years[0], bundle.Years[2]
	if !first.Revenue.Valid || first.Revenue.Float64 != 100 {
		t.Errorf("Expected oldest revenue 100, got %+v", first.Revenue)
	}
	if !last.Revenue.Valid || last.Revenue.Float64 != 121 {
		t.Errorf("Expected latest revenue 121, got %+v", last.Revenue)
	}
	if !last.NetIncome.Valid || last.NetIncome.Float64 != 12 {
		t.Errorf("Expected latest net profit 12, got %+v", last.NetIncome)
	}
}

func TestParseCompanyPage_NoStatementTable(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>maintenance</p></body></html>"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	bundle := parseCompanyPage("EMPTY.NS", doc)
	if len(bundle.Years) != 0 {
		t.Errorf("Expected no years, got %d", len(bundle.Years))
	}
}
