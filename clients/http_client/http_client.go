package http_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout           = 10 * time.Second
	defaultRequestsPerMinute = 30
)

var (
	client = &http.Client{Timeout: defaultTimeout}

	// limiter is shared across all fetch workers so the provider's fair-use
	// budget is a single process-wide resource, not per-worker.
	limiter = rate.NewLimiter(requestsPerMinute()/60, 1)
)

func requestsPerMinute() rate.Limit {
	if v := os.Getenv("PROVIDER_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil && rpm > 0 {
			return rate.Limit(rpm)
		}
	}
	return rate.Limit(defaultRequestsPerMinute)
}

// ProviderError is a non-200 answer from the data provider. 5xx and 429
// responses are worth retrying, everything else is permanent for this run.
type ProviderError struct {
	StatusCode int
	URL        string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d for %s", e.StatusCode, e.URL)
}

// Retryable classifies fetch errors for the retry policy: provider 5xx/429
// and transport errors are transient, provider 4xx is permanent. Callers wrap
// provider errors with context, so unwrap before classifying.
func Retryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode >= 500 || perr.StatusCode == http.StatusTooManyRequests
	}
	// Network-level errors (timeouts, resets) are transient.
	return err != nil
}

// GetCompanyPage fetches the provider page for one exchange symbol after
// waiting on the shared rate limiter. The caller owns the body.
func GetCompanyPage(ctx context.Context, symbol string) (io.ReadCloser, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/company/%s/consolidated/", os.Getenv("COMPANY_URL"), symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &ProviderError{StatusCode: resp.StatusCode, URL: url}
	}

	return resp.Body, nil
}
