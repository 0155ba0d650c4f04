package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
)

// HTTPClient is the shared HTTP transport for concrete gateway
// implementations, with retry and backoff on transient upstream errors.
type HTTPClient struct {
	httpClient *http.Client
	retry      ratelimit.RetryConfig
	userAgent  string
}

// NewHTTPClient creates a gateway HTTP client with the given retry config.
func NewHTTPClient(retry ratelimit.RetryConfig) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:     retry,
		userAgent: "ecommerce-sync/1.0",
	}
}

// Do performs an HTTP request, retrying transient failures (connection
// errors, 429, 5xx) with exponential backoff. A 429 Retry-After header is
// honored. Non-retryable statuses fail immediately; the caller owns the
// response body on success.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastStatus int
	var lastErr error
	var retryAfter string

	req.Header.Set("User-Agent", c.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			var backoff time.Duration
			if lastStatus == http.StatusTooManyRequests {
				backoff = ratelimit.RateLimitBackoff(attempt-1, c.retry, retryAfter)
			} else {
				backoff = ratelimit.Backoff(attempt-1, c.retry)
			}
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
		}

		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}

		lastStatus = resp.StatusCode
		retryAfter = resp.Header.Get("Retry-After")

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if !ratelimit.IsRetryableStatus(resp.StatusCode) {
			drain(resp)
			return nil, &ratelimit.RetryError{
				Endpoint:   req.URL.String(),
				Attempts:   attempt + 1,
				LastStatus: resp.StatusCode,
			}
		}
		drain(resp)
	}

	return nil, &ratelimit.RetryError{
		Endpoint:   req.URL.String(),
		Attempts:   c.retry.MaxRetries + 1,
		LastStatus: lastStatus,
		LastError:  lastErr,
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
