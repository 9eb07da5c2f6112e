package myq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/metrics"
)

const (
	// DefaultRequestTimeout is the ceiling for every cloud request.
	DefaultRequestTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 1 << 20

	// maxErrorBodyLen is how much of an error body APIError keeps.
	maxErrorBodyLen = 200
)

// Transport issues single HTTPS requests and classifies the response.
type Transport struct {
	httpClient *http.Client
	limiter    *RateLimiter
	timeout    time.Duration
}

// NewTransport creates a Transport. A nil httpClient uses a default
// client; a zero timeout uses DefaultRequestTimeout.
func NewTransport(httpClient *http.Client, limiter *RateLimiter, timeout time.Duration) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Transport{httpClient: httpClient, limiter: limiter, timeout: timeout}
}

// Do sends req and returns the response body for 2xx responses.
//
// Classification:
//   - 429: opens the rate-limit window, returns *RateLimitedError
//   - 403: ErrDeviceUnavailable
//   - other >= 400: *APIError with a truncated body
//   - network failure or timeout: *TransportError
//
// endpoint labels the request in metrics.
func (t *Transport) Do(req *http.Request, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	start := time.Now()
	body, err := t.do(req)
	metrics.CloudRequestDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.CloudRequestsTotal.WithLabelValues(endpoint, resultLabel(err)).Inc()
	return body, err
}

func (t *Transport) do(req *http.Request) ([]byte, error) {
	op := req.Method + " " + req.URL.Host + req.URL.Path

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err, Timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("reading body: %w", err), Timeout: isTimeout(err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		t.limiter.RecordRateLimited()
		return nil, &RateLimitedError{Remaining: RateLimitCooldown}
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrDeviceUnavailable
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBodyLen)}
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func resultLabel(err error) string {
	var (
		apiErr   *APIError
		rateErr  *RateLimitedError
		transErr *TransportError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.Is(err, ErrDeviceUnavailable):
		return "forbidden"
	case errors.As(err, &apiErr):
		return strconv.Itoa(apiErr.StatusCode)
	case errors.As(err, &transErr) && transErr.Timeout:
		return "timeout"
	default:
		return "network_error"
	}
}
