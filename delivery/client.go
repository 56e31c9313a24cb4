package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// httpResult is the raw outcome of one outbound send, before classification.
type httpResult struct {
	StatusCode int
	Body       string
	Duration   time.Duration
	// Err is set on network-class failures: dial, TLS, timeout, reset.
	Err error
	// TimedOut distinguishes deadline expiry from other network failures.
	TimedOut bool
}

// sendHTTP performs one outbound request with the per-integration timeout.
// The response body is read up to maxBody bytes; anything beyond is
// discarded, not failed, because targets are free to answer verbosely.
func (e *Engine) sendHTTP(ctx context.Context, method, targetURL string, body []byte, headers map[string]string, timeout time.Duration, maxBody int) *httpResult {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, targetURL, reader)
	if err != nil {
		return &httpResult{Err: err, Duration: time.Since(start)}
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &httpResult{
			Err:      err,
			TimedOut: isTimeout(err, callCtx),
			Duration: time.Since(start),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(maxBody)))
	if readErr != nil {
		return &httpResult{
			StatusCode: resp.StatusCode,
			Err:        readErr,
			TimedOut:   isTimeout(readErr, callCtx),
			Duration:   time.Since(start),
		}
	}

	return &httpResult{
		StatusCode: resp.StatusCode,
		Body:       string(responseBody),
		Duration:   time.Since(start),
	}
}

func isTimeout(err error, ctx context.Context) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
