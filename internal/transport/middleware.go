package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Sentinel errors returned by ParseResponse. Pushes failing with
// ErrUnauthorized, ErrRejected or ErrGone are not retried.
var (
	ErrUnauthorized = errors.New("authentication failed")
	ErrRejected     = errors.New("report rejected")
	ErrGone         = errors.New("endpoint retired")
	ErrRateLimited  = errors.New("rate limited")
	ErrServer       = errors.New("server error")
)

// authTransport adds an Authorization: Bearer header to every request.
type authTransport struct {
	token string
	next  http.RoundTripper
}

// WithAuth wraps a RoundTripper with bearer-token authorization.
func WithAuth(token string, next http.RoundTripper) http.RoundTripper {
	return &authTransport{token: token, next: next}
}

func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.token)
	return a.next.RoundTrip(req)
}

// loggingTransport logs request method/URL and response status at debug level.
type loggingTransport struct {
	next http.RoundTripper
}

// WithLogging wraps a RoundTripper with request/response logging through the
// default slog logger.
func WithLogging(next http.RoundTripper) http.RoundTripper {
	return &loggingTransport{next: next}
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.next.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		slog.Debug("push request failed",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	slog.Debug("push request completed",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// backoff returns 1s * 2^attempt, capped at 64s.
func backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<attempt) * time.Second
}

// retryAfterDelay extracts the delay from a 429 response.
// It checks the Retry-After header first, then the retry_after_seconds body field.
func retryAfterDelay(resp *http.Response, body []byte) time.Duration {
	const defaultDelay = 5 * time.Second

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	var errResp model.PushErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.RetryAfterSeconds != nil && *errResp.RetryAfterSeconds > 0 {
			return time.Duration(*errResp.RetryAfterSeconds) * time.Second
		}
	}

	return defaultDelay
}

// drainAndClose reads remaining body bytes and closes, preventing connection leaks.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}

// pushError carries the status-derived sentinel and an optional server delay.
type pushError struct {
	kind       error
	status     int
	message    string
	retryAfter time.Duration
}

func (e *pushError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("transport: %v (HTTP %d): %s", e.kind, e.status, e.message)
	}
	return fmt.Sprintf("transport: %v (HTTP %d)", e.kind, e.status)
}

func (e *pushError) Unwrap() error { return e.kind }

// ParseResponse reads an HTTP response and returns the decoded result or an
// error wrapping one of the sentinel errors.
func ParseResponse(resp *http.Response) (*model.PushResponse, error) {
	defer drainAndClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("transport: reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var result model.PushResponse
		if len(body) == 0 {
			result.Accepted = true
			return &result, nil
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("transport: failed to decode %d response: %w", resp.StatusCode, err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &pushError{kind: ErrUnauthorized, status: resp.StatusCode}

	case resp.StatusCode == http.StatusGone:
		return nil, &pushError{kind: ErrGone, status: resp.StatusCode}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &pushError{kind: ErrRateLimited, status: resp.StatusCode, retryAfter: retryAfterDelay(resp, body)}

	case resp.StatusCode >= 500:
		return nil, &pushError{kind: ErrServer, status: resp.StatusCode}

	default:
		pe := &pushError{kind: ErrRejected, status: resp.StatusCode}
		var errResp model.PushErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			pe.message = errResp.Message
		}
		return nil, pe
	}
}

// retryable reports whether a failed push may succeed on another attempt.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrRejected) && !errors.Is(err, ErrGone)
}

// RetryAfter returns the delay the server asked for, if err carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var pe *pushError
	if errors.As(err, &pe) && pe.retryAfter > 0 {
		return pe.retryAfter, true
	}
	return 0, false
}

// retryDelay returns the wait before the next attempt.
func retryDelay(err error, attempt int) time.Duration {
	if d, ok := RetryAfter(err); ok {
		return d
	}
	return backoff(attempt)
}
