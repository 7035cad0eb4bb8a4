package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/kubeadapt/gpu-inventory/internal/config"
	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/internal/version"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Client pushes inventory reports to a collector endpoint over HTTP with
// streaming zstd compression. The JSON document is never buffered in full.
type Client struct {
	httpClient *http.Client
	url        string
	labels     string
	level      zstd.EncoderLevel
	maxRetries int
	metrics    *observability.Metrics
	errors     *ierrors.Collector

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a push Client with middleware applied.
// Retry is handled in Push rather than in a RoundTripper because the
// streaming io.Pipe body must be re-created on each attempt.
func NewClient(cfg *config.Config, metrics *observability.Metrics, errCollector *ierrors.Collector) *Client {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	var rt http.RoundTripper = WithLogging(base)
	if cfg.PushToken != "" {
		rt = WithAuth(cfg.PushToken, rt)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.PushTimeout,
			Transport: rt,
		},
		url:        cfg.PushURL,
		labels:     strings.Join(cfg.Labels, ","),
		level:      zstd.EncoderLevel(cfg.CompressionLevel),
		maxRetries: cfg.MaxRetries,
		metrics:    metrics,
		errors:     errCollector,
		sleep:      sleepContext,
	}
}

// Push streams the JSON form of report to the configured URL.
// Failures are returned as PUSH_FAILED inventory errors.
func (c *Client) Push(ctx context.Context, report model.Report) (*model.PushResponse, error) {
	start := time.Now()
	reportID := uuid.New().String()
	wire := model.ToWire(report)

	var (
		result  *model.PushResponse
		stats   sizes
		lastErr error
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.PushRetries.Inc()
			}
			delay := retryDelay(lastErr, attempt-1)
			slog.Debug("retrying report push", "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = fmt.Errorf("transport: canceled before attempt %d: %w", attempt+1, err)
				break
			}
		}

		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("transport: canceled before attempt %d: %w", attempt+1, err)
			break
		}

		resp, s, err := c.doPush(ctx, reportID, wire)
		stats = s
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}

		result = resp
		lastErr = nil
		break
	}

	c.observe(time.Since(start), stats, lastErr)

	if lastErr != nil {
		ierr := ierrors.New(ierrors.ErrPushFailed, "transport", "report push failed", lastErr)
		if c.errors != nil {
			c.errors.Report(*ierr)
		}
		return nil, ierr
	}

	if result.ReportID == "" {
		result.ReportID = reportID
	}
	return result, nil
}

type sizes struct {
	raw        int64
	compressed int64
}

func (c *Client) observe(elapsed time.Duration, s sizes, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.PushDuration.Observe(elapsed.Seconds())
	if s.compressed > 0 {
		c.metrics.PushSizeBytes.WithLabelValues("compressed").Observe(float64(s.compressed))
		c.metrics.PushSizeBytes.WithLabelValues("uncompressed").Observe(float64(s.raw))
		c.metrics.CompressionRatio.Set(float64(s.raw) / float64(s.compressed))
	}
	if err != nil {
		c.metrics.PushTotal.WithLabelValues("error").Inc()
	} else {
		c.metrics.PushTotal.WithLabelValues("success").Inc()
	}
}

// doPush performs a single HTTP POST with streaming compression.
// Each call creates a fresh io.Pipe so it can be called once per attempt.
func (c *Client) doPush(ctx context.Context, reportID string, wire model.WireReport) (*model.PushResponse, sizes, error) {
	pr, pw := io.Pipe()

	compressed := NewCountingWriter(pw)
	zw, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(c.level))
	if err != nil {
		_ = pw.Close()
		return nil, sizes{}, fmt.Errorf("transport: failed to create zstd encoder: %w", err)
	}
	raw := NewCountingWriter(zw)

	go func() {
		encodeErr := json.NewEncoder(raw).Encode(wire)
		closeErr := zw.Close()
		switch {
		case encodeErr != nil:
			pw.CloseWithError(fmt.Errorf("transport: JSON encode failed: %w", encodeErr))
		case closeErr != nil:
			pw.CloseWithError(fmt.Errorf("transport: zstd close failed: %w", closeErr))
		default:
			_ = pw.Close()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		_ = pr.Close()
		return nil, sizes{}, fmt.Errorf("transport: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("User-Agent", "gpu-inventory/"+version.String())
	req.Header.Set("X-Report-ID", reportID)
	req.Header.Set("X-Host", wire.Host)
	req.Header.Set("X-Reporter-Version", version.String())
	if c.labels != "" {
		req.Header.Set("X-Report-Labels", c.labels)
	}

	resp, err := c.httpClient.Do(req)
	// Unblock the encoder goroutine if the request ended before reading the body.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	s := sizes{raw: raw.Count(), compressed: compressed.Count()}
	if err != nil {
		return nil, s, fmt.Errorf("transport: HTTP request failed: %w", err)
	}

	result, err := ParseResponse(resp)
	if err != nil {
		return nil, s, err
	}
	return result, s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
