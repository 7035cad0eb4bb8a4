package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kubeadapt/gpu-inventory/internal/config"
	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

func testReport() model.Report {
	uid := uint32(1000)
	return model.Report{
		Host:          "gpu-node-1",
		DriverVersion: "535.104.05",
		CUDAVersion:   "12.2",
		NVMLVersion:   "12.535.104.05",
		Devices: []model.DeviceReport{
			{
				Device: model.Device{Index: 0, Name: "Tesla V100-SXM2-16GB", MemoryTotal: 17179869184, MemoryUsed: 1048576},
				Processes: []model.ProcessUsage{
					{DeviceIndex: 0, PID: 4242, UID: &uid, Username: "alice", Name: "python3"},
				},
			},
		},
	}
}

func testConfig(serverURL string) *config.Config {
	return &config.Config{
		PushURL:          serverURL,
		PushToken:        "test-token-abc",
		PushTimeout:      10 * time.Second,
		MaxRetries:       0,
		CompressionLevel: 2,
		AllowInsecure:    true,
		Labels:           []string{"rack=a1", "zone=west"},
	}
}

// newTestClient returns a client that does not sleep between attempts.
func newTestClient(cfg *config.Config, m *observability.Metrics, c *ierrors.Collector) *Client {
	client := NewClient(cfg, m, c)
	client.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return client
}

func decodeBody(t *testing.T, body []byte) model.WireReport {
	t.Helper()
	decoder, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("body is not valid zstd: %v", err)
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("failed to decompress body: %v", err)
	}
	var wire model.WireReport
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	return wire
}

func TestClient_Push_StreamingCompression(t *testing.T) {
	var (
		mu       sync.Mutex
		body     []byte
		header   http.Header
		method   string
		encoding string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, header, method, encoding = b, r.Header.Clone(), r.Method, r.Header.Get("Content-Encoding")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.PushResponse{Accepted: true, Message: "stored"})
	}))
	defer srv.Close()

	metrics := observability.NewMetrics()
	client := newTestClient(testConfig(srv.URL), metrics, nil)

	result, err := client.Push(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if !result.Accepted || result.Message != "stored" {
		t.Fatalf("unexpected result: %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()

	if method != http.MethodPost {
		t.Fatalf("expected POST, got %s", method)
	}
	if encoding != "zstd" {
		t.Fatalf("expected Content-Encoding zstd, got %q", encoding)
	}
	if got := header.Get("Authorization"); got != "Bearer test-token-abc" {
		t.Fatalf("unexpected Authorization header %q", got)
	}
	if got := header.Get("X-Host"); got != "gpu-node-1" {
		t.Fatalf("unexpected X-Host %q", got)
	}
	if got := header.Get("X-Report-Labels"); got != "rack=a1,zone=west" {
		t.Fatalf("unexpected X-Report-Labels %q", got)
	}
	if _, err := uuid.Parse(header.Get("X-Report-ID")); err != nil {
		t.Fatalf("X-Report-ID is not a uuid: %v", err)
	}
	if result.ReportID != header.Get("X-Report-ID") {
		t.Fatalf("result should carry the sent report id, got %q", result.ReportID)
	}

	wire := decodeBody(t, body)
	if wire.Host != "gpu-node-1" || wire.DriverVersion != "535.104.05" {
		t.Fatalf("unexpected header fields: %+v", wire)
	}
	if len(wire.GPU) != 1 || len(wire.GPU[0].PIDS) != 1 {
		t.Fatalf("unexpected GPU list: %+v", wire.GPU)
	}
	if wire.GPU[0].PIDS[0] != (model.ProcessTuple{DeviceIndex: 0, UID: 1000, Username: "alice", Name: "python3"}) {
		t.Fatalf("unexpected tuple: %+v", wire.GPU[0].PIDS[0])
	}

	if got := testutil.ToFloat64(metrics.PushTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 successful push, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CompressionRatio); got <= 0 {
		t.Fatalf("expected a positive compression ratio, got %v", got)
	}
}

func TestClient_Push_NoTokenNoAuthHeader(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PushToken = ""
	cfg.Labels = nil

	if _, err := newTestClient(cfg, nil, nil).Push(context.Background(), testReport()); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if got := auth.Load().(string); got != "" {
		t.Fatalf("expected no Authorization header, got %q", got)
	}
}

func TestClient_Push_RetryCreatesFreshPipe(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	var bodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		mu.Unlock()

		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(model.PushResponse{Accepted: true})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3
	metrics := observability.NewMetrics()

	result, err := newTestClient(cfg, metrics, nil).Push(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Push failed after retries: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected Accepted=true after retries")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.PushRetries); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, b := range bodies {
		if len(b) == 0 {
			t.Fatalf("attempt %d received empty body", i+1)
		}
		decodeBody(t, b)
	}
}

func TestClient_Push_5xx_RetriedThenFails(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	metrics := observability.NewMetrics()
	collector := ierrors.NewCollector(ierrors.RealClock{})

	_, err := newTestClient(cfg, metrics, collector).Push(context.Background(), testReport())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ierrors.CodeOf(err) != ierrors.ErrPushFailed {
		t.Fatalf("expected PUSH_FAILED, got %q", ierrors.CodeOf(err))
	}
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected wrapped ErrServer, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
	if got := testutil.ToFloat64(metrics.PushTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed push, got %v", got)
	}
	if got := collector.Counts()[ierrors.ErrPushFailed]; got != 1 {
		t.Fatalf("expected 1 collected push failure, got %d", got)
	}
}

func TestClient_Push_AuthFailureNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3

	_, err := newTestClient(cfg, nil, nil).Push(context.Background(), testReport())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
}

func TestClient_Push_RetryHonoursRetryAfter(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 1
	client := NewClient(cfg, nil, nil)

	var slept []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := client.Push(context.Background(), testReport()); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("expected one 3s wait, got %v", slept)
	}
}

func TestClient_Push_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newTestClient(cfg, nil, nil).Push(ctx, testReport())
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestClient_Push_CanceledBeforeFirstAttempt(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(testConfig(srv.URL), nil, nil).Push(ctx, testReport())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 0 {
		t.Fatalf("expected no attempts, got %d", got)
	}
}
