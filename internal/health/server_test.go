package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// --- Mock implementations ---

type mockSource struct {
	ready   bool
	report  model.Report
	err     error
	samples atomic.Int32
}

func (m *mockSource) Sample(ctx context.Context) (model.Report, error) {
	m.samples.Add(1)
	if m.err != nil {
		return model.Report{}, m.err
	}
	return m.report, nil
}

func (m *mockSource) IsReady() bool { return m.ready }

func testReport() model.Report {
	return model.Report{
		Host:          "gpu-node-1",
		DriverVersion: "535.104.05",
		CUDAVersion:   "12.2",
		NVMLVersion:   "12.535.104.05",
		Devices: []model.DeviceReport{
			{Device: model.Device{Index: 0, Name: "Tesla T4", UUID: "GPU-t4", MemoryTotal: 16106127360, MemoryUsed: 4096}},
		},
	}
}

func newTestServer(t *testing.T, src *mockSource, debug bool) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", observability.NewMetrics(), src, 5*time.Second, debug)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func serve(srv *Server, path string) *http.Response {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w.Result()
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	resp := serve(newTestServer(t, &mockSource{}, false), "/healthz")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result["status"] != "ok" {
		t.Fatalf("expected status=ok, got %s", result["status"])
	}
}

func TestReadyz(t *testing.T) {
	for _, ready := range []bool{true, false} {
		resp := serve(newTestServer(t, &mockSource{ready: ready}, false), "/readyz")

		want := http.StatusOK
		if !ready {
			want = http.StatusServiceUnavailable
		}
		if resp.StatusCode != want {
			t.Fatalf("ready=%v: expected %d, got %d", ready, want, resp.StatusCode)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var result map[string]bool
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if result["ready"] != ready {
			t.Fatalf("expected ready=%v, got %v", ready, result["ready"])
		}
	}
}

func TestMetrics_FreshCollectionPerScrape(t *testing.T) {
	src := &mockSource{ready: true, report: testReport()}
	srv := newTestServer(t, src, false)

	for i := 0; i < 2; i++ {
		resp := serve(srv, "/metrics")
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(string(body), `gpuinfo_device_memory_used_bytes{device="0",uuid="GPU-t4"} 4096`) {
			t.Fatalf("expected device memory metric, got:\n%s", body)
		}
		if !strings.Contains(string(body), "gpuinfo_collection_duration_seconds") {
			t.Fatal("expected self metrics alongside the inventory")
		}
	}

	if got := src.samples.Load(); got != 2 {
		t.Fatalf("expected one collection per scrape (2), got %d", got)
	}
}

func TestMetrics_CollectionFailureStillServesSelfMetrics(t *testing.T) {
	src := &mockSource{err: errors.New("nvml init failed")}
	resp := serve(newTestServer(t, src, false), "/metrics")
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "gpuinfo_device_info") {
		t.Fatal("no device metrics expected when collection fails")
	}
	if !strings.Contains(string(body), "gpuinfo_collection_duration_seconds") {
		t.Fatal("expected self metrics")
	}
}

func TestReport_JSON(t *testing.T) {
	resp := serve(newTestServer(t, &mockSource{report: testReport()}, false), "/report")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected Content-Type %q", ct)
	}

	var wire model.WireReport
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if wire.Host != "gpu-node-1" || len(wire.GPU) != 1 || wire.GPU[0].DeviceName != "Tesla T4" {
		t.Fatalf("unexpected report: %+v", wire)
	}
}

func TestReport_TextFormat(t *testing.T) {
	resp := serve(newTestServer(t, &mockSource{report: testReport()}, false), "/report?format=text")
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "  Driver_Version: 535.104.05,\n") {
		t.Fatalf("unexpected text report:\n%s", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected Content-Type %q", ct)
	}
}

func TestReport_UnknownFormat(t *testing.T) {
	resp := serve(newTestServer(t, &mockSource{report: testReport()}, false), "/report?format=xml")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReport_CollectionFailure(t *testing.T) {
	resp := serve(newTestServer(t, &mockSource{err: errors.New("boom")}, false), "/report")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestDebugEndpoints(t *testing.T) {
	enabled := serve(newTestServer(t, &mockSource{}, true), "/debug/pprof/")
	enabled.Body.Close()
	if enabled.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for pprof index when enabled, got %d", enabled.StatusCode)
	}

	disabled := serve(newTestServer(t, &mockSource{}, false), "/debug/pprof/")
	disabled.Body.Close()
	if disabled.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for pprof index when disabled, got %d", disabled.StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t, &mockSource{ready: true}, false)

	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to reach server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	select {
	case err := <-srv.Done():
		if err != nil {
			t.Fatalf("expected nil serve error after Stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not report completion")
	}
}
