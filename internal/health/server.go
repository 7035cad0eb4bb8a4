package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/internal/render"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// ReportSource collects a fresh report on demand and remembers whether the
// last collection succeeded.
type ReportSource interface {
	Sample(ctx context.Context) (model.Report, error)
	IsReady() bool
}

// Server exposes health, readiness, metrics, report and debug endpoints.
type Server struct {
	httpServer    *http.Server
	metrics       *observability.Metrics
	source        ReportSource
	scrapeTimeout time.Duration
	listener      net.Listener
	done          chan error
}

// NewServer creates a server for addr ("host:port"; port 0 lets the OS pick).
// Every /metrics scrape and /report request runs a new collection bounded by
// scrapeTimeout. When enableDebug is true, pprof handlers are registered.
func NewServer(addr string, metrics *observability.Metrics, source ReportSource, scrapeTimeout time.Duration, enableDebug bool) (*Server, error) {
	s := &Server{
		metrics:       metrics,
		source:        source,
		scrapeTimeout: scrapeTimeout,
		done:          make(chan error, 1),
	}

	inventory := prometheus.NewRegistry()
	if err := inventory.Register(observability.NewReportCollector(source.Sample, scrapeTimeout)); err != nil {
		return nil, fmt.Errorf("health server: registering report collector: %w", err)
	}
	gatherers := prometheus.Gatherers{inventory}
	if metrics != nil {
		gatherers = append(gatherers, metrics.Registry)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/report", s.handleReport)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	if enableDebug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      scrapeTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Addr returns the listen address; after Start it is the bound address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Done yields the serve error, or nil after a graceful Stop.
func (s *Server) Done() <-chan error {
	return s.done
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ready := s.source.IsReady()
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}

var contentTypes = map[render.Format]string{
	render.FormatJSON:       "application/json",
	render.FormatYAML:       "application/yaml",
	render.FormatPrometheus: "text/plain; version=0.0.4; charset=utf-8",
}

// handleReport serves a fresh report, JSON unless ?format= names another one.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := render.FormatJSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := render.ParseFormat(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.scrapeTimeout)
	defer cancel()

	report, err := s.source.Sample(ctx)
	if err != nil {
		slog.Warn("report request failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	out, err := render.Render(format, report, render.Options{Metrics: s.metrics})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ct, ok := contentTypes[format]
	if !ok {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
