package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kubeadapt/gpu-inventory/internal/agent"
	"github.com/kubeadapt/gpu-inventory/internal/config"
	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/health"
	"github.com/kubeadapt/gpu-inventory/internal/inventory"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/internal/transport"
	"github.com/kubeadapt/gpu-inventory/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second

	memoryPressureThreshold = 0.8
	memoryPressureInterval  = 30 * time.Second
)

// tuneRuntime sizes GOMAXPROCS and GOMEMLIMIT to the container limits.
func tuneRuntime(ratio float64) func() {
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		slog.Debug("GOMAXPROCS unchanged", "error", err)
	}

	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(ratio),
		memlimit.WithProvider(memlimit.FromCgroup),
	)
	if err != nil {
		slog.Debug("GOMEMLIMIT unchanged", "error", err)
	} else if limit > 0 {
		slog.Debug("GOMEMLIMIT set", "bytes", limit)
	}

	return undo
}

// serve runs the exporter until ctx is canceled or the listener fails.
func serve(ctx context.Context, cfg config.Config, sampler *inventory.Sampler, metrics *observability.Metrics) error {
	undo := tuneRuntime(cfg.MemLimitRatio)
	defer undo()

	srv, err := health.NewServer(cfg.ListenAddr, metrics, sampler, cfg.ScrapeTimeout, cfg.DebugEndpoints)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("gpu inventory exporter started",
		"version", version.String(),
		"addr", srv.Addr(),
		"scrape_timeout", cfg.ScrapeTimeout,
		"debug_endpoints", cfg.DebugEndpoints,
	)

	// Prime readiness before the first scrape.
	primeCtx, cancel := context.WithTimeout(ctx, cfg.ScrapeTimeout)
	if _, err := sampler.Sample(primeCtx); err != nil {
		slog.Warn("initial collection failed", "error", err)
	}
	cancel()

	bgCtx, stopBackground := context.WithCancel(ctx)
	go agent.NewMemoryMonitor(memoryPressureThreshold, memoryPressureInterval, nil).Run(bgCtx)

	pushDone := make(chan struct{})
	if cfg.PushURL != "" {
		client := transport.NewClient(&cfg, metrics, ierrors.NewCollector(ierrors.RealClock{}))
		pusher := agent.NewAgent(cfg.PushInterval, sampler, client, agent.NewStateMachine(ierrors.RealClock{}))
		go func() {
			defer close(pushDone)
			_ = pusher.Run(bgCtx)
		}()
		slog.Info("periodic push enabled", "url", cfg.PushURL, "interval", cfg.PushInterval)
	} else {
		close(pushDone)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr = <-srv.Done():
		slog.Error("exporter stopped unexpectedly", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("exporter shutdown error", "error", err)
	}

	stopBackground()
	<-pushDone
	slog.Info("gpu inventory exporter stopped")
	return serveErr
}
