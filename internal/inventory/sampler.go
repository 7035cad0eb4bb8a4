package inventory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Sampler serializes collections on one Inventory, logs recovered warnings
// once each report is complete and records self metrics.
type Sampler struct {
	inv     *Inventory
	metrics *observability.Metrics

	mu    sync.Mutex
	ready atomic.Bool
}

// NewSampler creates a Sampler. metrics may be nil.
func NewSampler(inv *Inventory, metrics *observability.Metrics) *Sampler {
	return &Sampler{inv: inv, metrics: metrics}
}

// Sample runs one full collection. Concurrent callers wait for each other.
func (s *Sampler) Sample(ctx context.Context) (model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report, err := s.inv.Collect(ctx)
	elapsed := time.Since(start)

	warnings := s.inv.Warnings()
	for _, w := range warnings {
		slog.Warn("process resolution failed",
			"device", w.Device,
			"field", w.Field,
			"error", w.Error(),
		)
	}

	if s.metrics != nil {
		s.metrics.CollectionDuration.Observe(elapsed.Seconds())
		s.metrics.ProcessResolutionFailures.Add(float64(len(warnings)))
	}

	if err != nil {
		s.ready.Store(false)
		if s.metrics != nil {
			code := ierrors.CodeOf(err)
			if code == "" {
				code = "UNKNOWN"
			}
			s.metrics.CollectionsTotal.WithLabelValues("error").Inc()
			s.metrics.CollectionErrorsTotal.WithLabelValues(string(code)).Inc()
		}
		return model.Report{}, err
	}

	s.ready.Store(true)
	if s.metrics != nil {
		s.metrics.CollectionsTotal.WithLabelValues("success").Inc()
		s.metrics.LastSuccessTimestamp.SetToCurrentTime()
	}
	slog.Debug("collection complete",
		"devices", len(report.Devices),
		"duration", elapsed,
	)
	return report, nil
}

// IsReady reports whether the last collection succeeded.
func (s *Sampler) IsReady() bool {
	return s.ready.Load()
}
