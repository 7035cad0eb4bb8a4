package agent

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"time"
)

// MemoryMonitor releases heap back to the OS when the process nears its
// GOMEMLIMIT.
type MemoryMonitor struct {
	threshold float64
	interval  time.Duration
	release   func()

	readStats func(*runtime.MemStats)
	limit     func() int64
}

// NewMemoryMonitor creates a monitor that calls release whenever
// (Sys - HeapReleased) exceeds threshold * GOMEMLIMIT. A nil release defaults
// to debug.FreeOSMemory.
func NewMemoryMonitor(threshold float64, interval time.Duration, release func()) *MemoryMonitor {
	if release == nil {
		release = debug.FreeOSMemory
	}
	return &MemoryMonitor{
		threshold: threshold,
		interval:  interval,
		release:   release,
		readStats: runtime.ReadMemStats,
		limit:     func() int64 { return debug.SetMemoryLimit(-1) },
	}
}

// Run polls until ctx is canceled.
func (m *MemoryMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ratio, over := m.usage(); over {
				slog.Warn("memory pressure detected, releasing memory",
					"usage_ratio", ratio,
					"threshold", m.threshold,
				)
				m.release()
			}
		}
	}
}

// usage returns the share of GOMEMLIMIT in use and whether it is above the
// threshold. Without a limit the monitor never fires.
func (m *MemoryMonitor) usage() (float64, bool) {
	limit := m.limit()
	if limit <= 0 || limit == math.MaxInt64 {
		return 0, false
	}

	var stats runtime.MemStats
	m.readStats(&stats)

	ratio := float64(stats.Sys-stats.HeapReleased) / float64(limit)
	return ratio, ratio > m.threshold
}
