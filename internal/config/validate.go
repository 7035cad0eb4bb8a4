package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kubeadapt/gpu-inventory/internal/render"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if _, err := render.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("config: GPUINFO_FORMAT: %w", err)
	}

	if !contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("config: GPUINFO_LOG_LEVEL must be one of %s, got %q", strings.Join(logLevels, ", "), c.LogLevel)
	}

	if c.ProcRoot == "" {
		return fmt.Errorf("config: GPUINFO_PROC_ROOT is required")
	}

	if c.PushURL != "" && !c.AllowInsecure && !strings.HasPrefix(c.PushURL, "https://") {
		return fmt.Errorf("config: GPUINFO_PUSH_URL must use https:// (got %q); set GPUINFO_ALLOW_INSECURE=true to override", c.PushURL)
	}

	if c.PushTimeout < time.Second {
		return fmt.Errorf("config: PushTimeout must be >= 1s, got %v", c.PushTimeout)
	}

	if c.PushInterval < time.Second {
		return fmt.Errorf("config: PushInterval must be >= 1s, got %v", c.PushInterval)
	}

	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("config: CompressionLevel must be 1-4, got %d", c.CompressionLevel)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			return fmt.Errorf("config: GPUINFO_LISTEN_ADDR must be host:port, got %q", c.ListenAddr)
		}
	}

	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("config: ScrapeTimeout must be > 0, got %v", c.ScrapeTimeout)
	}

	if c.MemLimitRatio <= 0 || c.MemLimitRatio > 1 {
		return fmt.Errorf("config: MemLimitRatio must be in (0, 1], got %v", c.MemLimitRatio)
	}

	for _, l := range c.Labels {
		if k, _, ok := strings.Cut(l, "="); !ok || k == "" {
			return fmt.Errorf("config: GPUINFO_LABELS entry %q must be key=value", l)
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
