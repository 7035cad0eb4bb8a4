package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all reporter configuration values. Command-line flags are
// applied on top of the values loaded from the environment.
type Config struct {
	Format   string // GPUINFO_FORMAT, default: "" (binary-specific)
	LogLevel string // GPUINFO_LOG_LEVEL, default: warn
	ProcRoot string // GPUINFO_PROC_ROOT, default: /proc

	// Prometheus textfile output
	Textfile string // GPUINFO_TEXTFILE, default: "" (disabled)

	// Report push
	PushURL          string
	PushToken        string
	PushTimeout      time.Duration
	PushInterval     time.Duration // GPUINFO_PUSH_INTERVAL, default: 60s, exporter mode only
	MaxRetries       int
	CompressionLevel int
	AllowInsecure    bool // GPUINFO_ALLOW_INSECURE, default: false; allows http:// PushURL

	// Exporter mode
	ListenAddr     string        // GPUINFO_LISTEN_ADDR, default: "" (one-shot)
	ScrapeTimeout  time.Duration // GPUINFO_SCRAPE_TIMEOUT, default: 10s
	DebugEndpoints bool          // GPUINFO_DEBUG_ENDPOINTS, default: false; enables pprof on the listen address
	MemLimitRatio  float64       // GPUINFO_MEMLIMIT_RATIO, default: 0.9
	Labels         []string      // GPUINFO_LABELS, comma-separated key=value pairs sent with pushes
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		Format:           envOrDefault("GPUINFO_FORMAT", ""),
		LogLevel:         envOrDefault("GPUINFO_LOG_LEVEL", "warn"),
		ProcRoot:         envOrDefault("GPUINFO_PROC_ROOT", "/proc"),
		Textfile:         os.Getenv("GPUINFO_TEXTFILE"),
		PushURL:          os.Getenv("GPUINFO_PUSH_URL"),
		PushToken:        os.Getenv("GPUINFO_PUSH_TOKEN"),
		PushTimeout:      parseDuration("GPUINFO_PUSH_TIMEOUT", 30*time.Second),
		PushInterval:     parseDuration("GPUINFO_PUSH_INTERVAL", 60*time.Second),
		MaxRetries:       parseInt("GPUINFO_MAX_RETRIES", 3),
		CompressionLevel: parseInt("GPUINFO_COMPRESSION_LEVEL", 3),
		ListenAddr:       os.Getenv("GPUINFO_LISTEN_ADDR"),
		ScrapeTimeout:    parseDuration("GPUINFO_SCRAPE_TIMEOUT", 10*time.Second),
		MemLimitRatio:    parseFloat("GPUINFO_MEMLIMIT_RATIO", 0.9),
	}

	cfg.AllowInsecure = parseBool("GPUINFO_ALLOW_INSECURE", false)
	cfg.DebugEndpoints = parseBool("GPUINFO_DEBUG_ENDPOINTS", false)
	cfg.Labels = parseStringSlice("GPUINFO_LABELS")

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func parseStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
