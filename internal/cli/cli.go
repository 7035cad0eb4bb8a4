// Package cli implements the command-line entry points shared by the
// gpu-inventory binaries: flag parsing over the environment configuration,
// one-shot reporting and the long-running exporter mode.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kubeadapt/gpu-inventory/internal/config"
	"github.com/kubeadapt/gpu-inventory/internal/inventory"
	"github.com/kubeadapt/gpu-inventory/internal/nvml"
	"github.com/kubeadapt/gpu-inventory/internal/observability"
	"github.com/kubeadapt/gpu-inventory/internal/render"
	"github.com/kubeadapt/gpu-inventory/internal/transport"
	"github.com/kubeadapt/gpu-inventory/internal/version"
)

// App describes one binary.
type App struct {
	Name          string
	DefaultFormat render.Format

	Stdout io.Writer
	Stderr io.Writer

	// NewLibrary opens the management library; nil means nvml.New.
	NewLibrary func() nvml.Library
	// Hostname overrides os.Hostname when set.
	Hostname func() (string, error)
}

// Main runs app with the process arguments and returns the exit code.
func Main(name string, defaultFormat render.Format) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := App{
		Name:          name,
		DefaultFormat: defaultFormat,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}
	err := app.Run(ctx, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	}
	return ExitCode(err)
}

type flags struct {
	format   string
	logLevel string
	procRoot string
	textfile string
	pushURL  string
	listen   string
	version  bool
}

func (a App) newFlagSet(f *flags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(a.Name, pflag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	fs.StringVarP(&f.format, "format", "f", "", fmt.Sprintf("output format %v (default %q, env GPUINFO_FORMAT)", render.Formats(), a.DefaultFormat))
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error (env GPUINFO_LOG_LEVEL)")
	fs.StringVar(&f.procRoot, "proc-root", "", "process table mount point (env GPUINFO_PROC_ROOT)")
	fs.StringVar(&f.textfile, "textfile", "", "also write a node-exporter textfile to this path (env GPUINFO_TEXTFILE)")
	fs.StringVar(&f.pushURL, "push-url", "", "also POST the JSON report to this URL (env GPUINFO_PUSH_URL)")
	fs.StringVar(&f.listen, "listen", "", "serve /metrics and /report on this address instead of exiting (env GPUINFO_LISTEN_ADDR)")
	fs.BoolVar(&f.version, "version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(a.Stderr, "Usage: %s [flags]\n\nReports the GPUs of this host, their memory and compute processes.\n\nFlags:\n", a.Name)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig layers flags over the environment and validates the result.
func (a App) loadConfig(args []string) (config.Config, bool, error) {
	var f flags
	fs := a.newFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return config.Config{}, true, nil
		}
		return config.Config{}, false, &UsageError{Err: err}
	}
	if fs.NArg() > 0 {
		return config.Config{}, false, Usage("unexpected argument: %s", fs.Arg(0))
	}
	if f.version {
		fmt.Fprintf(a.Stdout, "%s %s\n", a.Name, version.String())
		return config.Config{}, true, nil
	}

	cfg := config.Load()
	overrides := []struct {
		name string
		dst  *string
		val  string
	}{
		{"format", &cfg.Format, f.format},
		{"log-level", &cfg.LogLevel, f.logLevel},
		{"proc-root", &cfg.ProcRoot, f.procRoot},
		{"textfile", &cfg.Textfile, f.textfile},
		{"push-url", &cfg.PushURL, f.pushURL},
		{"listen", &cfg.ListenAddr, f.listen},
	}
	for _, o := range overrides {
		if fs.Changed(o.name) {
			*o.dst = o.val
		}
	}
	if cfg.Format == "" {
		cfg.Format = string(a.DefaultFormat)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, &UsageError{Err: err}
	}
	return cfg, false, nil
}

// Run executes one invocation. Reports go to Stdout; logs and errors to Stderr.
func (a App) Run(ctx context.Context, args []string) error {
	cfg, done, err := a.loadConfig(args)
	if err != nil || done {
		return err
	}

	slog.SetDefault(newLogger(a.Stderr, cfg.LogLevel))

	newLibrary := a.NewLibrary
	if newLibrary == nil {
		newLibrary = nvml.New
	}
	opts := []inventory.Option{inventory.WithOwnerResolver(inventory.NewOwnerResolver(cfg.ProcRoot))}
	if a.Hostname != nil {
		opts = append(opts, inventory.WithHostname(a.Hostname))
	}

	metrics := observability.NewMetrics()
	sampler := inventory.NewSampler(inventory.New(newLibrary(), opts...), metrics)

	if cfg.ListenAddr != "" {
		return serve(ctx, cfg, sampler, metrics)
	}
	return a.once(ctx, cfg, sampler, metrics)
}

// once collects a single report and writes it to every configured sink.
// Nothing is written to Stdout when collection or rendering fails.
func (a App) once(ctx context.Context, cfg config.Config, sampler *inventory.Sampler, metrics *observability.Metrics) error {
	report, err := sampler.Sample(ctx)
	if err != nil {
		return err
	}

	format, _ := render.ParseFormat(cfg.Format)
	out, err := render.Render(format, report, render.Options{Metrics: metrics})
	if err != nil {
		return err
	}
	if _, err := a.Stdout.Write(out); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if cfg.Textfile != "" {
		g, err := render.Gatherer(report, metrics)
		if err != nil {
			return err
		}
		if err := observability.WriteTextfile(cfg.Textfile, g); err != nil {
			return err
		}
		slog.Debug("textfile written", "path", cfg.Textfile)
	}

	if cfg.PushURL != "" {
		resp, err := transport.NewClient(&cfg, metrics, nil).Push(ctx, report)
		if err != nil {
			return err
		}
		slog.Info("report pushed", "url", cfg.PushURL, "report_id", resp.ReportID, "message", resp.Message)
	}

	return nil
}
