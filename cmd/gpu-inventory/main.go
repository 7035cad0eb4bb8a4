// Command gpu-inventory reports the GPUs of this host in any supported format,
// or serves them as Prometheus metrics with --listen.
package main

import (
	"os"

	"github.com/kubeadapt/gpu-inventory/internal/cli"
	"github.com/kubeadapt/gpu-inventory/internal/render"
)

func main() {
	os.Exit(cli.Main("gpu-inventory", render.FormatText))
}
