// Command nvidia-info prints the host, driver versions and per-device memory
// and process listing in the classic text layout.
package main

import (
	"os"

	"github.com/kubeadapt/gpu-inventory/internal/cli"
	"github.com/kubeadapt/gpu-inventory/internal/render"
)

func main() {
	os.Exit(cli.Main("nvidia-info", render.FormatText))
}
