// Command cuda-check prints the compute capability summary of every device.
package main

import (
	"os"

	"github.com/kubeadapt/gpu-inventory/internal/cli"
	"github.com/kubeadapt/gpu-inventory/internal/render"
)

func main() {
	os.Exit(cli.Main("cuda-check", render.FormatCapability))
}
