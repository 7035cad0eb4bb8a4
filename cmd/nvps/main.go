// Command nvps prints the inventory as the JSON document scrapers consume.
package main

import (
	"os"

	"github.com/kubeadapt/gpu-inventory/internal/cli"
	"github.com/kubeadapt/gpu-inventory/internal/render"
)

func main() {
	os.Exit(cli.Main("nvps", render.FormatJSON))
}
