// Package version holds build metadata injected with -ldflags.
package version

import "runtime/debug"

// Version is set at build time with
// -ldflags "-X github.com/kubeadapt/gpu-inventory/internal/version.Version=v1.2.3".
var Version = ""

// String returns Version, falling back to the main module version recorded
// by the Go toolchain, or "dev".
func String() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
