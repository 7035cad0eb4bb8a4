package render

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

const mib = 1024 * 1024

func writeCapability(w io.Writer, r model.Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Found %d device(s).\n", len(r.Devices))
	for _, dr := range r.Devices {
		d := dr.Device
		fmt.Fprintf(bw, "Device: %d\n", d.Index)
		fmt.Fprintf(bw, "  Name: %s\n", d.Name)
		if cc := d.ComputeCapability; cc != nil {
			fmt.Fprintf(bw, "  Compute Capability: %d.%d\n", cc.Major, cc.Minor)
			if d.Architecture != "" {
				fmt.Fprintf(bw, "  Architecture: %s\n", d.Architecture)
			}
		}
		if d.MultiprocessorCount != nil {
			fmt.Fprintf(bw, "  Multiprocessors: %d\n", *d.MultiprocessorCount)
		}
		if d.CoresPerMultiprocessor > 0 {
			fmt.Fprintf(bw, "  Cores per multiprocessor: %d\n", d.CoresPerMultiprocessor)
		}
		if threads, ok := d.ConcurrentThreads(); ok {
			fmt.Fprintf(bw, "  Concurrent threads: %d\n", threads)
		}
		if d.CoreClockMHz != nil {
			fmt.Fprintf(bw, "  GPU clock: %d MHz\n", *d.CoreClockMHz)
		}
		if d.MemoryClockMHz != nil {
			fmt.Fprintf(bw, "  Memory clock: %d MHz\n", *d.MemoryClockMHz)
		}
		fmt.Fprintf(bw, "  Total Memory: %d MiB\n", d.MemoryTotal/mib)
		fmt.Fprintf(bw, "  Free Memory: %d MiB\n", d.MemoryFree/mib)
	}

	return bw.Flush()
}
