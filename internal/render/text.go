package render

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

const notAvailable = "NA"

func writeText(w io.Writer, r model.Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "  Driver_Version: %s,\n", r.DriverVersion)
	fmt.Fprintf(bw, "  CUDA_Version: %s\n", r.CUDAVersion)
	fmt.Fprintf(bw, "  NVML_library_version: %s\n", r.NVMLVersion)

	for _, dr := range r.Devices {
		d := dr.Device
		fmt.Fprintf(bw, "  GPU: %d\n", d.Index)
		fmt.Fprintf(bw, "   Device ID: %s\n", orNA(d.PCIBusID))
		fmt.Fprintf(bw, "   Device Name: %s\n", d.Name)
		fmt.Fprintf(bw, "   Serial: %s\n", orNA(d.Serial))
		fmt.Fprintf(bw, "   Memory_Total: %16d (%s)\n", d.MemoryTotal, FormatBytes(d.MemoryTotal))
		fmt.Fprintf(bw, "   Memory_used:  %16d (%s)\n", d.MemoryUsed, FormatBytes(d.MemoryUsed))

		if len(dr.Processes) == 0 {
			continue
		}
		fmt.Fprintf(bw, "   PIDS: [\n")
		for i, p := range dr.Processes {
			sep := ","
			if i == len(dr.Processes)-1 {
				sep = ""
			}
			fmt.Fprintf(bw, "        [%2d, %d, \"%s\", \"%s\"]%s\n",
				p.DeviceIndex, p.UIDOrUnknown(), p.Username, p.Name, sep)
		}
		fmt.Fprintf(bw, "   ]\n")
	}

	return bw.Flush()
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
