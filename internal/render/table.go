package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func styleRows(row, _ int) lipgloss.Style {
	if row == table.HeaderRow {
		return headerStyle
	}
	return cellStyle
}

func writeTable(w io.Writer, r model.Report) error {
	if _, err := fmt.Fprintf(w, "Host: %s  Driver: %s  CUDA: %s  NVML: %s\n",
		r.Host, r.DriverVersion, r.CUDAVersion, r.NVMLVersion); err != nil {
		return err
	}

	devices := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styleRows).
		Headers("GPU", "NAME", "ARCH", "CC", "SMS", "MEMORY USED", "MEMORY TOTAL", "PROCS")

	var procRows [][]string
	for _, dr := range r.Devices {
		d := dr.Device
		cc, sms := "-", "-"
		if d.ComputeCapability != nil {
			cc = fmt.Sprintf("%d.%d", d.ComputeCapability.Major, d.ComputeCapability.Minor)
		}
		if d.MultiprocessorCount != nil {
			sms = strconv.Itoa(*d.MultiprocessorCount)
		}
		devices.Row(
			strconv.Itoa(d.Index),
			d.Name,
			orDash(d.Architecture),
			cc,
			sms,
			humanize.IBytes(d.MemoryUsed),
			humanize.IBytes(d.MemoryTotal),
			humanize.Comma(int64(len(dr.Processes))),
		)

		for _, p := range dr.Processes {
			procRows = append(procRows, []string{
				strconv.Itoa(p.DeviceIndex),
				strconv.FormatUint(uint64(p.PID), 10),
				strconv.FormatInt(p.UIDOrUnknown(), 10),
				p.Username,
				p.Name,
				humanize.IBytes(p.UsedMemoryBytes),
			})
		}
	}

	if _, err := fmt.Fprintln(w, devices.String()); err != nil {
		return err
	}
	if len(procRows) == 0 {
		return nil
	}

	procs := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styleRows).
		Headers("GPU", "PID", "UID", "USER", "PROCESS", "MEMORY").
		Rows(procRows...)
	_, err := fmt.Fprintln(w, procs.String())
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
