package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// ReportFunc produces the report to expose. It is called once per scrape.
type ReportFunc func(ctx context.Context) (model.Report, error)

// ReportCollector exposes an inventory report as Prometheus metrics. It holds
// no samples between scrapes.
type ReportCollector struct {
	source  ReportFunc
	timeout time.Duration

	hostInfo        *prometheus.Desc
	deviceInfo      *prometheus.Desc
	memoryTotal     *prometheus.Desc
	memoryUsed      *prometheus.Desc
	memoryFree      *prometheus.Desc
	computeProcs    *prometheus.Desc
	coresPerMP      *prometheus.Desc
	processMemory   *prometheus.Desc
	collectionError *prometheus.Desc
}

// NewReportCollector creates a ReportCollector over source. A zero timeout
// means the scrape context is not bounded further.
func NewReportCollector(source ReportFunc, timeout time.Duration) *ReportCollector {
	device := []string{"device", "uuid"}
	return &ReportCollector{
		source:  source,
		timeout: timeout,

		hostInfo: prometheus.NewDesc("gpuinfo_host_info",
			"Host, driver, CUDA and NVML library versions.",
			[]string{"host", "driver_version", "cuda_version", "nvml_version"}, nil),
		deviceInfo: prometheus.NewDesc("gpuinfo_device_info",
			"Static identity and capability of a device.",
			[]string{"device", "uuid", "name", "serial", "pci_bus_id", "compute_capability", "architecture"}, nil),
		memoryTotal: prometheus.NewDesc("gpuinfo_device_memory_total_bytes",
			"Total frame buffer memory of a device in bytes.", device, nil),
		memoryUsed: prometheus.NewDesc("gpuinfo_device_memory_used_bytes",
			"Used frame buffer memory of a device in bytes.", device, nil),
		memoryFree: prometheus.NewDesc("gpuinfo_device_memory_free_bytes",
			"Free frame buffer memory of a device in bytes.", device, nil),
		computeProcs: prometheus.NewDesc("gpuinfo_device_compute_processes",
			"Number of compute processes running on a device.", device, nil),
		coresPerMP: prometheus.NewDesc("gpuinfo_device_cores_per_multiprocessor",
			"CUDA cores per multiprocessor derived from the compute capability.", device, nil),
		processMemory: prometheus.NewDesc("gpuinfo_process_used_memory_bytes",
			"Device memory used by a compute process in bytes.",
			[]string{"device", "pid", "uid", "user", "process"}, nil),
		collectionError: prometheus.NewDesc("gpuinfo_collection_error",
			"Inventory collection failed during this scrape.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ReportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostInfo
	ch <- c.deviceInfo
	ch <- c.memoryTotal
	ch <- c.memoryUsed
	ch <- c.memoryFree
	ch <- c.computeProcs
	ch <- c.coresPerMP
	ch <- c.processMemory
	ch <- c.collectionError
}

// Collect implements prometheus.Collector.
func (c *ReportCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	report, err := c.source(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.collectionError, err)
		return
	}

	ch <- gauge(c.hostInfo, 1, report.Host, report.DriverVersion, report.CUDAVersion, report.NVMLVersion)

	for _, dr := range report.Devices {
		d := dr.Device
		idx := strconv.Itoa(d.Index)

		cc, arch := "", ""
		if d.ComputeCapability != nil {
			cc = strconv.Itoa(d.ComputeCapability.Major) + "." + strconv.Itoa(d.ComputeCapability.Minor)
			arch = d.Architecture
		}
		ch <- gauge(c.deviceInfo, 1, idx, d.UUID, d.Name, d.Serial, d.PCIBusID, cc, arch)

		ch <- gauge(c.memoryTotal, float64(d.MemoryTotal), idx, d.UUID)
		ch <- gauge(c.memoryUsed, float64(d.MemoryUsed), idx, d.UUID)
		ch <- gauge(c.memoryFree, float64(d.MemoryFree), idx, d.UUID)
		ch <- gauge(c.computeProcs, float64(len(dr.Processes)), idx, d.UUID)
		if d.CoresPerMultiprocessor > 0 {
			ch <- gauge(c.coresPerMP, float64(d.CoresPerMultiprocessor), idx, d.UUID)
		}

		for _, p := range perPID(dr.Processes) {
			ch <- gauge(c.processMemory, float64(p.UsedMemoryBytes),
				idx,
				strconv.FormatUint(uint64(p.PID), 10),
				strconv.FormatInt(p.UIDOrUnknown(), 10),
				p.Username,
				p.Name,
			)
		}
	}
}

// gauge builds a const gauge. Label values come from the driver and /proc and
// may hold arbitrary bytes, so invalid UTF-8 is replaced before validation.
func gauge(desc *prometheus.Desc, value float64, labels ...string) prometheus.Metric {
	for i, l := range labels {
		labels[i] = strings.ToValidUTF8(l, "\uFFFD")
	}
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return m
}

// perPID merges entries that share a pid, as MIG devices list a process once
// per compute instance. Memory is summed; first-seen order is kept.
func perPID(procs []model.ProcessUsage) []model.ProcessUsage {
	out := make([]model.ProcessUsage, 0, len(procs))
	seen := make(map[uint32]int, len(procs))
	for _, p := range procs {
		if i, ok := seen[p.PID]; ok {
			out[i].UsedMemoryBytes += p.UsedMemoryBytes
			continue
		}
		seen[p.PID] = len(out)
		out = append(out, p)
	}
	return out
}
