package inventory

import (
	"context"
	"errors"
	"log/slog"
	"os"

	ierrors "github.com/kubeadapt/gpu-inventory/internal/errors"
	"github.com/kubeadapt/gpu-inventory/internal/nvml"
	"github.com/kubeadapt/gpu-inventory/pkg/model"
)

// Inventory queries the management library and the process table to build a
// Report for this host. It is not safe for concurrent use; see Sampler.
type Inventory struct {
	lib      nvml.Library
	owners   *OwnerResolver
	hostname func() (string, error)
	warnings *ierrors.Collector
}

// Option configures an Inventory.
type Option func(*Inventory)

// WithOwnerResolver overrides the process owner resolver.
func WithOwnerResolver(r *OwnerResolver) Option {
	return func(inv *Inventory) { inv.owners = r }
}

// WithHostname overrides the host name lookup.
func WithHostname(fn func() (string, error)) Option {
	return func(inv *Inventory) { inv.hostname = fn }
}

// WithWarnings sets the collector that receives recovered errors.
func WithWarnings(c *ierrors.Collector) Option {
	return func(inv *Inventory) { inv.warnings = c }
}

// New creates an Inventory over lib.
func New(lib nvml.Library, opts ...Option) *Inventory {
	inv := &Inventory{
		lib:      lib,
		owners:   NewOwnerResolver(DefaultProcRoot),
		hostname: os.Hostname,
		warnings: ierrors.NewCollector(ierrors.RealClock{}),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Warnings returns the errors recovered during the last Collect.
func (inv *Inventory) Warnings() []ierrors.InventoryError {
	return inv.warnings.Errors()
}

// Collect initializes the library, reads every device in index order and
// shuts the library down again. The first fatal error aborts the collection
// and no partial report is returned.
func (inv *Inventory) Collect(ctx context.Context) (model.Report, error) {
	inv.warnings.Clear()

	if err := inv.lib.Init(); err != nil {
		return model.Report{}, ierrors.InitError("unable to initialize NVML", err)
	}
	defer func() {
		if err := inv.lib.Shutdown(); err != nil {
			slog.Warn("unable to shut down NVML", "error", nvml.ErrorString(err))
		}
	}()

	report, err := inv.header()
	if err != nil {
		return model.Report{}, err
	}

	count, err := inv.CountDevices(ctx)
	if err != nil {
		return model.Report{}, err
	}
	slog.Debug("enumerated devices", "count", count)

	report.Devices = make([]model.DeviceReport, 0, count)
	for i := 0; i < count; i++ {
		dev, h, err := inv.device(ctx, i)
		if err != nil {
			return model.Report{}, err
		}
		mem, procs, err := inv.ReadMemoryAndProcesses(ctx, i, h)
		if err != nil {
			return model.Report{}, err
		}
		dev.MemoryTotal = mem.Total
		dev.MemoryUsed = mem.Used
		dev.MemoryFree = mem.Free

		report.Devices = append(report.Devices, model.DeviceReport{Device: dev, Processes: procs})
	}

	return report, nil
}

func (inv *Inventory) header() (model.Report, error) {
	host, err := inv.hostname()
	if err != nil {
		return model.Report{}, ierrors.New(ierrors.ErrHostLookupFailed, "host", "unable to get host name", err)
	}
	driver, err := inv.lib.DriverVersion()
	if err != nil {
		return model.Report{}, ierrors.InitError("unable to get driver version", err)
	}
	cuda, err := inv.lib.CUDADriverVersion()
	if err != nil {
		return model.Report{}, ierrors.InitError("unable to get CUDA driver version", err)
	}
	nvmlVersion, err := inv.lib.NVMLVersion()
	if err != nil {
		return model.Report{}, ierrors.InitError("unable to get NVML version", err)
	}
	return model.Report{
		Host:          host,
		DriverVersion: driver,
		CUDAVersion:   nvml.CUDAVersionString(cuda),
		NVMLVersion:   nvmlVersion,
	}, nil
}

// CountDevices returns the number of devices visible to the library. Zero is
// a valid count. Like ReadDevice and ReadMemoryAndProcesses it expects the
// library to be initialized; Collect does that around a full run.
func (inv *Inventory) CountDevices(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := inv.lib.DeviceCount()
	if err != nil {
		return 0, ierrors.InitError("unable to get device count", err)
	}
	return n, nil
}

// ReadDevice acquires the handle of the device at index and reads its
// identity and static capability. Only the handle and the name are required.
// The library must be initialized.
func (inv *Inventory) ReadDevice(ctx context.Context, index int) (model.Device, error) {
	dev, _, err := inv.device(ctx, index)
	return dev, err
}

// device reads the device at index and returns its handle for the memory and
// process queries that follow.
func (inv *Inventory) device(ctx context.Context, index int) (model.Device, nvml.Device, error) {
	if err := ctx.Err(); err != nil {
		return model.Device{}, nil, err
	}
	h, err := inv.lib.DeviceByIndex(index)
	if err != nil {
		return model.Device{}, nil, ierrors.DeviceQueryError(index, "handle", err)
	}
	dev, err := inv.readDevice(index, h)
	if err != nil {
		return model.Device{}, nil, err
	}
	return dev, h, nil
}

func (inv *Inventory) readDevice(index int, h nvml.Device) (model.Device, error) {
	dev := model.Device{Index: index}

	name, err := h.Name()
	if err != nil {
		return model.Device{}, ierrors.DeviceQueryError(index, "name", err)
	}
	dev.Name = name

	if v, err := h.Serial(); err == nil {
		dev.Serial = v
	} else {
		optionalFailed(index, "serial", err)
	}
	if v, err := h.UUID(); err == nil {
		dev.UUID = v
	} else {
		optionalFailed(index, "uuid", err)
	}
	if v, err := h.PCIBusID(); err == nil {
		dev.PCIBusID = v
	} else {
		optionalFailed(index, "pci bus id", err)
	}

	if major, minor, err := h.ComputeCapability(); err == nil {
		dev.ComputeCapability = &model.ComputeCapability{Major: major, Minor: minor}
		dev.CoresPerMultiprocessor = CoresPerMultiprocessor(major, minor)
		dev.Architecture = ArchitectureName(major, minor)
		if t := MaxThreadsPerMultiprocessor(major, minor); t > 0 {
			dev.MaxThreadsPerMultiprocessor = &t
		}
	} else {
		optionalFailed(index, "compute capability", err)
	}

	if v, err := h.MultiprocessorCount(); err == nil {
		dev.MultiprocessorCount = &v
	} else {
		optionalFailed(index, "multiprocessor count", err)
	}
	if v, err := h.MaxClockMHz(nvml.ClockSM); err == nil {
		dev.CoreClockMHz = &v
	} else {
		optionalFailed(index, "max sm clock", err)
	}
	if v, err := h.MaxClockMHz(nvml.ClockMemory); err == nil {
		dev.MemoryClockMHz = &v
	} else {
		optionalFailed(index, "max memory clock", err)
	}

	return dev, nil
}

func optionalFailed(index int, field string, err error) {
	slog.Debug("optional device attribute unavailable",
		"device", index,
		"field", field,
		"error", nvml.ErrorString(err),
	)
}

// ReadMemoryAndProcesses reads frame buffer usage and the running compute
// processes of the device at index. Processes keep driver order. A process
// whose name or owner cannot be resolved is reported with sentinel values and
// recorded as a warning.
func (inv *Inventory) ReadMemoryAndProcesses(ctx context.Context, index int, h nvml.Device) (nvml.Memory, []model.ProcessUsage, error) {
	if err := ctx.Err(); err != nil {
		return nvml.Memory{}, nil, err
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		return nvml.Memory{}, nil, ierrors.DeviceQueryError(index, "memory info", err)
	}

	running, err := h.ComputeProcesses()
	if err != nil {
		if errors.Is(err, nvml.ErrInsufficientSize) {
			return nvml.Memory{}, nil, ierrors.ProcessListTruncated(index, err)
		}
		return nvml.Memory{}, nil, ierrors.DeviceQueryError(index, "compute running processes", err)
	}

	procs := make([]model.ProcessUsage, 0, len(running))
	for _, p := range running {
		procs = append(procs, inv.resolveProcess(index, p))
	}
	return mem, procs, nil
}

func (inv *Inventory) resolveProcess(index int, p nvml.Process) model.ProcessUsage {
	pu := model.ProcessUsage{
		DeviceIndex:     index,
		PID:             p.PID,
		Username:        model.UsernameUnknown,
		Name:            model.UsernameUnknown,
		UsedMemoryBytes: p.UsedMemoryBytes,
	}

	if name, err := inv.lib.ProcessName(p.PID); err == nil && name != "" {
		pu.Name = name
	} else if comm, cerr := inv.owners.Comm(p.PID); cerr == nil {
		pu.Name = comm
	} else {
		inv.resolutionFailed(index, p.PID, "name", cerr)
	}

	uid, err := inv.owners.UID(p.PID)
	if err != nil {
		inv.resolutionFailed(index, p.PID, "uid", err)
		return pu
	}
	pu.UID = &uid

	username, err := inv.owners.Username(uid)
	if err != nil {
		inv.resolutionFailed(index, p.PID, "username", err)
		return pu
	}
	pu.Username = username
	return pu
}

func (inv *Inventory) resolutionFailed(index int, pid uint32, field string, err error) {
	inv.warnings.Report(*ierrors.ProcessResolutionFailure(index, pid, field, err))
}
