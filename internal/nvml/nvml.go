// Package nvml narrows the NVIDIA management library to the queries the
// inventory needs, so collection logic can be exercised without a driver.
package nvml

import (
	"fmt"

	nvmlapi "github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Return codes callers branch on. They are nvml.Return values and compare
// with errors.Is.
var (
	ErrNotSupported     error = nvmlapi.ERROR_NOT_SUPPORTED
	ErrInsufficientSize error = nvmlapi.ERROR_INSUFFICIENT_SIZE
	ErrNotFound         error = nvmlapi.ERROR_NOT_FOUND
	ErrNoPermission     error = nvmlapi.ERROR_NO_PERMISSION
	ErrUnknown          error = nvmlapi.ERROR_UNKNOWN
	ErrLibraryNotFound  error = nvmlapi.ERROR_LIBRARY_NOT_FOUND
	ErrDriverNotLoaded  error = nvmlapi.ERROR_DRIVER_NOT_LOADED
)

// Clock selects the clock domain for MaxClockMHz.
type Clock int

const (
	ClockSM Clock = iota
	ClockMemory
)

// Memory is the frame buffer usage of a device, in bytes.
type Memory struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// Process is one compute process reported by the driver.
type Process struct {
	PID             uint32
	UsedMemoryBytes uint64
}

// Library is the process-wide management library session.
type Library interface {
	Init() error
	Shutdown() error
	DeviceCount() (int, error)
	DeviceByIndex(index int) (Device, error)
	DriverVersion() (string, error)
	// CUDADriverVersion is encoded as major*1000 + minor*10.
	CUDADriverVersion() (int, error)
	NVMLVersion() (string, error)
	ProcessName(pid uint32) (string, error)
}

// Device is a handle to one enumerated accelerator.
type Device interface {
	Name() (string, error)
	Serial() (string, error)
	UUID() (string, error)
	PCIBusID() (string, error)
	ComputeCapability() (major, minor int, err error)
	MultiprocessorCount() (int, error)
	MaxClockMHz(clock Clock) (uint32, error)
	MemoryInfo() (Memory, error)
	ComputeProcesses() ([]Process, error)
}

// CUDAVersionString renders an encoded CUDA driver version as "major.minor".
func CUDAVersionString(v int) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}

// ErrorString returns the vendor's text for err when it is a library return
// code, and err.Error() otherwise.
func ErrorString(err error) string {
	if ret, ok := err.(nvmlapi.Return); ok {
		return nvmlapi.ErrorString(ret)
	}
	return err.Error()
}

// New returns the Library backed by the system libnvml.
func New() Library {
	return &library{}
}

type library struct{}

func toError(ret nvmlapi.Return) error {
	if ret == nvmlapi.SUCCESS {
		return nil
	}
	return ret
}

func (library) Init() error {
	return toError(nvmlapi.Init())
}

func (library) Shutdown() error {
	return toError(nvmlapi.Shutdown())
}

func (library) DeviceCount() (int, error) {
	n, ret := nvmlapi.DeviceGetCount()
	return n, toError(ret)
}

func (library) DeviceByIndex(index int) (Device, error) {
	d, ret := nvmlapi.DeviceGetHandleByIndex(index)
	if ret != nvmlapi.SUCCESS {
		return nil, ret
	}
	return device{d: d}, nil
}

func (library) DriverVersion() (string, error) {
	v, ret := nvmlapi.SystemGetDriverVersion()
	return v, toError(ret)
}

func (library) CUDADriverVersion() (int, error) {
	v, ret := nvmlapi.SystemGetCudaDriverVersion()
	return v, toError(ret)
}

func (library) NVMLVersion() (string, error) {
	v, ret := nvmlapi.SystemGetNVMLVersion()
	return v, toError(ret)
}

func (library) ProcessName(pid uint32) (string, error) {
	name, ret := nvmlapi.SystemGetProcessName(int(pid))
	return name, toError(ret)
}

type device struct {
	d nvmlapi.Device
}

func (d device) Name() (string, error) {
	v, ret := d.d.GetName()
	return v, toError(ret)
}

func (d device) Serial() (string, error) {
	v, ret := d.d.GetSerial()
	return v, toError(ret)
}

func (d device) UUID() (string, error) {
	v, ret := d.d.GetUUID()
	return v, toError(ret)
}

func (d device) PCIBusID() (string, error) {
	info, ret := d.d.GetPciInfo()
	if ret != nvmlapi.SUCCESS {
		return "", ret
	}
	return cString(info.BusId[:]), nil
}

func (d device) ComputeCapability() (int, int, error) {
	major, minor, ret := d.d.GetCudaComputeCapability()
	return major, minor, toError(ret)
}

func (d device) MultiprocessorCount() (int, error) {
	attrs, ret := d.d.GetAttributes()
	if ret != nvmlapi.SUCCESS {
		return 0, ret
	}
	return int(attrs.MultiprocessorCount), nil
}

func (d device) MaxClockMHz(clock Clock) (uint32, error) {
	ct := nvmlapi.CLOCK_SM
	if clock == ClockMemory {
		ct = nvmlapi.CLOCK_MEM
	}
	v, ret := d.d.GetMaxClockInfo(ct)
	return v, toError(ret)
}

func (d device) MemoryInfo() (Memory, error) {
	m, ret := d.d.GetMemoryInfo()
	if ret != nvmlapi.SUCCESS {
		return Memory{}, ret
	}
	return Memory{Total: m.Total, Used: m.Used, Free: m.Free}, nil
}

// ComputeProcesses returns every compute process on the device. The binding
// grows its buffer until the driver's list fits, so ErrInsufficientSize only
// surfaces when the list keeps growing faster than it can be read.
func (d device) ComputeProcesses() ([]Process, error) {
	infos, ret := d.d.GetComputeRunningProcesses()
	if ret != nvmlapi.SUCCESS {
		return nil, ret
	}
	out := make([]Process, 0, len(infos))
	for _, p := range infos {
		out = append(out, Process{PID: p.Pid, UsedMemoryBytes: p.UsedGpuMemory})
	}
	return out, nil
}

func cString[T ~int8 | ~uint8](b []T) string {
	buf := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		buf = append(buf, byte(c))
	}
	return string(buf)
}
