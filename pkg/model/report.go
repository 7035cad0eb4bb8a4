package model

// UsernameUnknown is reported when a process owner cannot be resolved.
const UsernameUnknown = "NA"

// ComputeCapability is the vendor (major, minor) feature generation of a device.
type ComputeCapability struct {
	Major int
	Minor int
}

// Device is a point-in-time snapshot of one accelerator. Optional attributes
// are nil when the driver could not report them.
type Device struct {
	// Identity
	Index    int
	Name     string
	Serial   string
	UUID     string
	PCIBusID string

	// Static capability
	ComputeCapability           *ComputeCapability
	MultiprocessorCount         *int
	MaxThreadsPerMultiprocessor *int
	CoreClockMHz                *uint32
	MemoryClockMHz              *uint32

	// Derived from ComputeCapability; zero values mean unknown.
	CoresPerMultiprocessor int
	Architecture           string

	// Dynamic state, bytes
	MemoryTotal uint64
	MemoryUsed  uint64
	MemoryFree  uint64
}

// ConcurrentThreads returns multiprocessors * max threads per multiprocessor,
// or false when either is unknown.
func (d Device) ConcurrentThreads() (int, bool) {
	if d.MultiprocessorCount == nil || d.MaxThreadsPerMultiprocessor == nil {
		return 0, false
	}
	return *d.MultiprocessorCount * *d.MaxThreadsPerMultiprocessor, true
}

// ProcessUsage describes one compute process observed on a device.
type ProcessUsage struct {
	DeviceIndex int
	PID         uint32

	// UID is nil when /proc/<pid> was not visible at resolution time.
	UID      *uint32
	Username string
	Name     string

	UsedMemoryBytes uint64
}

// UIDOrUnknown returns the owner uid, or -1 when unresolved.
func (p ProcessUsage) UIDOrUnknown() int64 {
	if p.UID == nil {
		return -1
	}
	return int64(*p.UID)
}

// DeviceReport pairs a device snapshot with its compute processes in the
// order the driver returned them.
type DeviceReport struct {
	Device    Device
	Processes []ProcessUsage
}

// Report is the complete inventory of one host.
type Report struct {
	Host          string
	DriverVersion string
	CUDAVersion   string
	NVMLVersion   string

	// Devices are in enumeration index order.
	Devices []DeviceReport
}
