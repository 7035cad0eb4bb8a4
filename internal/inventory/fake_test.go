package inventory

import (
	"os/user"

	"github.com/kubeadapt/gpu-inventory/internal/nvml"
)

// fakeLibrary implements nvml.Library over in-memory devices.
type fakeLibrary struct {
	initErr   error
	countErr  error
	driverErr error
	devices   []*fakeDevice
	handleErr map[int]error
	names     map[uint32]string

	initCalls     int
	shutdownCalls int
	handles       []int
}

func (f *fakeLibrary) Init() error {
	f.initCalls++
	return f.initErr
}

func (f *fakeLibrary) Shutdown() error {
	f.shutdownCalls++
	return nil
}

func (f *fakeLibrary) DeviceCount() (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.devices), nil
}

func (f *fakeLibrary) DeviceByIndex(index int) (nvml.Device, error) {
	f.handles = append(f.handles, index)
	if err := f.handleErr[index]; err != nil {
		return nil, err
	}
	return f.devices[index], nil
}

func (f *fakeLibrary) DriverVersion() (string, error) {
	if f.driverErr != nil {
		return "", f.driverErr
	}
	return "535.104.05", nil
}

func (f *fakeLibrary) CUDADriverVersion() (int, error) { return 12020, nil }

func (f *fakeLibrary) NVMLVersion() (string, error) { return "12.535.104.05", nil }

func (f *fakeLibrary) ProcessName(pid uint32) (string, error) {
	if name, ok := f.names[pid]; ok {
		return name, nil
	}
	return "", nvml.ErrNotFound
}

// fakeDevice implements nvml.Device. Zero-valued error fields succeed.
type fakeDevice struct {
	name    string
	nameErr error

	serial    string
	serialErr error
	uuid      string
	pciBusID  string

	major, minor int
	ccErr        error

	multiprocessors int
	mpErr           error
	smClock         uint32
	memClock        uint32
	clockErr        error

	memory  nvml.Memory
	memErr  error
	procs   []nvml.Process
	procErr error
}

func (d *fakeDevice) Name() (string, error)     { return d.name, d.nameErr }
func (d *fakeDevice) Serial() (string, error)   { return d.serial, d.serialErr }
func (d *fakeDevice) UUID() (string, error)     { return d.uuid, nil }
func (d *fakeDevice) PCIBusID() (string, error) { return d.pciBusID, nil }

func (d *fakeDevice) ComputeCapability() (int, int, error) {
	if d.ccErr != nil {
		return 0, 0, d.ccErr
	}
	return d.major, d.minor, nil
}

func (d *fakeDevice) MultiprocessorCount() (int, error) { return d.multiprocessors, d.mpErr }

func (d *fakeDevice) MaxClockMHz(clock nvml.Clock) (uint32, error) {
	if d.clockErr != nil {
		return 0, d.clockErr
	}
	if clock == nvml.ClockMemory {
		return d.memClock, nil
	}
	return d.smClock, nil
}

func (d *fakeDevice) MemoryInfo() (nvml.Memory, error) { return d.memory, d.memErr }

func (d *fakeDevice) ComputeProcesses() ([]nvml.Process, error) { return d.procs, d.procErr }

func v100() *fakeDevice {
	return &fakeDevice{
		name:            "Tesla V100-SXM2-16GB",
		serial:          "0323217011111",
		uuid:            "GPU-aaa",
		pciBusID:        "00000000:3B:00.0",
		major:           7,
		minor:           0,
		multiprocessors: 80,
		smClock:         1530,
		memClock:        877,
		memory:          nvml.Memory{Total: 16 << 30, Used: 1 << 20, Free: 16<<30 - 1<<20},
	}
}

func lookupAs(name string) func(string) (*user.User, error) {
	return func(uid string) (*user.User, error) {
		return &user.User{Uid: uid, Username: name}, nil
	}
}

func lookupFails(_ string) (*user.User, error) {
	return nil, user.UnknownUserIdError(0)
}
