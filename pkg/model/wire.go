package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// WireReport is the JSON document consumed by existing scrapers. Field names,
// casing and order are part of the contract.
type WireReport struct {
	Host               string       `json:"host" yaml:"host"`
	DriverVersion      string       `json:"Driver_Version" yaml:"Driver_Version"`
	CUDAVersion        string       `json:"CUDA_Version" yaml:"CUDA_Version"`
	NVMLLibraryVersion string       `json:"NVML_library_version" yaml:"NVML_library_version"`
	GPU                []WireDevice `json:"GPU" yaml:"GPU"`
}

// WireDevice is one entry of WireReport.GPU.
type WireDevice struct {
	Device      int            `json:"device" yaml:"device"`
	DeviceName  string         `json:"Device_Name" yaml:"Device_Name"`
	MemoryTotal uint64         `json:"Memory_Total" yaml:"Memory_Total"`
	MemoryUsed  uint64         `json:"Memory_used" yaml:"Memory_used"`
	PIDS        []ProcessTuple `json:"PIDS,omitempty" yaml:"PIDS,omitempty"`
}

// ProcessTuple is encoded positionally as
// [device_index, uid_or_-1, username_or_"NA", process_name].
type ProcessTuple struct {
	DeviceIndex int
	UID         int64
	Username    string
	Name        string
}

// MarshalJSON encodes the tuple as a 4-element array.
func (p ProcessTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.DeviceIndex, p.UID, p.Username, p.Name})
}

// UnmarshalJSON decodes a 4-element array.
func (p *ProcessTuple) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("process tuple: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("process tuple: want 4 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.DeviceIndex); err != nil {
		return fmt.Errorf("process tuple: device index: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.UID); err != nil {
		return fmt.Errorf("process tuple: uid: %w", err)
	}
	if err := json.Unmarshal(raw[2], &p.Username); err != nil {
		return fmt.Errorf("process tuple: username: %w", err)
	}
	if err := json.Unmarshal(raw[3], &p.Name); err != nil {
		return fmt.Errorf("process tuple: name: %w", err)
	}
	return nil
}

// MarshalYAML encodes the tuple as a flow sequence.
func (p ProcessTuple) MarshalYAML() (interface{}, error) {
	var n yaml.Node
	if err := n.Encode([]any{p.DeviceIndex, p.UID, p.Username, p.Name}); err != nil {
		return nil, fmt.Errorf("process tuple: %w", err)
	}
	n.Style = yaml.FlowStyle
	return &n, nil
}

// ToWire converts a Report into the wire contract.
func ToWire(r Report) WireReport {
	out := WireReport{
		Host:               r.Host,
		DriverVersion:      r.DriverVersion,
		CUDAVersion:        r.CUDAVersion,
		NVMLLibraryVersion: r.NVMLVersion,
		GPU:                make([]WireDevice, 0, len(r.Devices)),
	}
	for _, dr := range r.Devices {
		wd := WireDevice{
			Device:      dr.Device.Index,
			DeviceName:  dr.Device.Name,
			MemoryTotal: dr.Device.MemoryTotal,
			MemoryUsed:  dr.Device.MemoryUsed,
		}
		for _, p := range dr.Processes {
			wd.PIDS = append(wd.PIDS, ProcessTuple{
				DeviceIndex: p.DeviceIndex,
				UID:         p.UIDOrUnknown(),
				Username:    p.Username,
				Name:        p.Name,
			})
		}
		out.GPU = append(out.GPU, wd)
	}
	return out
}
