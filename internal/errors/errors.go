package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"
)

// Code classifies an inventory failure.
type Code string

// Inventory error codes.
const (
	ErrInitFailed              Code = "INIT_FAILED"
	ErrDeviceQueryFailed       Code = "DEVICE_QUERY_FAILED"
	ErrProcessResolutionFailed Code = "PROCESS_RESOLUTION_FAILED"
	ErrProcessListTruncated    Code = "PROCESS_LIST_TRUNCATED"
	ErrHostLookupFailed        Code = "HOST_LOOKUP_FAILED"
	ErrRenderFailed            Code = "RENDER_FAILED"
	ErrPushFailed              Code = "PUSH_FAILED"
)

// Fatal reports whether errors with this code abort the run.
func (c Code) Fatal() bool {
	return c != ErrProcessResolutionFailed
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// NoDevice marks an InventoryError that is not tied to a device.
const NoDevice = -1

// InventoryError is a typed inventory error with code, component and optional
// device context.
type InventoryError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	// Device is the device index, or NoDevice.
	Device int `json:"device"`
	// Field names the attribute whose query failed, if any.
	Field     string `json:"field,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *InventoryError) Unwrap() error {
	return e.Err
}

// InitError reports that the management library could not be initialized or
// could not enumerate devices.
func InitError(op string, err error) *InventoryError {
	return &InventoryError{
		Code:      ErrInitFailed,
		Message:   op,
		Component: "nvml",
		Device:    NoDevice,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// DeviceQueryError reports a failed required attribute query on one device.
func DeviceQueryError(index int, field string, err error) *InventoryError {
	return &InventoryError{
		Code:      ErrDeviceQueryFailed,
		Message:   fmt.Sprintf("unable to get %s of device at index %d", field, index),
		Component: "nvml",
		Device:    index,
		Field:     field,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// ProcessListTruncated reports that the driver refused to return the full
// compute process list for a device.
func ProcessListTruncated(index int, err error) *InventoryError {
	return &InventoryError{
		Code:      ErrProcessListTruncated,
		Message:   fmt.Sprintf("compute process list of device at index %d was truncated", index),
		Component: "nvml",
		Device:    index,
		Field:     "compute running processes",
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// ProcessResolutionFailure reports a process whose name or owner could not be
// resolved. It is always recovered locally.
func ProcessResolutionFailure(index int, pid uint32, field string, err error) *InventoryError {
	return &InventoryError{
		Code:      ErrProcessResolutionFailed,
		Message:   fmt.Sprintf("unable to resolve %s of pid %d on device %d", field, pid, index),
		Component: "procfs",
		Device:    index,
		Field:     field,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// New creates an InventoryError not tied to a device.
func New(code Code, component, message string, err error) *InventoryError {
	return &InventoryError{
		Code:      code,
		Message:   message,
		Component: component,
		Device:    NoDevice,
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	}
}

// CodeOf returns the Code of the first InventoryError in err's chain, or ""
// if there is none.
func CodeOf(err error) Code {
	var ie *InventoryError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// Collector accumulates locally recovered errors during one collection so
// they can be reported once the report is complete. It is safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	clock   Clock
	entries []InventoryError
}

// NewCollector creates a Collector with the given clock.
func NewCollector(clock Clock) *Collector {
	return &Collector{clock: clock}
}

// Report records a recovered error, stamping it with the collector's clock.
func (c *Collector) Report(err InventoryError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err.Timestamp = c.clock.Now().UnixMilli()
	c.entries = append(c.entries, err)
}

// Errors returns the recorded errors in report order.
func (c *Collector) Errors() []InventoryError {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]InventoryError, len(c.entries))
	copy(out, c.entries)
	return out
}

// Counts returns the number of recorded errors per code.
func (c *Collector) Counts() map[Code]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[Code]int)
	for _, e := range c.entries {
		counts[e.Code]++
	}
	return counts
}

// Clear removes all recorded errors.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
}
