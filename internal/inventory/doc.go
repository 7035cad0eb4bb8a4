// Package inventory collects the accelerator inventory of the local host.
//
// A collection initializes the management library, enumerates devices in
// index order and reads each device's identity, static capability, memory
// usage and running compute processes before shutting the library down.
// Handle, name, memory and process-list queries are required; any failure
// there aborts the whole collection. Other attributes are optional and are
// omitted when the driver cannot report them.
//
// Process ownership is resolved through the process table: the owner uid is
// the owner of /proc/<pid> and the username comes from the user database.
// Entries that cannot be resolved keep sentinel values (uid -1, "NA") and are
// recorded as warnings rather than errors.
//
// The cores-per-multiprocessor table only covers compute capabilities up to
// 7.5; newer devices report 0.
package inventory
