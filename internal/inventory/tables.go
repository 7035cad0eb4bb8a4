package inventory

import "github.com/kubeadapt/gpu-inventory/pkg/model"

type cc = model.ComputeCapability

// coresPerMultiprocessor maps compute capability to CUDA cores per
// multiprocessor. Read-only after init.
var coresPerMultiprocessor = map[cc]int{
	{Major: 1, Minor: 0}: 8,
	{Major: 1, Minor: 1}: 8,
	{Major: 1, Minor: 2}: 8,
	{Major: 1, Minor: 3}: 8,
	{Major: 2, Minor: 0}: 32,
	{Major: 2, Minor: 1}: 48,
	{Major: 3, Minor: 0}: 192,
	{Major: 3, Minor: 2}: 192,
	{Major: 3, Minor: 5}: 192,
	{Major: 3, Minor: 7}: 192,
	{Major: 5, Minor: 0}: 128,
	{Major: 5, Minor: 2}: 128,
	{Major: 5, Minor: 3}: 128,
	{Major: 6, Minor: 0}: 64,
	{Major: 6, Minor: 1}: 128,
	{Major: 6, Minor: 2}: 128,
	{Major: 7, Minor: 0}: 64,
	{Major: 7, Minor: 2}: 64,
	{Major: 7, Minor: 5}: 64,
}

// maxThreadsPerMultiprocessor maps compute capability to the maximum number
// of resident threads per multiprocessor.
var maxThreadsPerMultiprocessor = map[cc]int{
	{Major: 1, Minor: 0}:  768,
	{Major: 1, Minor: 1}:  768,
	{Major: 1, Minor: 2}:  1024,
	{Major: 1, Minor: 3}:  1024,
	{Major: 2, Minor: 0}:  1536,
	{Major: 2, Minor: 1}:  1536,
	{Major: 3, Minor: 0}:  2048,
	{Major: 3, Minor: 2}:  2048,
	{Major: 3, Minor: 5}:  2048,
	{Major: 3, Minor: 7}:  2048,
	{Major: 5, Minor: 0}:  2048,
	{Major: 5, Minor: 2}:  2048,
	{Major: 5, Minor: 3}:  2048,
	{Major: 6, Minor: 0}:  2048,
	{Major: 6, Minor: 1}:  2048,
	{Major: 6, Minor: 2}:  2048,
	{Major: 7, Minor: 0}:  2048,
	{Major: 7, Minor: 2}:  2048,
	{Major: 7, Minor: 5}:  1024,
	{Major: 8, Minor: 0}:  2048,
	{Major: 8, Minor: 6}:  1536,
	{Major: 8, Minor: 7}:  2048,
	{Major: 8, Minor: 9}:  1536,
	{Major: 9, Minor: 0}:  2048,
	{Major: 10, Minor: 0}: 2048,
	{Major: 12, Minor: 0}: 1536,
}

var architectureByMajor = map[int]string{
	1:  "Tesla",
	2:  "Fermi",
	3:  "Kepler",
	5:  "Maxwell",
	6:  "Pascal",
	7:  "Volta",
	8:  "Ampere",
	9:  "Hopper",
	10: "Blackwell",
	12: "Blackwell",
}

// CoresPerMultiprocessor returns the number of CUDA cores per multiprocessor
// for a compute capability, or 0 if the pair is not in the table.
func CoresPerMultiprocessor(major, minor int) int {
	return coresPerMultiprocessor[cc{Major: major, Minor: minor}]
}

// MaxThreadsPerMultiprocessor returns the resident thread limit per
// multiprocessor, or 0 if unknown.
func MaxThreadsPerMultiprocessor(major, minor int) int {
	return maxThreadsPerMultiprocessor[cc{Major: major, Minor: minor}]
}

// ArchitectureName returns the product architecture family for a compute
// capability, or "" if unknown.
func ArchitectureName(major, minor int) string {
	switch {
	case major == 7 && minor == 5:
		return "Turing"
	case major == 8 && minor == 9:
		return "Ada"
	}
	return architectureByMajor[major]
}
