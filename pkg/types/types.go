// Package types defines shared data types for the uadk-go framework.
// Descriptors here are plain value types so that a copy never aliases
// the storage of the catalog entry it was taken from.
package types

import "strings"

// RegionType indexes the memory-mapped queue regions of an accelerator
// queue. The index doubles as the page offset used when mapping.
type RegionType int

const (
	// RegionMMIO is the control (doorbell) region.
	RegionMMIO RegionType = iota
	// RegionDUS is the device user share (data) region.
	RegionDUS
	// RegionMax is the number of known region kinds.
	RegionMax
)

// String returns the sysfs-style short name of the region.
func (r RegionType) String() string {
	switch r {
	case RegionMMIO:
		return "mmio"
	case RegionDUS:
		return "dus"
	default:
		return "unknown"
	}
}

// Valid reports whether r names a known region kind.
func (r RegionType) Valid() bool {
	return r >= 0 && r < RegionMax
}

// Device capability flags as exposed by the uacce "flags" attribute.
const (
	// FlagSVA marks a device that shares the process virtual address space.
	FlagSVA = 0x1
)

// Device describes one accelerator device at discovery time.
type Device struct {
	// Root is the sysfs directory of the device (e.g. /sys/class/uacce/hisi_zip-0).
	Root string
	// CharDevPath is the character device node (e.g. /dev/hisi_zip-0).
	CharDevPath string
	// Flags is the raw capability bitmask.
	Flags int
	// API is the short interface tag (e.g. "hisi_qm_v2").
	API string
	// Algorithms is the newline-separated list of supported algorithms.
	Algorithms string
	// RegionSize is the declared byte size of each queue region; zero means
	// the region does not exist on this device.
	RegionSize [RegionMax]uint64
	// NUMANode is the home node of the device, -1 when unknown.
	NUMANode int
}

// Name returns the final component of the device root.
func (d *Device) Name() string {
	i := strings.LastIndexByte(d.Root, '/')
	return d.Root[i+1:]
}

// AlgorithmList splits the Algorithms text into one name per entry.
func (d *Device) AlgorithmList() []string {
	var out []string
	for _, line := range strings.Split(d.Algorithms, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// IsSVA reports whether the SVA capability flag is set.
func (d *Device) IsSVA() bool {
	return uint(d.Flags)&FlagSVA != 0
}

// Clone returns an independent copy of d.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// DeviceCataloger abstracts accelerator discovery for testability.
type DeviceCataloger interface {
	// Scan returns the non-isolated devices supporting alg.
	Scan(alg string) ([]*Device, error)
	// ScanAll returns every non-isolated device.
	ScanAll() ([]*Device, error)
	// SelectBest returns a private copy of the best device for alg.
	SelectBest(alg string) (*Device, error)
}
