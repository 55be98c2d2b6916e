// Package uacce discovers accelerator devices registered under the
// uacce sysfs class and selects the best one for an algorithm by NUMA
// distance and live queue availability.
package uacce

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/numa"
	"github.com/Nativu5/uadk-go/pkg/types"
)

var (
	SysClassDir = "/sys/class/uacce"
	DevDir      = "/dev"
)

// maxAlgNameLen bounds the algorithm name accepted by Scan.
const maxAlgNameLen = 256

// sysfs attribute names
const (
	attrFlags      = "flags"
	attrAPI        = "api"
	attrAlgs       = "algorithms"
	attrIsolate    = "isolate"
	attrAvailable  = "available_instances"
	attrNUMANode   = "device/numa_node"
	attrRegionMMIO = "region_mmio_size"
	attrRegionDUS  = "region_dus_size"
)

var regionAttrs = [types.RegionMax]string{
	types.RegionMMIO: attrRegionMMIO,
	types.RegionDUS:  attrRegionDUS,
}

var _ types.DeviceCataloger = (*Catalog)(nil)

// Catalog implements types.DeviceCataloger using sysfs.
type Catalog struct {
	topo numa.Topology
}

// NewCatalog returns a catalog. A nil topology uses the live system.
func NewCatalog(topo numa.Topology) *Catalog {
	if topo == nil {
		topo = numa.NewSysfsTopology()
	}
	return &Catalog{topo: topo}
}

// ───────────────────────────────────────────
//  sysfs helpers
// ───────────────────────────────────────────

// readAttr reads a single attribute of a device root with trailing newlines
// removed. Interior newlines (the algorithms list) are preserved.
func readAttr(root, attr string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, attr))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("attribute %s/%s is empty", root, attr)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// readIntAttr parses an integer attribute.
func readIntAttr(root, attr string) (int64, error) {
	s, err := readAttr(root, attr)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// HasAlgorithm reports whether alg appears as a full line of text.
func HasAlgorithm(text, alg string) bool {
	if alg == "" {
		return false
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == alg {
			return true
		}
	}
	return false
}

// ───────────────────────────────────────────
//  descriptor building
// ───────────────────────────────────────────

// isIsolated reports whether the hardware error isolate flag is raised.
func isIsolated(root string) bool {
	v, err := readIntAttr(root, attrIsolate)
	return err == nil && v == 1
}

// buildDevice reads every attribute of the named device. Unreadable
// attributes degrade to zero values. Isolated devices yield nil.
func buildDevice(name string) *types.Device {
	root := filepath.Join(SysClassDir, name)
	if isIsolated(root) {
		log.Warnf("uacce: device %s is isolated, skipping", name)
		return nil
	}

	dev := &types.Device{
		Root:        root,
		CharDevPath: filepath.Join(DevDir, name),
	}

	if v, err := readIntAttr(root, attrFlags); err == nil {
		dev.Flags = int(v)
	} else {
		log.Debugf("uacce: %s: %v", name, err)
	}
	if s, err := readAttr(root, attrAPI); err == nil {
		dev.API = strings.TrimSpace(s)
	}
	if s, err := readAttr(root, attrAlgs); err == nil {
		dev.Algorithms = s
	}
	for r, attr := range regionAttrs {
		if v, err := readIntAttr(root, attr); err == nil && v > 0 {
			dev.RegionSize[r] = uint64(v)
		}
	}
	if v, err := readIntAttr(root, attrNUMANode); err == nil {
		dev.NUMANode = int(v)
	} else {
		log.Debugf("uacce: %s: %v", name, err)
	}
	return dev
}

func checkAlgName(alg string) error {
	if alg == "" || len(alg) >= maxAlgNameLen {
		return accelerr.New(accelerr.CodeInvalidArgument, "scan", "invalid algorithm name %q", alg)
	}
	return nil
}

// ───────────────────────────────────────────
//  Catalog methods
// ───────────────────────────────────────────

// Scan enumerates SysClassDir and returns a descriptor for every
// non-isolated device whose algorithms attribute lists alg on a line of
// its own. Failure to open the class directory is fatal.
func (c *Catalog) Scan(alg string) ([]*types.Device, error) {
	if err := checkAlgName(alg); err != nil {
		return nil, err
	}
	return c.scan(func(root string) bool {
		algs, err := readAttr(root, attrAlgs)
		if err != nil {
			log.Errorf("uacce: failed to get algorithms for %s: %v", root, err)
			return false
		}
		return HasAlgorithm(algs, alg)
	})
}

// ScanAll returns every non-isolated device regardless of algorithm.
func (c *Catalog) ScanAll() ([]*types.Device, error) {
	return c.scan(func(string) bool { return true })
}

func (c *Catalog) scan(match func(root string) bool) ([]*types.Device, error) {
	entries, err := os.ReadDir(SysClassDir)
	if err != nil {
		log.Errorf("uacce: framework is not enabled on the system: %v", err)
		return nil, accelerr.Wrap(accelerr.CodeNotFound, "scan", err)
	}

	var devices []*types.Device
	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if !match(filepath.Join(SysClassDir, name)) {
			continue
		}
		if dev := buildDevice(name); dev != nil {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// Lookup builds the descriptor of one named device.
func (c *Catalog) Lookup(name string) (*types.Device, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return nil, accelerr.New(accelerr.CodeInvalidArgument, "lookup", "invalid device name %q", name)
	}
	if _, err := os.Stat(filepath.Join(SysClassDir, name)); err != nil {
		return nil, accelerr.Wrap(accelerr.CodeNotFound, "lookup", err)
	}
	dev := buildDevice(name)
	if dev == nil {
		return nil, accelerr.New(accelerr.CodeUnavailable, "lookup", "device %s is isolated", name)
	}
	return dev, nil
}

// AvailableInstances reads the live count of free queues of dev.
func (c *Catalog) AvailableInstances(dev *types.Device) (int, error) {
	if dev == nil || dev.Root == "" {
		return 0, accelerr.New(accelerr.CodeInvalidArgument, "available_instances", "nil device")
	}
	v, err := readIntAttr(dev.Root, attrAvailable)
	if err != nil {
		return 0, accelerr.Wrap(accelerr.CodeIO, "available_instances", err)
	}
	return int(v), nil
}

// SelectBest scans for alg and returns a private copy of the device
// nearest to the calling CPU; ties on distance go to the device with the
// most available instances. Devices with no free instance are never
// chosen.
func (c *Catalog) SelectBest(alg string) (*types.Device, error) {
	devices, err := c.Scan(alg)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, accelerr.New(accelerr.CodeNotFound, "select", "no device supports %s", alg)
	}

	node := c.topo.CurrentNode()
	var (
		best     *types.Device
		bestDist = math.MaxInt
		bestFree = 0
	)
	for _, dev := range devices {
		dist := c.topo.Distance(node, dev.NUMANode)
		free, err := c.AvailableInstances(dev)
		if err != nil {
			log.Debugf("uacce: %s: %v", dev.Name(), err)
			free = 0
		}
		log.Debugf("uacce: candidate %s node=%d distance=%d available=%d", dev.Name(), dev.NUMANode, dist, free)
		if free <= 0 {
			continue
		}
		if dist < bestDist || (dist == bestDist && free > bestFree) {
			best, bestDist, bestFree = dev, dist, free
		}
	}

	if best == nil {
		return nil, accelerr.New(accelerr.CodeUnavailable, "select", "no free queue on %d device(s) for %s", len(devices), alg)
	}
	return best.Clone(), nil
}
