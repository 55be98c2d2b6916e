// Package numa resolves NUMA locality for device selection.
// It reads node membership and distance tables from sysfs and the
// CPU the caller last ran on from procfs.
package numa

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	log "github.com/sirupsen/logrus"
)

// NoNode is reported when a node cannot be determined.
const NoNode = -1

// LocalDistance is the ACPI SLIT distance of a node to itself.
const LocalDistance = 10

var (
	SysNodeDir = "/sys/devices/system/node"
	SysCPUDir  = "/sys/devices/system/cpu"
	ProcDir    = procfs.DefaultMountPoint
)

// Topology answers the two questions the selector asks.
type Topology interface {
	// CurrentNode returns the NUMA node of the calling CPU, or NoNode.
	CurrentNode() int
	// Distance returns the relative cost between two nodes. Unknown
	// distances are reported as 0, which ranks as nearest.
	Distance(from, to int) int
}

// SysfsTopology implements Topology on top of sysfs and procfs.
type SysfsTopology struct {
	// CurrentCPU overrides the procfs lookup; used by tests.
	CurrentCPU func() (int, error)
}

// NewSysfsTopology returns a topology backed by the live system.
func NewSysfsTopology() *SysfsTopology {
	return &SysfsTopology{}
}

func (t *SysfsTopology) cpu() (int, error) {
	if t.CurrentCPU != nil {
		return t.CurrentCPU()
	}
	return CurrentCPU()
}

// CurrentNode returns the node owning the CPU the caller last ran on.
func (t *SysfsTopology) CurrentNode() int {
	cpu, err := t.cpu()
	if err != nil {
		log.Debugf("numa: cannot determine current cpu: %v", err)
		return NoNode
	}
	node, err := NodeOfCPU(cpu)
	if err != nil {
		log.Debugf("numa: %v", err)
		return NoNode
	}
	return node
}

// Distance reads node<from>/distance and returns its to-th column.
func (t *SysfsTopology) Distance(from, to int) int {
	if from < 0 || to < 0 {
		return 0
	}
	dist, err := Distances(from)
	if err != nil || to >= len(dist) {
		return 0
	}
	return dist[to]
}

// CurrentCPU returns the processor field of /proc/self/stat.
func CurrentCPU() (int, error) {
	fs, err := procfs.NewFS(ProcDir)
	if err != nil {
		return -1, fmt.Errorf("cannot open procfs at %s: %w", ProcDir, err)
	}
	self, err := fs.Self()
	if err != nil {
		return -1, fmt.Errorf("cannot read /proc/self: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return -1, fmt.Errorf("cannot read /proc/self/stat: %w", err)
	}
	return int(stat.Processor), nil
}

// NodeOfCPU finds the nodeN link under cpu<cpu>/.
func NodeOfCPU(cpu int) (int, error) {
	dir := filepath.Join(SysCPUDir, "cpu"+strconv.Itoa(cpu))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NoNode, fmt.Errorf("cannot read %s: %w", dir, err)
	}
	for _, e := range entries {
		if id, ok := parseNodeName(e.Name()); ok {
			return id, nil
		}
	}
	return NoNode, fmt.Errorf("cpu%d has no node link", cpu)
}

// Distances returns the distance row of node from.
func Distances(from int) ([]int, error) {
	path := filepath.Join(SysNodeDir, "node"+strconv.Itoa(from), "distance")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("malformed distance %q in %s", f, path)
		}
		out = append(out, v)
	}
	return out, nil
}

// Nodes lists the node ids present under SysNodeDir.
func Nodes() ([]int, error) {
	entries, err := os.ReadDir(SysNodeDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", SysNodeDir, err)
	}
	var ids []int
	for _, e := range entries {
		if id, ok := parseNodeName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parseNodeName(name string) (int, bool) {
	if !strings.HasPrefix(name, "node") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
