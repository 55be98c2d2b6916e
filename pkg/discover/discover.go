// Package discover renders accelerator devices, registered drivers and
// adapter workers for the CLI.
package discover

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/Nativu5/uadk-go/pkg/adapter"
	"github.com/Nativu5/uadk-go/pkg/metrics"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/utils"
)

// Catalog is the part of the device catalog listing needs.
type Catalog interface {
	Scan(alg string) ([]*types.Device, error)
	ScanAll() ([]*types.Device, error)
	AvailableInstances(dev *types.Device) (int, error)
}

// DeviceInfo pairs a device with its live queue availability.
type DeviceInfo struct {
	Device *types.Device
	// Available is -1 when it could not be read.
	Available int
}

// Devices lists every device, or only those serving alg when alg is
// set, with their current available-instance counts.
func Devices(cat Catalog, alg string) ([]DeviceInfo, error) {
	var (
		devs []*types.Device
		err  error
	)
	if alg == "" {
		devs, err = cat.ScanAll()
	} else {
		devs, err = cat.Scan(alg)
	}
	if err != nil {
		return nil, err
	}

	out := make([]DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		n, err := cat.AvailableInstances(dev)
		if err != nil {
			n = -1
		}
		out = append(out, DeviceInfo{Device: dev, Available: n})
	}
	return out, nil
}

func orUnknown(n int) string {
	if n < 0 {
		return "(unknown)"
	}
	return strconv.Itoa(n)
}

// PrintDevices renders devices as a human-readable table.
func PrintDevices(w io.Writer, devices []DeviceInfo) {
	table := tablewriter.NewTable(w)
	table.Header("DEVICE", "API", "NUMA", "SVA", "AVAILABLE", "MMIO", "DUS", "ALGORITHMS")
	for _, d := range devices {
		dev := d.Device
		api := dev.API
		if api == "" {
			api = "(unknown)"
		}
		sva := "no"
		if dev.IsSVA() {
			sva = "yes"
		}
		table.Append(dev.Name(), api, orUnknown(dev.NUMANode), sva, orUnknown(d.Available),
			utils.HumanBytes(dev.RegionSize[types.RegionMMIO]),
			utils.HumanBytes(dev.RegionSize[types.RegionDUS]),
			strings.Join(dev.AlgorithmList(), ", "))
	}
	table.Render()
}

// DeviceJSON is the JSON representation of a device.
type DeviceJSON struct {
	Name       string   `json:"name"`
	CharDevice string   `json:"char_device"`
	API        string   `json:"api,omitempty"`
	Flags      int      `json:"flags"`
	SVA        bool     `json:"sva"`
	NUMANode   int      `json:"numa_node"`
	Available  int      `json:"available_instances"`
	MMIOSize   uint64   `json:"region_mmio_size"`
	DUSSize    uint64   `json:"region_dus_size"`
	Algorithms []string `json:"algorithms"`
	SysfsRoot  string   `json:"sysfs_root"`
}

// PrintDevicesJSON renders devices as JSON.
func PrintDevicesJSON(w io.Writer, devices []DeviceInfo) error {
	out := make([]DeviceJSON, 0, len(devices))
	for _, d := range devices {
		dev := d.Device
		algs := dev.AlgorithmList()
		if algs == nil {
			algs = []string{}
		}
		out = append(out, DeviceJSON{
			Name:       dev.Name(),
			CharDevice: dev.CharDevPath,
			API:        dev.API,
			Flags:      dev.Flags,
			SVA:        dev.IsSVA(),
			NUMANode:   dev.NUMANode,
			Available:  d.Available,
			MMIOSize:   dev.RegionSize[types.RegionMMIO],
			DUSSize:    dev.RegionSize[types.RegionDUS],
			Algorithms: algs,
			SysfsRoot:  dev.Root,
		})
	}
	return encode(w, out)
}

// PrintDrivers renders registry entries as a table.
func PrintDrivers(w io.Writer, entries []registry.Entry) {
	table := tablewriter.NewTable(w)
	table.Header("DRIVER", "ALG", "PRIORITY", "AVAILABLE", "REFS", "FALLBACK")
	for _, e := range entries {
		table.Append(e.Driver.Name, e.Driver.Alg, e.Driver.Priority.String(),
			strconv.FormatBool(e.Available), strconv.Itoa(e.RefCount), fallbackName(e.Driver))
	}
	table.Render()
}

func fallbackName(d *registry.Driver) string {
	if d.Fallback == nil {
		return "-"
	}
	return d.Fallback.Name
}

// DriverJSON is the JSON representation of a registration.
type DriverJSON struct {
	Name      string `json:"name"`
	Alg       string `json:"alg"`
	Priority  string `json:"priority"`
	Available bool   `json:"available"`
	RefCount  int    `json:"refcount"`
	Fallback  string `json:"fallback,omitempty"`
}

// PrintDriversJSON renders registry entries as JSON.
func PrintDriversJSON(w io.Writer, entries []registry.Entry) error {
	out := make([]DriverJSON, 0, len(entries))
	for _, e := range entries {
		dj := DriverJSON{
			Name:      e.Driver.Name,
			Alg:       e.Driver.Alg,
			Priority:  e.Driver.Priority.String(),
			Available: e.Available,
			RefCount:  e.RefCount,
		}
		if e.Driver.Fallback != nil {
			dj.Fallback = e.Driver.Fallback.Name
		}
		out = append(out, dj)
	}
	return encode(w, out)
}

// PrintWorkers renders an adapter's worker slots as a table.
func PrintWorkers(w io.Writer, a *adapter.Adapter) {
	fmt.Fprintf(w, "alg=%s mode=%s workers=%d/%d\n", a.Alg(), a.Mode(), a.Len(), a.Capacity())
	table := tablewriter.NewTable(w)
	table.Header("SLOT", "DRIVER", "PRIORITY", "FALLBACK")
	for _, wk := range a.Workers() {
		table.Append(strconv.Itoa(wk.Index), wk.Driver.Name, wk.Driver.Priority.String(), fallbackName(wk.Driver))
	}
	table.Render()
}

// WorkerJSON is the JSON representation of a worker slot.
type WorkerJSON struct {
	Slot     int    `json:"slot"`
	Driver   string `json:"driver"`
	Priority string `json:"priority"`
}

// PrintWorkersJSON renders an adapter's worker slots as JSON.
func PrintWorkersJSON(w io.Writer, a *adapter.Adapter) error {
	out := struct {
		Alg      string       `json:"alg"`
		Mode     string       `json:"mode"`
		Capacity int          `json:"capacity"`
		Workers  []WorkerJSON `json:"workers"`
	}{Alg: a.Alg(), Mode: a.Mode().String(), Capacity: a.Capacity(), Workers: []WorkerJSON{}}
	for _, wk := range a.Workers() {
		out.Workers = append(out.Workers, WorkerJSON{Slot: wk.Index, Driver: wk.Driver.Name, Priority: wk.Driver.Priority.String()})
	}
	return encode(w, out)
}

// PrintMetrics renders gathered samples as a table.
func PrintMetrics(w io.Writer, samples []metrics.Sample) {
	table := tablewriter.NewTable(w)
	table.Header("METRIC", "LABELS", "VALUE")
	for _, s := range samples {
		table.Append(s.Name, s.Labels, strconv.FormatFloat(s.Value, 'f', -1, 64))
	}
	table.Render()
}

func encode(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
