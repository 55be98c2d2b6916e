// Package doctor provides accelerator environment diagnostics.
// It checks the uacce class, kernel modules, every device's character
// node, queue availability and NUMA placement, the adapter configuration
// file and the registered drivers.
package doctor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/config"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/uacce"
)

// Severity levels for diagnostic checks.
type Severity string

const (
	Pass Severity = "PASS"
	Warn Severity = "WARN"
	Fail Severity = "FAIL"
)

// SysModuleDir is where loaded kernel modules appear.
var SysModuleDir = "/sys/module"

// requiredModule backs the uacce class itself. At least one of the
// hardware modules should be loaded for any device to appear.
const requiredModule = "uacce"

var hardwareModules = []string{"hisi_zip", "hisi_sec2", "hisi_hpre", "hisi_qm"}

// CheckResult represents one diagnostic check outcome.
type CheckResult struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Device   string   `json:"device,omitempty"`
}

// Report holds all diagnostic results.
type Report struct {
	Results []CheckResult `json:"results"`
	HasWarn bool          `json:"-"`
	HasFail bool          `json:"-"`
}

func (r *Report) add(check string, sev Severity, dev, format string, args ...interface{}) {
	r.Results = append(r.Results, CheckResult{
		Check:    check,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Device:   dev,
	})
	switch sev {
	case Warn:
		r.HasWarn = true
	case Fail:
		r.HasFail = true
	}
}

// filtered drops PASS entries unless showPass is set.
func (r *Report) filtered(showPass bool) []CheckResult {
	if showPass {
		return r.Results
	}
	var out []CheckResult
	for _, cr := range r.Results {
		if cr.Severity != Pass {
			out = append(out, cr)
		}
	}
	return out
}

// Catalog is the part of the device catalog the checks use.
type Catalog interface {
	Lookup(name string) (*types.Device, error)
	AvailableInstances(dev *types.Device) (int, error)
}

// Doctor runs host and device checks.
type Doctor struct {
	Catalog Catalog
	// Registry is optional; without it driver and configuration checks
	// that resolve names are skipped.
	Registry *registry.Registry
}

// Run performs every check. With devices non-empty only those devices
// are examined.
func (d *Doctor) Run(devices ...string) *Report {
	report := &Report{}

	names, ok := d.checkClass(report)
	checkKernelModules(report)
	if ok {
		if len(devices) > 0 {
			names = devices
		}
		for _, name := range names {
			d.DiagnoseDevice(report, name)
		}
	}
	d.checkConfig(report)
	d.checkDrivers(report)
	return report
}

func (d *Doctor) checkClass(report *Report) ([]string, bool) {
	entries, err := os.ReadDir(uacce.SysClassDir)
	if err != nil {
		report.add("uacce_class", Fail, "", "Cannot read %s: %v", uacce.SysClassDir, err)
		return nil, false
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		report.add("uacce_class", Warn, "", "No accelerator registered under %s", uacce.SysClassDir)
	} else {
		report.add("uacce_class", Pass, "", "%d device(s) under %s", len(names), uacce.SysClassDir)
	}
	return names, true
}

func checkKernelModules(report *Report) {
	if _, err := os.Stat(filepath.Join(SysModuleDir, requiredModule)); err != nil {
		report.add("kernel_modules", Fail, "", "Module %s is not loaded", requiredModule)
		return
	}
	var loaded []string
	for _, mod := range hardwareModules {
		if _, err := os.Stat(filepath.Join(SysModuleDir, mod)); err == nil {
			loaded = append(loaded, mod)
		}
	}
	if len(loaded) == 0 {
		report.add("kernel_modules", Warn, "", "%s loaded but no hardware module found (%s)",
			requiredModule, strings.Join(hardwareModules, ", "))
		return
	}
	report.add("kernel_modules", Pass, "", "Loaded: %s, %s", requiredModule, strings.Join(loaded, ", "))
}

// DiagnoseDevice appends the checks of one device to report.
func (d *Doctor) DiagnoseDevice(report *Report, name string) {
	dev, err := d.Catalog.Lookup(name)
	switch {
	case accelerr.CodeOf(err) == accelerr.CodeUnavailable:
		report.add("isolation", Fail, name, "Device is isolated after hardware errors")
		return
	case err != nil:
		report.add("sysfs", Fail, name, "Cannot read device: %v", err)
		return
	}
	report.add("isolation", Pass, name, "Device is not isolated")

	checkCharDev(report, name, dev.CharDevPath)

	if algs := dev.AlgorithmList(); len(algs) == 0 {
		report.add("algorithms", Fail, name, "Device advertises no algorithm")
	} else {
		report.add("algorithms", Pass, name, "Algorithms: %s", strings.Join(algs, ", "))
	}

	switch n, err := d.Catalog.AvailableInstances(dev); {
	case err != nil:
		report.add("available_instances", Warn, name, "Cannot read available instances: %v", err)
	case n <= 0:
		report.add("available_instances", Warn, name, "No free queue (available_instances=%d)", n)
	default:
		report.add("available_instances", Pass, name, "%d free queue(s)", n)
	}

	if dev.NUMANode < 0 {
		report.add("numa_node", Warn, name, "NUMA node unknown, selection cannot prefer local devices")
	} else {
		report.add("numa_node", Pass, name, "NUMA node %d", dev.NUMANode)
	}

	if dev.RegionSize[types.RegionMMIO] == 0 {
		report.add("regions", Warn, name, "Device declares no MMIO region")
	} else {
		report.add("regions", Pass, name, "mmio=%d dus=%d", dev.RegionSize[types.RegionMMIO], dev.RegionSize[types.RegionDUS])
	}
}

func checkCharDev(report *Report, name, path string) {
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		report.add("char_device", Fail, name, "Missing %s: %v", path, err)
	case fi.Mode()&os.ModeCharDevice == 0:
		report.add("char_device", Warn, name, "%s is not a character device", path)
	default:
		report.add("char_device", Pass, name, "%s present", path)
	}
}

func (d *Doctor) checkConfig(report *Report) {
	path := os.Getenv(config.EnvFile)
	if path == "" {
		report.add("config", Pass, "", "%s not set, drivers come from the registry", config.EnvFile)
		return
	}
	cfg := config.LoadFile(path)
	if cfg == nil {
		report.add("config", Warn, "", "%s=%s cannot be read, falling back to the registry", config.EnvFile, path)
		return
	}
	if len(cfg.Drivers) == 0 {
		report.add("config", Warn, "", "%s names no driver_name, falling back to the registry", path)
		return
	}
	if d.Registry != nil {
		var unknown []string
		for _, name := range cfg.Drivers {
			if !d.registered(name) {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			report.add("config", Warn, "", "%s names unregistered driver(s): %s", path, strings.Join(unknown, ", "))
			return
		}
	}
	report.add("config", Pass, "", "%s: mode=%d drivers=%s", path, cfg.Mode, strings.Join(cfg.Drivers, ","))
}

func (d *Doctor) registered(name string) bool {
	for _, e := range d.Registry.Entries() {
		if e.Driver.Name == name {
			return true
		}
	}
	return false
}

func (d *Doctor) checkDrivers(report *Report) {
	if d.Registry == nil {
		return
	}
	for _, e := range d.Registry.Entries() {
		if e.Driver.Priority != registry.PriorityHW {
			continue
		}
		label := e.Driver.Name + "/" + e.Driver.Alg
		if e.Available {
			report.add("driver", Pass, label, "Hardware driver available")
			continue
		}
		fb := "no fallback"
		if e.Driver.Fallback != nil {
			fb = "falls back to " + e.Driver.Fallback.Name
		}
		report.add("driver", Warn, label, "No device for %s, %s", e.Driver.Alg, fb)
	}
}

// PrintTable renders the diagnostic report as a table.
// When showPass is false, only WARN/FAIL results are shown.
func PrintTable(w io.Writer, report *Report, showPass bool) {
	results := report.filtered(showPass)
	if len(results) == 0 {
		fmt.Fprintln(w, "All checks passed.")
		return
	}
	table := tablewriter.NewTable(w)
	table.Header("STATUS", "CHECK", "DEVICE", "MESSAGE")
	for _, r := range results {
		marker := "✓"
		switch r.Severity {
		case Warn:
			marker = "!"
		case Fail:
			marker = "✗"
		}
		dev := r.Device
		if dev == "" {
			dev = "(host)"
		}
		table.Append(marker+" "+string(r.Severity), r.Check, dev, r.Message)
	}
	table.Render()
}

// PrintJSON renders the diagnostic report as JSON.
// When showPass is false, only WARN/FAIL results are included.
func PrintJSON(w io.Writer, report *Report, showPass bool) error {
	results := report.filtered(showPass)
	if results == nil {
		results = []CheckResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
