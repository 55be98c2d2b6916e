// uadkctl inspects uacce accelerators on the host, shows how the driver
// registry and adapter resolve an algorithm, runs compression jobs through
// the adapter, exports metrics and writes CDI specs for the devices.
//
// Usage:
//
//	uadkctl list --alg deflate
//	uadkctl select --alg zlib
//	uadkctl workers --alg gzip
//	uadkctl run --alg deflate --input data.bin --output data.deflate
//	uadkctl doctor --strict
//	uadkctl cdi generate
package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Nativu5/uadk-go/pkg/adapter"
	"github.com/Nativu5/uadk-go/pkg/cdi"
	"github.com/Nativu5/uadk-go/pkg/discover"
	"github.com/Nativu5/uadk-go/pkg/doctor"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/drivers"
	"github.com/Nativu5/uadk-go/pkg/metrics"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/uacce"
)

// Exit codes following CLI conventions.
const (
	exitOK           = 0
	exitRuntimeError = 1
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeError)
	}
	os.Exit(exitOK)
}

// rootCmd builds the top-level cobra command tree.
func rootCmd() *cobra.Command {
	var (
		logLevel  string
		classDir  string
		devDir    string
		moduleDir string
	)

	root := &cobra.Command{
		Use:   "uadkctl",
		Short: "Userspace accelerator toolkit",
		Long:  "Inspect uacce accelerators, resolve drivers and workers for an algorithm, run jobs and generate CDI specs.",
		// Silence default usage on runtime errors; we handle exit codes ourselves.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := log.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			log.SetLevel(lvl)

			uacce.SysClassDir = classDir
			uacce.DevDir = devDir
			doctor.SysModuleDir = moduleDir
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	root.PersistentFlags().StringVar(&classDir, "sysfs-class", uacce.SysClassDir, "uacce sysfs class directory")
	root.PersistentFlags().StringVar(&devDir, "dev-dir", uacce.DevDir, "Directory holding accelerator character devices")
	root.PersistentFlags().StringVar(&moduleDir, "sys-module", doctor.SysModuleDir, "Loaded kernel modules directory")
	_ = root.PersistentFlags().MarkHidden("sys-module")

	root.AddCommand(
		newListCmd(),
		newSelectCmd(),
		newDriversCmd(),
		newWorkersCmd(),
		newRunCmd(),
		newExporterCmd(),
		newDoctorCmd(),
		newCDICmd(),
		newVersionCmd(),
	)

	return root
}

// stack is the catalog and registry a command operates on.
type stack struct {
	catalog  *uacce.Catalog
	registry *registry.Registry
}

// newStack registers the builtin backends. Hardware drivers whose
// algorithm no device serves are registered unavailable. level, when not
// nil, is passed to the software backends; collector, when not nil,
// observes device selection and queue lifetimes.
func newStack(level *int, collector *metrics.Collector) *stack {
	cat := uacce.NewCatalog(nil)
	reg := registry.New(registry.WithDeviceProbe(func(alg string) bool {
		devs, err := cat.Scan(alg)
		return err == nil && len(devs) > 0
	}))

	hw := map[string]interface{}{driverapi.ConfigSelector: cat}
	if collector != nil {
		hw[driverapi.ConfigObserver] = collector
	}
	conf := map[string]map[string]interface{}{"hwqueue": hw}
	if level != nil {
		conf["swdeflate"] = map[string]interface{}{driverapi.ConfigLevel: *level}
		conf["swlz4"] = map[string]interface{}{driverapi.ConfigLevel: *level}
	}

	// Failed backends are logged by RegisterAll; the others stay usable.
	_ = drivers.RegisterAll(reg, drivers.Builtin(), conf)
	return &stack{catalog: cat, registry: reg}
}

// ──────────────────────────────────────────────
//  list
// ──────────────────────────────────────────────

func newListCmd() *cobra.Command {
	var (
		alg    string
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uacce accelerators and their live queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := discover.Devices(uacce.NewCatalog(nil), alg)
			if err != nil {
				return fmt.Errorf("device discovery failed: %w", err)
			}

			switch output {
			case "json":
				return discover.PrintDevicesJSON(cmd.OutOrStdout(), devices)
			default:
				discover.PrintDevices(cmd.OutOrStdout(), devices)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Only list devices serving this algorithm")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table|json)")

	return cmd
}

// ──────────────────────────────────────────────
//  select
// ──────────────────────────────────────────────

func newSelectCmd() *cobra.Command {
	var alg string

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print the device a new queue for an algorithm would open",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := uacce.NewCatalog(nil).SelectBest(alg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s numa=%d\n", dev.Name(), dev.CharDevPath, dev.NUMANode)
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Algorithm name (e.g. zlib)")
	_ = cmd.MarkFlagRequired("alg")

	return cmd
}

// ──────────────────────────────────────────────
//  drivers
// ──────────────────────────────────────────────

func newDriversCmd() *cobra.Command {
	var (
		alg    string
		output string
	)

	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "Show the driver registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := newStack(nil, nil)

			entries := st.registry.Entries()
			if alg != "" {
				kept := entries[:0]
				for _, e := range entries {
					if e.Driver.Alg == alg {
						kept = append(kept, e)
					}
				}
				entries = kept
			}

			switch output {
			case "json":
				return discover.PrintDriversJSON(cmd.OutOrStdout(), entries)
			default:
				discover.PrintDrivers(cmd.OutOrStdout(), entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Only show drivers for this algorithm")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table|json)")

	return cmd
}

// ──────────────────────────────────────────────
//  workers
// ──────────────────────────────────────────────

func newWorkersCmd() *cobra.Command {
	var (
		alg      string
		capacity int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Show the worker pool the adapter builds for an algorithm",
		Long:  "Show the worker pool the adapter builds for an algorithm. Drivers listed in the file named by $UADK_CONF take precedence over the registry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := newStack(nil, nil)

			a, err := adapter.New(st.registry, adapter.WithCapacity(capacity))
			if err != nil {
				return err
			}
			if err := a.AddWorkers(alg); err != nil {
				return err
			}

			switch output {
			case "json":
				return discover.PrintWorkersJSON(cmd.OutOrStdout(), a)
			default:
				discover.PrintWorkers(cmd.OutOrStdout(), a)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Algorithm name (e.g. deflate)")
	cmd.Flags().IntVar(&capacity, "capacity", adapter.DefaultCapacity, "Maximum number of workers")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table|json)")
	_ = cmd.MarkFlagRequired("alg")

	return cmd
}

// ──────────────────────────────────────────────
//  doctor
// ──────────────────────────────────────────────

func newDoctorCmd() *cobra.Command {
	var (
		devices  []string
		strict   bool
		showPass bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run environment diagnostics for accelerator readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := newStack(nil, nil)
			d := &doctor.Doctor{Catalog: st.catalog, Registry: st.registry}
			report := d.Run(devices...)

			switch output {
			case "json":
				if err := doctor.PrintJSON(cmd.OutOrStdout(), report, showPass); err != nil {
					return err
				}
			default:
				doctor.PrintTable(cmd.OutOrStdout(), report, showPass)
			}

			// Exit code strategy
			if report.HasFail {
				return fmt.Errorf("doctor: one or more checks failed")
			}
			if strict && report.HasWarn {
				return fmt.Errorf("doctor: warnings reported in strict mode")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&devices, "device", nil, "Only check these devices (e.g. hisi_zip-0)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero on warnings")
	cmd.Flags().BoolVar(&showPass, "show-pass", false, "Show passed checks in output")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table|json)")

	return cmd
}

// ──────────────────────────────────────────────
//  cdi
// ──────────────────────────────────────────────

func newCDICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cdi",
		Short: "Manage CDI spec files for accelerator devices",
	}
	cmd.AddCommand(newCDIGenerateCmd(), newCDICleanupCmd())
	return cmd
}

func newCDIGenerateCmd() *cobra.Command {
	var (
		alg        string
		devices    []string
		kind       string
		outputDir  string
		format     string
		mountSysfs bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a CDI spec exposing accelerator devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := cdiDevices(uacce.NewCatalog(nil), alg, devices)
			if err != nil {
				return fmt.Errorf("device discovery failed: %w", err)
			}
			if len(devs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accelerator devices found.")
				return nil
			}

			opts := cdi.Options{Kind: kind, Format: format, MountSysfs: mountSysfs}
			spec, err := cdi.BuildSpec(devs, opts)
			if err != nil {
				return fmt.Errorf("CDI spec generation failed: %w", err)
			}
			path, err := cdi.WriteSpec(spec, outputDir, format)
			if err != nil {
				return fmt.Errorf("CDI spec generation failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "CDI spec written to %s\n", path)
			for _, name := range cdi.QualifiedNames(spec) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Only include devices serving this algorithm")
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Only include these devices (e.g. hisi_zip-0)")
	cmd.Flags().StringVar(&kind, "kind", cdi.DefaultKind, "CDI kind (vendor/class)")
	cmd.Flags().StringVar(&outputDir, "output-dir", cdi.DefaultOutputDir, "Output directory for CDI spec files")
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (json|yaml)")
	cmd.Flags().BoolVar(&mountSysfs, "mount-sysfs", false, "Bind-mount each device's sysfs directory read-only")

	cmd.MarkFlagsMutuallyExclusive("alg", "device")

	return cmd
}

// cdiDevices resolves the devices a spec should expose: the named ones,
// those serving alg, or every device. Isolated devices are skipped.
func cdiDevices(cat *uacce.Catalog, alg string, names []string) ([]*types.Device, error) {
	if len(names) > 0 {
		devs := make([]*types.Device, 0, len(names))
		for _, name := range names {
			dev, err := cat.Lookup(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			devs = append(devs, dev)
		}
		return devs, nil
	}
	if alg != "" {
		return cat.Scan(alg)
	}
	return cat.ScanAll()
}

func newCDICleanupCmd() *cobra.Command {
	var (
		kind      string
		all       bool
		outputDir string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove CDI spec files created by this tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				kind = ""
			}
			removed, err := cdi.CleanupSpecs(outputDir, kind, dryRun)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching spec files found.")
				return nil
			}
			action := "Removed"
			if dryRun {
				action = "Would remove"
			}
			for _, f := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", action, f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", cdi.DefaultKind, "CDI kind to match")
	cmd.Flags().BoolVar(&all, "all", false, "Remove specs of every kind written by this tool")
	cmd.Flags().StringVar(&outputDir, "output-dir", cdi.DefaultOutputDir, "CDI spec directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview files that would be removed")

	cmd.MarkFlagsMutuallyExclusive("kind", "all")

	return cmd
}

// ──────────────────────────────────────────────
//  version
// ──────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uadkctl %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
