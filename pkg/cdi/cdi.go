// Package cdi generates CDI (Container Device Interface) spec files that
// expose accelerator character devices to containers.
package cdi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	cdiapi "tags.cncf.io/container-device-interface/pkg/cdi"
	cdiparser "tags.cncf.io/container-device-interface/pkg/parser"
	cdiSpecs "tags.cncf.io/container-device-interface/specs-go"

	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/utils"

	"sigs.k8s.io/yaml"
)

const (
	// FilePrefix is prepended to all spec files written by this tool
	// to enable safe cleanup without affecting specs from other sources.
	FilePrefix = "uadk-cdi"

	// DefaultOutputDir is the standard CDI spec directory.
	DefaultOutputDir = "/etc/cdi"

	// DefaultKind is the vendor/class of generated devices.
	DefaultKind = "uadk.io/accel"

	// AllDevice names the device that bundles every accelerator node.
	AllDevice = "all"
)

// Options controls spec generation.
type Options struct {
	Kind   string
	Format string
	// MountSysfs bind-mounts each device's sysfs directory read-only so
	// that selection inside the container sees live queue counts.
	MountSysfs bool
}

func (o Options) kind() string {
	if o.Kind == "" {
		return DefaultKind
	}
	return o.Kind
}

// SpecFileName returns the deterministic file name for a kind and format.
// Format: uadk-cdi_<vendor>_<class>.<ext>
func SpecFileName(kind, format string) string {
	return fmt.Sprintf("%s_%s.%s", FilePrefix, strings.ReplaceAll(kind, "/", "_"), format)
}

// DeviceName returns the CDI device name for dev.
func DeviceName(dev *types.Device) string {
	return utils.SanitizeName(dev.Name())
}

func validateKind(kind string) error {
	vendor, class := cdiparser.ParseQualifier(kind)
	if vendor == "" || class == "" {
		return fmt.Errorf("kind %q must be vendor/class", kind)
	}
	if err := cdiparser.ValidateVendorName(vendor); err != nil {
		return err
	}
	return cdiparser.ValidateClassName(class)
}

func deviceEdits(dev *types.Device, mountSysfs bool) cdiSpecs.ContainerEdits {
	edits := cdiSpecs.ContainerEdits{
		DeviceNodes: []*cdiSpecs.DeviceNode{{
			Path:        dev.CharDevPath,
			HostPath:    dev.CharDevPath,
			Permissions: "rw",
		}},
	}
	if mountSysfs && dev.Root != "" {
		edits.Mounts = []*cdiSpecs.Mount{{
			HostPath:      dev.Root,
			ContainerPath: dev.Root,
			Options:       []string{"ro", "bind"},
		}}
	}
	return edits
}

// BuildSpec describes one CDI device per accelerator plus an "all"
// device combining them. Devices are ordered by name.
func BuildSpec(devices []*types.Device, opts Options) (*cdiSpecs.Spec, error) {
	kind := opts.kind()
	if err := validateKind(kind); err != nil {
		return nil, fmt.Errorf("invalid CDI kind: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("spec must contain at least one device")
	}

	sorted := append([]*types.Device(nil), devices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	all := cdiSpecs.ContainerEdits{}
	cdiDevices := make([]cdiSpecs.Device, 0, len(sorted)+1)
	for _, dev := range sorted {
		name := DeviceName(dev)
		if err := cdiparser.ValidateDeviceName(name); err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.Name(), err)
		}
		edits := deviceEdits(dev, opts.MountSysfs)
		all.DeviceNodes = append(all.DeviceNodes, edits.DeviceNodes...)
		all.Mounts = append(all.Mounts, edits.Mounts...)
		cdiDevices = append(cdiDevices, cdiSpecs.Device{Name: name, ContainerEdits: edits})
	}
	cdiDevices = append(cdiDevices, cdiSpecs.Device{Name: AllDevice, ContainerEdits: all})

	return &cdiSpecs.Spec{
		Version: cdiSpecs.CurrentVersion,
		Kind:    kind,
		Devices: cdiDevices,
	}, nil
}

// WriteSpec serializes spec into outputDir, validates the written file
// with the CDI library and returns its path. An invalid file is removed.
func WriteSpec(spec *cdiSpecs.Spec, outputDir, format string) (string, error) {
	data, err := marshalSpec(spec, format)
	if err != nil {
		return "", fmt.Errorf("cannot marshal CDI spec: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create output directory %s: %w", outputDir, err)
	}

	path := filepath.Join(outputDir, SpecFileName(spec.Kind, strings.ToLower(format)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("cannot write CDI spec file %s: %w", path, err)
	}
	if _, err := cdiapi.ReadSpec(path, 0); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("generated CDI spec is invalid: %w", err)
	}

	log.Infof("CDI spec written to %s", path)
	return path, nil
}

// Generate builds and writes the spec for devices.
func Generate(devices []*types.Device, outputDir string, opts Options) (string, error) {
	log.Infof("creating CDI spec for %d accelerator(s), kind %s", len(devices), opts.kind())
	spec, err := BuildSpec(devices, opts)
	if err != nil {
		return "", err
	}
	format := opts.Format
	if format == "" {
		format = "yaml"
	}
	return WriteSpec(spec, outputDir, format)
}

// QualifiedNames returns the fully qualified CDI names a runtime accepts
// for the given spec, in spec order.
func QualifiedNames(spec *cdiSpecs.Spec) []string {
	vendor, class := cdiparser.ParseQualifier(spec.Kind)
	out := make([]string, 0, len(spec.Devices))
	for _, d := range spec.Devices {
		out = append(out, cdiparser.QualifiedName(vendor, class, d.Name))
	}
	return out
}

// CleanupSpecs removes CDI spec files created by this tool from dir.
// If kind is empty, every spec carrying FilePrefix is removed.
func CleanupSpecs(dir, kind string, dryRun bool) ([]string, error) {
	if dir == "" {
		dir = DefaultOutputDir
	}

	stem := FilePrefix + "_*"
	if kind != "" {
		stem = fmt.Sprintf("%s_%s", FilePrefix, strings.ReplaceAll(kind, "/", "_"))
	}

	var matches []string
	for _, ext := range []string{"json", "yaml"} {
		pattern := filepath.Join(dir, stem+"."+ext)
		m, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob error for pattern %s: %w", pattern, err)
		}
		matches = append(matches, m...)
	}
	return cleanupFiles(matches, dryRun)
}

func cleanupFiles(paths []string, dryRun bool) ([]string, error) {
	removed := make([]string, 0, len(paths))
	for _, p := range paths {
		if dryRun {
			log.Infof("[dry-run] would remove: %s", p)
			removed = append(removed, p)
			continue
		}
		log.Infof("removing CDI spec file: %s", p)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("cannot remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// marshalSpec serializes a CDI spec to JSON or YAML bytes.
func marshalSpec(spec *cdiSpecs.Spec, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(spec, "", "  ")
	case "yaml":
		jsonData, err := json.Marshal(spec)
		if err != nil {
			return nil, err
		}
		return yaml.JSONToYAML(jsonData)
	default:
		return nil, fmt.Errorf("unsupported format %q: use json or yaml", format)
	}
}
