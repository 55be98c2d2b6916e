package cdi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigs.k8s.io/yaml"
	cdiSpecs "tags.cncf.io/container-device-interface/specs-go"

	"github.com/Nativu5/uadk-go/pkg/types"
)

func sampleDevices() []*types.Device {
	return []*types.Device{
		{Root: "/sys/class/uacce/hisi_zip-1", CharDevPath: "/dev/hisi_zip-1", Algorithms: "deflate"},
		{Root: "/sys/class/uacce/hisi_zip-0", CharDevPath: "/dev/hisi_zip-0", Algorithms: "deflate\nzlib"},
	}
}

func TestSpecFileName(t *testing.T) {
	tests := []struct {
		kind   string
		format string
		want   string
	}{
		{"uadk.io/accel", "yaml", "uadk-cdi_uadk.io_accel.yaml"},
		{"vendor.com/zip", "json", "uadk-cdi_vendor.com_zip.json"},
	}
	for _, tc := range tests {
		if got := SpecFileName(tc.kind, tc.format); got != tc.want {
			t.Errorf("SpecFileName(%q, %q) = %q, want %q", tc.kind, tc.format, got, tc.want)
		}
	}
}

func TestBuildSpec(t *testing.T) {
	spec, err := BuildSpec(sampleDevices(), Options{})
	if err != nil {
		t.Fatalf("BuildSpec failed: %v", err)
	}
	if spec.Kind != DefaultKind {
		t.Errorf("kind = %q, want %q", spec.Kind, DefaultKind)
	}
	if len(spec.Devices) != 3 {
		t.Fatalf("expected 2 devices plus %q, got %d", AllDevice, len(spec.Devices))
	}

	names := []string{spec.Devices[0].Name, spec.Devices[1].Name, spec.Devices[2].Name}
	want := []string{"hisi_zip-0", "hisi_zip-1", AllDevice}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("device %d = %q, want %q", i, names[i], want[i])
		}
	}

	node := spec.Devices[0].ContainerEdits.DeviceNodes[0]
	if node.Path != "/dev/hisi_zip-0" || node.Permissions != "rw" {
		t.Errorf("unexpected device node: %+v", node)
	}
	if len(spec.Devices[0].ContainerEdits.Mounts) != 0 {
		t.Error("sysfs mounts should be off by default")
	}
	if got := len(spec.Devices[2].ContainerEdits.DeviceNodes); got != 2 {
		t.Errorf("%q device should carry every node, got %d", AllDevice, got)
	}
}

func TestBuildSpec_MountSysfs(t *testing.T) {
	spec, err := BuildSpec(sampleDevices(), Options{MountSysfs: true})
	if err != nil {
		t.Fatalf("BuildSpec failed: %v", err)
	}
	mounts := spec.Devices[0].ContainerEdits.Mounts
	if len(mounts) != 1 || mounts[0].HostPath != "/sys/class/uacce/hisi_zip-0" {
		t.Fatalf("unexpected mounts: %+v", mounts)
	}
	if strings.Join(mounts[0].Options, ",") != "ro,bind" {
		t.Errorf("mount options = %v", mounts[0].Options)
	}
	if got := len(spec.Devices[2].ContainerEdits.Mounts); got != 2 {
		t.Errorf("%q device should carry every mount, got %d", AllDevice, got)
	}
}

func TestBuildSpec_Errors(t *testing.T) {
	if _, err := BuildSpec(nil, Options{}); err == nil {
		t.Error("expected error for empty device list")
	}
	for _, kind := range []string{"accel", "uadk.io/", "-bad/accel"} {
		if _, err := BuildSpec(sampleDevices(), Options{Kind: kind}); err == nil {
			t.Errorf("expected error for kind %q", kind)
		}
	}
}

func TestQualifiedNames(t *testing.T) {
	spec, err := BuildSpec(sampleDevices(), Options{Kind: "vendor.com/zip"})
	if err != nil {
		t.Fatal(err)
	}
	got := QualifiedNames(spec)
	want := []string{"vendor.com/zip=hisi_zip-0", "vendor.com/zip=hisi_zip-1", "vendor.com/zip=all"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("QualifiedNames = %v, want %v", got, want)
	}
}

func TestGenerate_YAML(t *testing.T) {
	dir := t.TempDir()
	path, err := Generate(sampleDevices(), dir, Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if filepath.Base(path) != "uadk-cdi_uadk.io_accel.yaml" {
		t.Errorf("unexpected file name %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read generated file: %v", err)
	}
	var spec cdiSpecs.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("generated file is not valid YAML: %v", err)
	}
	if spec.Kind != DefaultKind || len(spec.Devices) != 3 {
		t.Errorf("unexpected spec: kind=%s devices=%d", spec.Kind, len(spec.Devices))
	}
}

func TestGenerate_JSON(t *testing.T) {
	dir := t.TempDir()
	path, err := Generate(sampleDevices(), dir, Options{Kind: "vendor.com/zip", Format: "json"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generated file is not valid JSON: %v", err)
	}
	if parsed["kind"] != "vendor.com/zip" {
		t.Errorf("expected kind=vendor.com/zip, got %v", parsed["kind"])
	}
}

func TestGenerate_InvalidFormat(t *testing.T) {
	dir := t.TempDir()
	_, err := Generate(sampleDevices(), dir, Options{Format: "xml"})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("nothing should be written on error, found %d file(s)", len(entries))
	}
}

// ──────────────────────────────────────────────
//  CleanupSpecs: safety boundary
// ──────────────────────────────────────────────

func seedCleanupDir(t *testing.T, dir string) {
	t.Helper()
	files := []string{
		"uadk-cdi_uadk.io_accel.yaml",
		"uadk-cdi_uadk.io_accel.json",
		"uadk-cdi_vendor.com_zip.yaml",
		// Not ours.
		"nvidia-cdi_uadk.io_accel.yaml",
		"other-tool.json",
		"uadk-cdi_uadk.io_accel.bak",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("test"), 0644); err != nil {
			t.Fatalf("cannot seed file %s: %v", f, err)
		}
	}
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestCleanupSpecs_Kind(t *testing.T) {
	dir := t.TempDir()
	seedCleanupDir(t, dir)

	removed, err := CleanupSpecs(dir, DefaultKind, false)
	if err != nil {
		t.Fatalf("CleanupSpecs failed: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("expected 2 removed files, got %v", removed)
	}
	for _, f := range []string{"uadk-cdi_vendor.com_zip.yaml", "nvidia-cdi_uadk.io_accel.yaml", "other-tool.json", "uadk-cdi_uadk.io_accel.bak"} {
		if !exists(dir, f) {
			t.Errorf("file %q should not have been removed", f)
		}
	}
}

func TestCleanupSpecs_All(t *testing.T) {
	dir := t.TempDir()
	seedCleanupDir(t, dir)

	removed, err := CleanupSpecs(dir, "", false)
	if err != nil {
		t.Fatalf("CleanupSpecs failed: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("expected 3 removed files, got %v", removed)
	}
	for _, f := range []string{"nvidia-cdi_uadk.io_accel.yaml", "other-tool.json", "uadk-cdi_uadk.io_accel.bak"} {
		if !exists(dir, f) {
			t.Errorf("file %q from another source was removed", f)
		}
	}
}

func TestCleanupSpecs_DryRun(t *testing.T) {
	dir := t.TempDir()
	seedCleanupDir(t, dir)

	removed, err := CleanupSpecs(dir, "", true)
	if err != nil {
		t.Fatalf("CleanupSpecs dry run failed: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("dry run should report 3 files, got %v", removed)
	}
	for _, f := range removed {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("dry run removed %s", f)
		}
	}
}

func TestCleanupSpecs_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path, err := Generate(sampleDevices(), dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	removed, err := CleanupSpecs(dir, DefaultKind, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != path {
		t.Errorf("expected %s to be removed, got %v", path, removed)
	}
}
