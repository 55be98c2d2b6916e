// Package uaccetest builds fake uacce sysfs trees for tests.
package uaccetest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Nativu5/uadk-go/pkg/uacce"
)

// Device describes one fake accelerator.
type Device struct {
	Name       string
	Algorithms []string
	NUMANode   int
	Available  int
	Isolated   bool
	MMIO, DUS  int
	// NoNode omits the /dev entry.
	NoNode bool
}

// Sysfs creates a class directory and a dev directory under a temp root,
// points uacce.SysClassDir and uacce.DevDir at them for the rest of the
// test and returns the root. Device nodes are regular files.
func Sysfs(t testing.TB, devs ...Device) string {
	t.Helper()
	origClass, origDev := uacce.SysClassDir, uacce.DevDir
	t.Cleanup(func() { uacce.SysClassDir, uacce.DevDir = origClass, origDev })

	root := t.TempDir()
	uacce.SysClassDir = filepath.Join(root, "sys", "class", "uacce")
	uacce.DevDir = filepath.Join(root, "dev")
	mkdir(t, uacce.SysClassDir)
	mkdir(t, uacce.DevDir)

	for _, d := range devs {
		Add(t, d)
	}
	return root
}

// Add places d into the tree created by Sysfs.
func Add(t testing.TB, d Device) {
	t.Helper()
	dir := filepath.Join(uacce.SysClassDir, d.Name)
	mkdir(t, filepath.Join(dir, "device"))

	algs := ""
	for _, a := range d.Algorithms {
		algs += a + "\n"
	}
	isolate := "0"
	if d.Isolated {
		isolate = "1"
	}
	for attr, val := range map[string]string{
		"flags":               "1",
		"api":                 "hisi_qm_v2",
		"algorithms":          algs,
		"region_mmio_size":    strconv.Itoa(d.MMIO),
		"region_dus_size":     strconv.Itoa(d.DUS),
		"device/numa_node":    strconv.Itoa(d.NUMANode),
		"available_instances": strconv.Itoa(d.Available),
		"isolate":             isolate,
	} {
		write(t, filepath.Join(dir, attr), val+"\n")
	}
	if !d.NoNode {
		write(t, filepath.Join(uacce.DevDir, d.Name), "")
	}
}

func mkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func write(t testing.TB, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
