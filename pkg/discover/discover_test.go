package discover

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/adapter"
	"github.com/Nativu5/uadk-go/pkg/metrics"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/uacce"
	"github.com/Nativu5/uadk-go/pkg/uacce/uaccetest"
)

func sampleDevices() []DeviceInfo {
	return []DeviceInfo{
		{
			Device: &types.Device{
				Root:        "/sys/class/uacce/hisi_zip-0",
				CharDevPath: "/dev/hisi_zip-0",
				Flags:       types.FlagSVA,
				API:         "hisi_qm_v2",
				Algorithms:  "zlib\ngzip\ndeflate",
				RegionSize:  [types.RegionMax]uint64{16384, 1 << 20},
				NUMANode:    0,
			},
			Available: 7,
		},
		{
			Device: &types.Device{
				Root:        "/sys/class/uacce/hisi_sec2-1",
				CharDevPath: "/dev/hisi_sec2-1",
				NUMANode:    -1,
			},
			Available: -1,
		},
	}
}

type nopOps struct{}

func (nopOps) Init(*registry.Driver, interface{}) error { return nil }
func (nopOps) Exit(*registry.Driver) {}
func (nopOps) Usage(interface{}) (int, error) { return 0, nil }

func (nopOps) Send(*registry.Driver, *accelctx.Context, interface{}) error { return nil }
func (nopOps) Recv(*registry.Driver, *accelctx.Context, interface{}) error { return nil }

func sampleRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	sw := &registry.Driver{Name: "deflate_sw", Alg: "deflate", Priority: registry.PrioritySoft, Ops: nopOps{}}
	hw := &registry.Driver{Name: "uacce_hw", Alg: "deflate", Priority: registry.PriorityHW, Fallback: sw, Ops: nopOps{}}
	for _, d := range []*registry.Driver{sw, hw} {
		if err := reg.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestDevices_FromSysfs(t *testing.T) {
	uaccetest.Sysfs(t,
		uaccetest.Device{Name: "hisi_zip-0", Algorithms: []string{"deflate"}, Available: 3},
		uaccetest.Device{Name: "hisi_sec2-0", Algorithms: []string{"sm4"}, Available: 1},
	)
	cat := uacce.NewCatalog(nil)

	all, err := Devices(cat, "")
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(all))
	}

	zip, err := Devices(cat, "deflate")
	if err != nil {
		t.Fatalf("Devices(deflate): %v", err)
	}
	if len(zip) != 1 || zip[0].Device.Name() != "hisi_zip-0" || zip[0].Available != 3 {
		t.Errorf("unexpected deflate devices: %+v", zip)
	}
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	PrintDevices(&buf, sampleDevices())
	output := buf.String()

	for _, want := range []string{"DEVICE", "ALGORITHMS", "hisi_zip-0", "hisi_qm_v2", "16KiB", "1MiB", "zlib, gzip, deflate", "(unknown)"} {
		if !strings.Contains(output, want) {
			t.Errorf("table should contain %q:\n%s", want, output)
		}
	}
}

func TestPrintDevices_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintDevices(&buf, nil)
	if !strings.Contains(buf.String(), "DEVICE") {
		t.Error("empty table should still render headers")
	}
}

func TestPrintDevicesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintDevicesJSON(&buf, sampleDevices()); err != nil {
		t.Fatalf("PrintDevicesJSON failed: %v", err)
	}

	var result []DeviceJSON
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(result))
	}
	if result[0].Name != "hisi_zip-0" || !result[0].SVA || result[0].Available != 7 {
		t.Errorf("first device = %+v", result[0])
	}
	if len(result[0].Algorithms) != 3 {
		t.Errorf("first device algorithms = %v", result[0].Algorithms)
	}
	if result[1].Algorithms == nil {
		t.Error("algorithms should encode as an empty list, not null")
	}
}

func TestPrintDrivers(t *testing.T) {
	reg := sampleRegistry(t)

	var buf bytes.Buffer
	PrintDrivers(&buf, reg.Entries())
	output := buf.String()
	for _, want := range []string{"FALLBACK", "uacce_hw", "deflate_sw", "hw", "soft"} {
		if !strings.Contains(output, want) {
			t.Errorf("table should contain %q:\n%s", want, output)
		}
	}

	buf.Reset()
	if err := PrintDriversJSON(&buf, reg.Entries()); err != nil {
		t.Fatalf("PrintDriversJSON failed: %v", err)
	}
	var result []DriverJSON
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(result) != 2 || result[1].Fallback != "deflate_sw" || result[0].Fallback != "" {
		t.Errorf("unexpected drivers: %+v", result)
	}
}

func TestPrintWorkers(t *testing.T) {
	a, err := adapter.New(sampleRegistry(t), adapter.WithConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.AddWorkers("deflate"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	PrintWorkers(&buf, a)
	if !strings.Contains(buf.String(), "alg=deflate mode=primary workers=2/4") {
		t.Errorf("missing summary line:\n%s", buf.String())
	}

	buf.Reset()
	if err := PrintWorkersJSON(&buf, a); err != nil {
		t.Fatalf("PrintWorkersJSON failed: %v", err)
	}
	var result struct {
		Alg     string       `json:"alg"`
		Workers []WorkerJSON `json:"workers"`
	}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(result.Workers) != 2 || result.Workers[0].Driver != "uacce_hw" {
		t.Errorf("unexpected workers: %+v", result.Workers)
	}
}

func TestPrintMetrics(t *testing.T) {
	var buf bytes.Buffer
	PrintMetrics(&buf, []metrics.Sample{{Name: "uadk_open_contexts", Value: 2}})
	if !strings.Contains(buf.String(), "uadk_open_contexts") {
		t.Errorf("table should contain the metric name:\n%s", buf.String())
	}
}
