package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/config"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

type nopOps struct{}

func (nopOps) Init(*registry.Driver, interface{}) error { return nil }
func (nopOps) Exit(*registry.Driver) {}
func (nopOps) Usage(interface{}) (int, error) { return 0, nil }

func (nopOps) Send(*registry.Driver, *accelctx.Context, interface{}) error { return nil }
func (nopOps) Recv(*registry.Driver, *accelctx.Context, interface{}) error { return nil }

type recorder struct {
	chosen   []string
	switches [][2]string
}

func (r *recorder) WorkerChosen(alg, driver string) { r.chosen = append(r.chosen, driver) }
func (r *recorder) WorkerSwitched(alg, from, to string) {
	r.switches = append(r.switches, [2]string{from, to})
}

func newRegistry(t *testing.T, drivers ...*registry.Driver) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, d := range drivers {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func drv(name, alg string, prio registry.Priority) *registry.Driver {
	return &registry.Driver{Name: name, Alg: alg, Priority: prio, Ops: nopOps{}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, accelerr.ErrInvalidArgument)

	_, err = New(registry.New(), WithCapacity(0))
	assert.ErrorIs(t, err, accelerr.ErrInvalidArgument)

	a, err := New(registry.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, a.Capacity())
	assert.Equal(t, 0, a.Len())
}

func TestAddWorkers_SortsByPriority(t *testing.T) {
	reg := newRegistry(t,
		drv("deflate_sw", "deflate", registry.PrioritySoft),
		drv("deflate_ce", "deflate", registry.PriorityCEInstr),
		drv("hisi_zip", "deflate", registry.PriorityHW),
		drv("hisi_sec2", "sm4", registry.PriorityHW),
	)
	a, err := New(reg, WithConfig(nil))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))

	ws := a.Workers()
	require.Len(t, ws, 3)
	for i := 1; i < len(ws); i++ {
		assert.GreaterOrEqual(t, ws[i-1].Driver.Priority, ws[i].Driver.Priority)
	}
	for i, w := range ws {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, "deflate", w.Driver.Alg)
	}
	assert.Equal(t, "hisi_zip", ws[0].Driver.Name)
}

func TestAddWorkers_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	reg := newRegistry(t,
		drv("a", "lz4", registry.PrioritySoft),
		drv("b", "lz4", registry.PrioritySoft),
		drv("c", "lz4", registry.PriorityHW),
	)
	a, err := New(reg, WithConfig(nil))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("lz4"))

	var names []string
	for _, w := range a.Workers() {
		names = append(names, w.Driver.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestAddWorkers_Capacity(t *testing.T) {
	var drivers []*registry.Driver
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		drivers = append(drivers, drv(n, "deflate", registry.PrioritySoft))
	}
	reg := newRegistry(t, drivers...)

	for _, capacity := range []int{1, 2, 4} {
		a, err := New(reg, WithCapacity(capacity), WithConfig(nil))
		require.NoError(t, err)
		require.NoError(t, a.AddWorkers("deflate"))
		assert.Equal(t, capacity, a.Len())
	}
}

func TestAddWorkers_NoDrivers(t *testing.T) {
	reg := newRegistry(t, drv("hisi_sec2", "sm4", registry.PriorityHW))
	a, err := New(reg, WithConfig(nil))
	require.NoError(t, err)

	err = a.AddWorkers("deflate")
	assert.ErrorIs(t, err, accelerr.ErrNotFound)
	assert.Equal(t, 0, a.Len())

	assert.ErrorIs(t, a.AddWorkers(""), accelerr.ErrInvalidArgument)
}

func TestAddWorkers_ConfigIsAuthoritative(t *testing.T) {
	reg := newRegistry(t,
		drv("hisi_zip", "deflate", registry.PriorityHW),
		drv("deflate_sw", "deflate", registry.PrioritySoft),
	)
	cfg := &config.Adapter{Mode: 1, Drivers: []string{"deflate_sw"}}
	a, err := New(reg, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))

	require.Equal(t, 1, a.Len(), "configured drivers replace the registry scan")
	assert.Equal(t, "deflate_sw", a.Workers()[0].Driver.Name)
	assert.Equal(t, ModeRoundRobin, a.Mode())
}

func TestAddWorkers_ConfigOrderKept(t *testing.T) {
	reg := newRegistry(t,
		drv("hisi_zip", "deflate", registry.PriorityHW),
		drv("deflate_sw", "deflate", registry.PrioritySoft),
	)
	cfg := &config.Adapter{Drivers: []string{"deflate_sw", "nonexistent", "hisi_zip"}}
	a, err := New(reg, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))

	ws := a.Workers()
	require.Len(t, ws, 2)
	assert.Equal(t, "deflate_sw", ws[0].Driver.Name)
	assert.Equal(t, "hisi_zip", ws[1].Driver.Name)
}

func TestAddWorkers_UnresolvedConfigFallsBack(t *testing.T) {
	reg := newRegistry(t,
		drv("deflate_sw", "deflate", registry.PrioritySoft),
		drv("hisi_zip", "deflate", registry.PriorityHW),
	)
	cfg := &config.Adapter{Drivers: []string{"nonexistent"}}
	a, err := New(reg, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))

	require.Equal(t, 2, a.Len())
	assert.Equal(t, "hisi_zip", a.Workers()[0].Driver.Name)
}

func TestAddWorkers_ConfigFromEnv(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	reg := newRegistry(t, drv("deflate_sw", "deflate", registry.PrioritySoft))
	a, err := New(reg)
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))
	assert.Equal(t, 1, a.Len())
}

func TestAddWorkers_ModeResetsWithoutConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uadk.conf")
	require.NoError(t, os.WriteFile(path, []byte("mode=1\ndriver_name=deflate_sw\n"), 0644))
	t.Setenv(config.EnvFile, path)

	reg := newRegistry(t, drv("deflate_sw", "deflate", registry.PrioritySoft))
	a, err := New(reg)
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))
	require.Equal(t, ModeRoundRobin, a.Mode())

	require.NoError(t, os.Remove(path))
	require.NoError(t, a.AddWorkers("deflate"))
	assert.Equal(t, ModePrimary, a.Mode(), "mode from a vanished config must not persist")
	assert.Equal(t, 1, a.Len())
}

func TestChooseWorker(t *testing.T) {
	reg := newRegistry(t,
		drv("deflate_sw", "deflate", registry.PrioritySoft),
		drv("hisi_zip", "deflate", registry.PriorityHW),
	)
	rec := &recorder{}
	a, err := New(reg, WithConfig(nil), WithObserver(rec))
	require.NoError(t, err)

	_, err = a.ChooseWorker(TaskMix)
	assert.ErrorIs(t, err, accelerr.ErrUnavailable)

	require.NoError(t, a.AddWorkers("deflate"))
	for _, task := range []TaskType{TaskMix, TaskHW, TaskInstr} {
		w, err := a.ChooseWorker(task)
		require.NoError(t, err)
		assert.Same(t, a.Workers()[0], w)
		assert.True(t, w.Valid)
	}
	assert.Equal(t, []string{"hisi_zip", "hisi_zip", "hisi_zip"}, rec.chosen)
}

func TestSwitchWorker_ThreeWorkers(t *testing.T) {
	reg := newRegistry(t,
		drv("hw", "deflate", registry.PriorityHW),
		drv("ce", "deflate", registry.PriorityCEInstr),
		drv("sw", "deflate", registry.PrioritySoft),
	)
	rec := &recorder{}
	a, err := New(reg, WithConfig(nil), WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))
	ws := a.Workers()

	next, err := a.SwitchWorker(ws[0], true)
	require.NoError(t, err)
	assert.Same(t, ws[1], next)

	prev, err := a.SwitchWorker(ws[0], false)
	require.NoError(t, err)
	assert.Same(t, ws[2], prev)

	wrapped, err := a.SwitchWorker(ws[2], true)
	require.NoError(t, err)
	assert.Same(t, ws[0], wrapped)

	back, err := a.SwitchWorker(ws[2], false)
	require.NoError(t, err)
	assert.Same(t, ws[1], back)

	assert.Equal(t, [2]string{"hw", "ce"}, rec.switches[0])
	assert.Len(t, rec.switches, 4)
}

func TestSwitchWorker_SingleWorker(t *testing.T) {
	reg := newRegistry(t, drv("sw", "deflate", registry.PrioritySoft))
	a, err := New(reg, WithConfig(nil))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))
	w, err := a.ChooseWorker(TaskMix)
	require.NoError(t, err)

	for _, next := range []bool{true, false} {
		got, err := a.SwitchWorker(w, next)
		require.NoError(t, err)
		assert.Same(t, w, got)
	}
}

func TestSwitchWorker_ForeignWorker(t *testing.T) {
	reg := newRegistry(t, drv("sw", "deflate", registry.PrioritySoft))
	a, err := New(reg, WithConfig(nil))
	require.NoError(t, err)
	require.NoError(t, a.AddWorkers("deflate"))

	_, err = a.SwitchWorker(nil, true)
	assert.ErrorIs(t, err, accelerr.ErrInvalidArgument)

	_, err = a.SwitchWorker(&Worker{Index: 0}, true)
	assert.ErrorIs(t, err, accelerr.ErrInvalidArgument)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "primary", ModePrimary.String())
	assert.Equal(t, "round-robin", ModeRoundRobin.String())
	assert.Equal(t, "unknown", Mode(7).String())
}
