package drivers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/drivers/hwqueue"
	"github.com/Nativu5/uadk-go/pkg/drivers/swdeflate"
	"github.com/Nativu5/uadk-go/pkg/drivers/swlz4"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
)

type noDevice struct{}

func (noDevice) SelectBest(alg string) (*types.Device, error) {
	return nil, accelerr.New(accelerr.CodeNotFound, "select", "no device")
}

func TestBuiltin_Order(t *testing.T) {
	var names []string
	for _, in := range Builtin() {
		require.NotNil(t, in.InitFn)
		names = append(names, in.Name)
	}
	assert.Equal(t, []string{"swdeflate", "swlz4", "hwqueue"}, names)
}

func TestRegisterAll(t *testing.T) {
	reg := registry.New(registry.WithDeviceProbe(func(string) bool { return false }))
	err := RegisterAll(reg, Builtin(), map[string]map[string]interface{}{
		"hwqueue": {driverapi.ConfigSelector: noDevice{}},
	})
	require.NoError(t, err)

	for _, alg := range []string{"deflate", "zlib", "gzip", "lz4"} {
		hw := reg.Find(hwqueue.DriverName, alg, 0)
		require.NotNil(t, hw, alg)
		assert.False(t, reg.Available(hw), "%s: no device present", alg)
		require.NotNil(t, hw.Fallback, alg)
		assert.Equal(t, registry.PrioritySoft, hw.Fallback.Priority)
	}
	assert.NotNil(t, reg.Find(swlz4.DriverName, "lz4", 0))
	assert.NotNil(t, reg.Find(swdeflate.DriverName, "gzip", 0))

	got, err := reg.Request("deflate", false)
	require.NoError(t, err)
	assert.Equal(t, swdeflate.DriverName, got.Name)
}

func TestRegisterAll_ContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	reg := registry.New()
	inits := []Initializer{
		{func(*registry.Registry, map[string]interface{}) error { return boom }, "broken"},
		{swlz4.Init, "swlz4"},
	}
	err := RegisterAll(reg, inits, nil)
	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, reg.Find(swlz4.DriverName, "lz4", 0))
}
