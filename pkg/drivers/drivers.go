// Package drivers lists the backends compiled into uadk-go.
package drivers

import (
	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/drivers/hwqueue"
	"github.com/Nativu5/uadk-go/pkg/drivers/swdeflate"
	"github.com/Nativu5/uadk-go/pkg/drivers/swlz4"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

// Initializer names a backend and the function registering it.
type Initializer struct {
	// InitFn registers the backend's drivers.
	InitFn driverapi.InitFunc
	// Name identifies the backend in logs and configuration.
	Name string
}

// Builtin returns the compiled-in backends. Software backends come first
// so hardware drivers can pick them as fallbacks.
func Builtin() []Initializer {
	return []Initializer{
		{swdeflate.Init, "swdeflate"},
		{swlz4.Init, "swlz4"},
		{hwqueue.Init, "hwqueue"},
	}
}

// RegisterAll runs every initializer against reg. config is keyed by
// backend name. A failing backend is logged and skipped; the error
// returned is the last such failure.
func RegisterAll(reg *registry.Registry, inits []Initializer, config map[string]map[string]interface{}) error {
	var lastErr error
	for _, in := range inits {
		if err := in.InitFn(reg, config[in.Name]); err != nil {
			log.Errorf("drivers: %s failed to initialize: %v", in.Name, err)
			lastErr = err
		}
	}
	return lastErr
}
