// Package hwqueue is the generic hardware backend. Each driver owns one
// queue on the best device for its algorithm: Init selects the device,
// opens a context, maps its regions and starts the queue.
//
// The backend knows no command encodings. Compression jobs go to the
// driver's Fallback when one is set; raw commands are forwarded to the
// queue as driverapi.CmdMsg.
package hwqueue

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
	"github.com/Nativu5/uadk-go/pkg/uacce"
)

const (
	DriverName = "uacce_hw"

	// DefaultWaitTimeout bounds a completion poll, in milliseconds.
	DefaultWaitTimeout = 1000
)

// DefaultAlgorithms are registered when no "algs" option is given.
var DefaultAlgorithms = []string{"deflate", "zlib", "gzip", "lz4"}

// Selector picks the device a queue is opened on.
type Selector interface {
	SelectBest(alg string) (*types.Device, error)
}

// Observer receives device and context events.
type Observer interface {
	DeviceSelected(alg string, dev *types.Device, err error)
	ContextOpened()
	ContextClosed()
}

type ops struct {
	sel     Selector
	obs     Observer
	timeout int

	mu   sync.Mutex
	open int
}

// Init registers one hardware driver per algorithm. Each driver falls
// back to the first lower-priority driver already registered for the
// same algorithm, so software backends should be initialized first.
func Init(reg *registry.Registry, config map[string]interface{}) error {
	sel, _ := config[driverapi.ConfigSelector].(Selector)
	if sel == nil {
		sel = uacce.NewCatalog(nil)
	}
	obs, _ := config[driverapi.ConfigObserver].(Observer)

	o := &ops{
		sel:     sel,
		obs:     obs,
		timeout: driverapi.IntOption(config, driverapi.ConfigWaitTimeout, DefaultWaitTimeout),
	}
	for _, alg := range driverapi.StringsOption(config, driverapi.ConfigAlgs, DefaultAlgorithms) {
		drv := &registry.Driver{
			Name:     DriverName,
			Alg:      alg,
			Priority: registry.PriorityHW,
			QueueNum: 1,
			Fallback: fallbackFor(reg, alg),
			Ops:      o,
		}
		if err := reg.Register(drv); err != nil {
			log.Errorf("%s: error registering driver for %s: %v", DriverName, alg, err)
			return err
		}
	}
	return nil
}

func fallbackFor(reg *registry.Registry, alg string) *registry.Driver {
	for i := 0; ; i++ {
		d := reg.Find("", alg, i)
		if d == nil {
			return nil
		}
		if d.Priority < registry.PriorityHW {
			return d
		}
	}
}

// Context returns the queue opened by drv's Init, or nil.
func Context(drv *registry.Driver) *accelctx.Context {
	if drv == nil {
		return nil
	}
	ctx, _ := drv.Priv.(*accelctx.Context)
	return ctx
}

// Init opens and starts the driver's queue. It is a no-op when the queue
// is already open. conf is unused.
func (o *ops) Init(drv *registry.Driver, conf interface{}) error {
	if Context(drv) != nil {
		return nil
	}

	dev, err := o.sel.SelectBest(drv.Alg)
	if o.obs != nil {
		o.obs.DeviceSelected(drv.Alg, dev, err)
	}
	if err != nil {
		return err
	}

	ctx, err := accelctx.Open(dev)
	if err != nil {
		return err
	}
	if o.obs != nil {
		o.obs.ContextOpened()
	}

	for _, r := range []types.RegionType{types.RegionMMIO, types.RegionDUS} {
		if _, err := ctx.Map(r); err != nil {
			o.release(ctx, false)
			return err
		}
	}
	if _, err := ctx.Start(); err != nil {
		o.release(ctx, false)
		return err
	}

	drv.Priv = ctx
	o.mu.Lock()
	o.open++
	o.mu.Unlock()
	log.Infof("%s: %s queue started on %s", DriverName, drv.Alg, ctx.DeviceName())
	return nil
}

// Exit stops and closes the driver's queue.
func (o *ops) Exit(drv *registry.Driver) {
	ctx := Context(drv)
	if ctx == nil {
		return
	}
	drv.Priv = nil
	o.release(ctx, true)

	o.mu.Lock()
	o.open--
	o.mu.Unlock()
}

func (o *ops) release(ctx *accelctx.Context, started bool) {
	if started {
		// failures are logged by ForceRelease
		_, _ = ctx.ForceRelease()
	}
	if err := ctx.Close(); err != nil {
		log.Errorf("%s: closing %s: %v", DriverName, ctx.Path(), err)
	}
	if o.obs != nil {
		o.obs.ContextClosed()
	}
}

// Usage returns the number of queues this backend holds open.
func (o *ops) Usage(param interface{}) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open, nil
}

// Send forwards msg. A nil q selects the driver's own queue.
func (o *ops) Send(drv *registry.Driver, q *accelctx.Context, msg interface{}) error {
	switch m := msg.(type) {
	case *driverapi.CmdMsg:
		if q == nil {
			q = Context(drv)
		}
		if q == nil {
			return accelerr.New(accelerr.CodeInvalidArgument, "send", "%s queue for %s is not initialized", DriverName, drv.Alg)
		}
		ret, err := q.IssueCommand(m.Opcode, m.Arg)
		m.Result, m.Done = ret, false
		return err
	case *driverapi.CompMsg:
		if drv.Fallback == nil {
			return accelerr.New(accelerr.CodeNotSupported, "send", "%s has no %s encoding", DriverName, drv.Alg)
		}
		log.Debugf("%s: %s job delegated to %s", DriverName, drv.Alg, drv.Fallback.Name)
		return drv.Fallback.Send(nil, m)
	default:
		return accelerr.New(accelerr.CodeInvalidArgument, "send", "unsupported message %T", msg)
	}
}

// Recv waits for the queue to signal completion of a command.
func (o *ops) Recv(drv *registry.Driver, q *accelctx.Context, msg interface{}) error {
	switch m := msg.(type) {
	case *driverapi.CmdMsg:
		if q == nil {
			q = Context(drv)
		}
		if q == nil {
			return accelerr.New(accelerr.CodeInvalidArgument, "recv", "%s queue for %s is not initialized", DriverName, drv.Alg)
		}
		n, err := q.Wait(o.timeout)
		if err != nil {
			return err
		}
		if n == 0 {
			return accelerr.New(accelerr.CodeUnavailable, "recv", "no completion within %dms", o.timeout)
		}
		m.Done = true
		return nil
	case *driverapi.CompMsg:
		if drv.Fallback == nil {
			return accelerr.New(accelerr.CodeNotSupported, "recv", "%s has no %s encoding", DriverName, drv.Alg)
		}
		return drv.Fallback.Recv(nil, m)
	default:
		return accelerr.New(accelerr.CodeInvalidArgument, "recv", "unsupported message %T", msg)
	}
}
