// Package registry holds the algorithm backends known to the process.
//
// A Registry is constructed once by the application and handed to every
// adapter that needs it. Backends are added by an explicit Register call
// from their own initializer; nothing registers itself at import time.
// Registration is expected while backends are loaded, not on hot paths.
package registry

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelctx"
	"github.com/Nativu5/uadk-go/pkg/accelerr"
)

// Priority ranks backend classes; higher is preferred.
type Priority int

const (
	PrioritySoft     Priority = 0x0
	PriorityCEInstr  Priority = 0x1
	PrioritySVEInstr Priority = 0x2
	PriorityHW       Priority = 0x3
)

func (p Priority) String() string {
	switch p {
	case PrioritySoft:
		return "soft"
	case PriorityCEInstr:
		return "ce_instr"
	case PrioritySVEInstr:
		return "sve_instr"
	case PriorityHW:
		return "hw"
	default:
		return "unknown"
	}
}

// Ops is the execution contract of a backend.
type Ops interface {
	// Init prepares the backend; conf is backend specific.
	Init(drv *Driver, conf interface{}) error
	// Exit releases whatever Init acquired.
	Exit(drv *Driver)
	// Send submits msg on queue q. Software backends receive a nil q.
	Send(drv *Driver, q *accelctx.Context, msg interface{}) error
	// Recv collects the result of a previously sent msg.
	Recv(drv *Driver, q *accelctx.Context, msg interface{}) error
	// Usage reports backend utilization.
	Usage(param interface{}) (int, error)
}

// Driver describes one registered algorithm backend.
type Driver struct {
	Name      string
	Alg       string
	Priority  Priority
	QueueNum  int
	OpTypeNum int
	Priv      interface{}
	// Fallback is the backend to delegate to when this one cannot
	// complete a request.
	Fallback *Driver
	Ops      Ops
}

func (d *Driver) Init(conf interface{}) error { return d.Ops.Init(d, conf) }
func (d *Driver) Exit() { d.Ops.Exit(d) }

func (d *Driver) Send(q *accelctx.Context, msg interface{}) error {
	return d.Ops.Send(d, q, msg)
}

func (d *Driver) Recv(q *accelctx.Context, msg interface{}) error {
	return d.Ops.Recv(d, q, msg)
}

func (d *Driver) Usage(param interface{}) (int, error) { return d.Ops.Usage(param) }

// DeviceProbe reports whether a hardware device for alg is present.
type DeviceProbe func(alg string) bool

type entry struct {
	drv       *Driver
	available bool
	refcnt    int
}

// Entry is a read-only snapshot of a registration.
type Entry struct {
	Driver    *Driver
	Available bool
	RefCount  int
}

// Registry is the ordered collection of registered backends.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	probe   DeviceProbe
}

// Option configures a Registry.
type Option func(*Registry)

// WithDeviceProbe marks hardware backends unavailable at registration
// when probe finds no device for their algorithm.
func WithDeviceProbe(probe DeviceProbe) Option {
	return func(r *Registry) { r.probe = probe }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register appends drv. Duplicate (name, algorithm) pairs are allowed;
// lookups return the earliest.
func (r *Registry) Register(drv *Driver) error {
	if drv == nil || drv.Ops == nil {
		return accelerr.New(accelerr.CodeInvalidArgument, "register", "driver has no ops")
	}
	if drv.Name == "" || drv.Alg == "" {
		return accelerr.New(accelerr.CodeInvalidArgument, "register", "driver name and algorithm must not be empty")
	}

	e := &entry{drv: drv, available: true}
	if drv.Priority == PriorityHW && r.probe != nil && !r.probe(drv.Alg) {
		log.Warnf("registry: no device for %s, %s registered as unavailable", drv.Alg, drv.Name)
		e.available = false
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	log.Debugf("registry: registered %s for %s (priority %s)", drv.Name, drv.Alg, drv.Priority)
	return nil
}

// Unregister removes drv.
func (r *Registry) Unregister(drv *Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.drv == drv {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return accelerr.New(accelerr.CodeNotFound, "unregister", "driver is not registered")
}

// Find returns the idx-th backend for alg, optionally restricted to
// drvName, in registration order. It returns nil past the last match.
func (r *Registry) Find(drvName, alg string, idx int) *Driver {
	if alg == "" || idx < 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := 0
	for _, e := range r.entries {
		if e.drv.Alg != alg {
			continue
		}
		if drvName != "" && e.drv.Name != drvName {
			continue
		}
		if i == idx {
			return e.drv
		}
		i++
	}
	return nil
}

// Request returns the available backend for alg with the highest
// priority and takes a reference on it. With hwMask set, hardware
// backends are skipped.
func (r *Registry) Request(alg string, hwMask bool) (*Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *entry
	for _, e := range r.entries {
		if e.drv.Alg != alg || !e.available {
			continue
		}
		if hwMask && e.drv.Priority == PriorityHW {
			continue
		}
		if best == nil || e.drv.Priority > best.drv.Priority {
			best = e
		}
	}
	if best == nil {
		return nil, accelerr.New(accelerr.CodeNotFound, "request", "no available driver for %s", alg)
	}
	best.refcnt++
	return best.drv, nil
}

// Release drops a reference taken by Request.
func (r *Registry) Release(drv *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.lookup(drv); e != nil && e.refcnt > 0 {
		e.refcnt--
	}
}

// Enable makes drv eligible for Request again.
func (r *Registry) Enable(drv *Driver) { r.setAvailable(drv, true) }

// Disable hides drv from Request without unregistering it.
func (r *Registry) Disable(drv *Driver) { r.setAvailable(drv, false) }

func (r *Registry) setAvailable(drv *Driver, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.lookup(drv); e != nil {
		e.available = v
	}
}

// Available reports whether drv is registered and enabled.
func (r *Registry) Available(drv *Driver) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.lookup(drv)
	return e != nil && e.available
}

// Supports reports whether drv is registered for alg.
func (r *Registry) Supports(alg string, drv *Driver) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.drv == drv && e.drv.Alg == alg {
			return true
		}
	}
	return false
}

// RefCount returns the number of outstanding Request references on drv.
func (r *Registry) RefCount(drv *Driver) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.lookup(drv); e != nil {
		return e.refcnt
	}
	return 0
}

// Entries returns a snapshot of all registrations in order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Entry{Driver: e.drv, Available: e.available, RefCount: e.refcnt})
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// lookup must be called with r.mu held.
func (r *Registry) lookup(drv *Driver) *entry {
	for _, e := range r.entries {
		if e.drv == drv {
			return e
		}
	}
	return nil
}
