// Package adapter composes the registered backends of one algorithm into
// a small, priority-ordered pool of workers and picks which of them
// handles a task.
//
// An Adapter is owned by one algorithm instance and is not safe for
// concurrent mutation.
package adapter

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/config"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

// DefaultCapacity is the worker capacity of an adapter built without
// WithCapacity.
const DefaultCapacity = 4

// Mode is the selection mode read from the configuration. Both modes
// currently select priority first.
type Mode int

const (
	ModePrimary Mode = iota
	ModeRoundRobin
)

func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeRoundRobin:
		return "round-robin"
	default:
		return "unknown"
	}
}

// TaskType hints at the kind of work about to be submitted.
type TaskType int

const (
	TaskMix TaskType = iota
	TaskHW
	TaskInstr
)

// Worker is one backend slot of an adapter.
type Worker struct {
	Driver *registry.Driver
	Index  int
	Valid  bool
}

// Observer is notified of worker selections.
type Observer interface {
	WorkerChosen(alg, driver string)
	WorkerSwitched(alg, from, to string)
}

// Adapter is a fixed-capacity pool of workers for one algorithm.
type Adapter struct {
	reg      *registry.Registry
	capacity int
	alg      string
	mode     Mode
	workers  []*Worker

	cfg      *config.Adapter
	cfgSet   bool
	observer Observer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCapacity sets the maximum number of workers.
func WithCapacity(n int) Option {
	return func(a *Adapter) { a.capacity = n }
}

// WithConfig uses cfg instead of the file named by UADK_CONF. A nil cfg
// disables configuration entirely.
func WithConfig(cfg *config.Adapter) Option {
	return func(a *Adapter) { a.cfg, a.cfgSet = cfg, true }
}

// WithObserver reports selections to o.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// New returns an empty adapter drawing backends from reg.
func New(reg *registry.Registry, opts ...Option) (*Adapter, error) {
	if reg == nil {
		return nil, accelerr.New(accelerr.CodeInvalidArgument, "adapter", "nil registry")
	}
	a := &Adapter{reg: reg, capacity: DefaultCapacity}
	for _, o := range opts {
		o(a)
	}
	if a.capacity < 1 {
		return nil, accelerr.New(accelerr.CodeInvalidArgument, "adapter", "capacity %d must be positive", a.capacity)
	}
	return a, nil
}

// AddWorkers populates the pool for alg. Drivers named in the
// configuration are taken in file order and, if any resolve, no registry
// scan follows. Otherwise every registered backend for alg is taken in
// registration order up to capacity and sorted by descending priority.
// It fails with NotFound when no worker could be added.
func (a *Adapter) AddWorkers(alg string) error {
	if alg == "" {
		return accelerr.New(accelerr.CodeInvalidArgument, "add_workers", "empty algorithm")
	}
	a.alg = alg
	a.workers = a.workers[:0]
	a.mode = ModePrimary

	cfg := a.cfg
	if !a.cfgSet {
		cfg = config.Load()
	}
	if cfg != nil {
		a.mode = Mode(cfg.Mode)
		a.addConfigured(cfg.Drivers)
		if len(a.workers) > 0 {
			log.Debugf("adapter: %d worker(s) for %s from %s", len(a.workers), alg, cfg.Source)
			return nil
		}
	}

	for idx := 0; len(a.workers) < a.capacity; idx++ {
		drv := a.reg.Find("", alg, idx)
		if drv == nil {
			break
		}
		a.add(drv)
	}
	if len(a.workers) == 0 {
		return accelerr.New(accelerr.CodeNotFound, "add_workers", "no driver registered for %s", alg)
	}

	sort.SliceStable(a.workers, func(i, j int) bool {
		return a.workers[i].Driver.Priority > a.workers[j].Driver.Priority
	})
	for i, w := range a.workers {
		w.Index = i
	}
	log.Debugf("adapter: %d worker(s) for %s from registry", len(a.workers), alg)
	return nil
}

func (a *Adapter) addConfigured(names []string) {
	for _, name := range names {
		if len(a.workers) >= a.capacity {
			return
		}
		drv := a.reg.Find(name, a.alg, 0)
		if drv == nil {
			log.Debugf("adapter: configured driver %s does not serve %s", name, a.alg)
			continue
		}
		a.add(drv)
	}
}

func (a *Adapter) add(drv *registry.Driver) {
	a.workers = append(a.workers, &Worker{Driver: drv, Index: len(a.workers)})
}

// ChooseWorker returns the worker in slot 0 and marks it valid. The task
// type does not influence the choice yet.
func (a *Adapter) ChooseWorker(task TaskType) (*Worker, error) {
	if len(a.workers) == 0 {
		return nil, accelerr.New(accelerr.CodeUnavailable, "choose_worker", "adapter has no workers")
	}
	w := a.workers[0]
	w.Valid = true
	if a.observer != nil {
		a.observer.WorkerChosen(a.alg, w.Driver.Name)
	}
	return w, nil
}

// SwitchWorker rotates away from cur: to the next slot when next is set,
// otherwise to the previous one. Both directions wrap. With a single
// worker cur itself is returned.
func (a *Adapter) SwitchWorker(cur *Worker, next bool) (*Worker, error) {
	n := len(a.workers)
	if cur == nil || cur.Index < 0 || cur.Index >= n || a.workers[cur.Index] != cur {
		return nil, accelerr.New(accelerr.CodeInvalidArgument, "switch_worker", "worker does not belong to this adapter")
	}
	if n == 1 {
		return cur, nil
	}

	idx := cur.Index
	if next {
		idx = (idx + 1) % n
	} else if idx == 0 {
		idx = n - 1
	} else {
		idx--
	}

	w := a.workers[idx]
	w.Valid = true
	if a.observer != nil {
		a.observer.WorkerSwitched(a.alg, cur.Driver.Name, w.Driver.Name)
	}
	return w, nil
}

// Workers returns the pool in slot order.
func (a *Adapter) Workers() []*Worker {
	out := make([]*Worker, len(a.workers))
	copy(out, a.workers)
	return out
}

func (a *Adapter) Len() int { return len(a.workers) }
func (a *Adapter) Capacity() int { return a.capacity }
func (a *Adapter) Mode() Mode { return a.mode }
func (a *Adapter) Alg() string { return a.alg }
