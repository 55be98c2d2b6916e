// Package metrics exports accelerator selection and registry state to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/registry"
	"github.com/Nativu5/uadk-go/pkg/types"
)

const DefaultNamespace = "uadk"

// DeviceSource is the part of the device catalog the device collector
// reads on every scrape.
type DeviceSource interface {
	ScanAll() ([]*types.Device, error)
	AvailableInstances(dev *types.Device) (int, error)
}

// Collector owns a private Prometheus registry with the selection
// counters. It satisfies adapter.Observer.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	workerSelections *prometheus.CounterVec
	workerSwitches   *prometheus.CounterVec
	deviceSelections *prometheus.CounterVec
	jobs             *prometheus.CounterVec
	jobBytes         *prometheus.CounterVec
	openContexts     prometheus.Gauge
}

// New returns a collector whose metric names are prefixed by namespace.
// An empty namespace selects DefaultNamespace.
func New(namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.workerSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_selections_total",
			Help:      "Workers chosen by adapters",
		},
		[]string{"alg", "driver"},
	)
	c.workerSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_switches_total",
			Help:      "Worker rotations performed by adapters",
		},
		[]string{"alg", "from", "to"},
	)
	c.deviceSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_selections_total",
			Help:      "Device selections by outcome",
		},
		[]string{"alg", "device", "result"},
	)
	c.jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs submitted to backends by outcome",
		},
		[]string{"alg", "driver", "result"},
	)
	c.jobBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_bytes_total",
			Help:      "Bytes consumed and produced by successful jobs",
		},
		[]string{"alg", "driver", "direction"},
	)
	c.openContexts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_contexts",
			Help:      "Device contexts currently open",
		},
	)

	for _, m := range []prometheus.Collector{
		c.workerSelections,
		c.workerSwitches,
		c.deviceSelections,
		c.jobs,
		c.jobBytes,
		c.openContexts,
	} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) WorkerChosen(alg, driver string) {
	c.workerSelections.WithLabelValues(alg, driver).Inc()
}

func (c *Collector) WorkerSwitched(alg, from, to string) {
	c.workerSwitches.WithLabelValues(alg, from, to).Inc()
}

// DeviceSelected records the outcome of a device selection. dev may be
// nil when err is set.
func (c *Collector) DeviceSelected(alg string, dev *types.Device, err error) {
	name := ""
	if dev != nil {
		name = dev.Name()
	}
	c.deviceSelections.WithLabelValues(alg, name, resultOf(err)).Inc()
}

// JobDone records one job. Byte counters only move on success.
func (c *Collector) JobDone(alg, driver string, in, out int, err error) {
	c.jobs.WithLabelValues(alg, driver, resultOf(err)).Inc()
	if err != nil {
		return
	}
	c.jobBytes.WithLabelValues(alg, driver, "in").Add(float64(in))
	c.jobBytes.WithLabelValues(alg, driver, "out").Add(float64(out))
}

func (c *Collector) ContextOpened() { c.openContexts.Inc() }
func (c *Collector) ContextClosed() { c.openContexts.Dec() }

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := accelerr.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

// WatchRegistry exports the availability and reference count of every
// registration in reg, read at scrape time.
func (c *Collector) WatchRegistry(reg *registry.Registry) error {
	return c.registry.Register(newRegistryCollector(c.namespace, reg))
}

// WatchDevices exports the live available-instance count of every
// device in src, read at scrape time.
func (c *Collector) WatchDevices(src DeviceSource) error {
	return c.registry.Register(newDeviceCollector(c.namespace, src))
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes Handler on addr at path until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Infof("metrics: serving %s%s", addr, path)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Sample is one gathered series.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Snapshot gathers every counter and gauge series, sorted by name and
// labels.
func (c *Collector) Snapshot() ([]Sample, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+strconv.Quote(lp.GetValue()))
			}
			out = append(out, Sample{Name: mf.GetName(), Labels: strings.Join(labels, ","), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

// registryCollector reads driver state on demand.
type registryCollector struct {
	reg       *registry.Registry
	available *prometheus.Desc
	refcount  *prometheus.Desc
}

func newRegistryCollector(namespace string, reg *registry.Registry) *registryCollector {
	labels := []string{"driver", "alg", "priority"}
	return &registryCollector{
		reg: reg,
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", "available"),
			"Whether a registered driver may be requested", labels, nil),
		refcount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "driver", "refcount"),
			"Outstanding requests held on a registered driver", labels, nil),
	}
}

func (rc *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rc.available
	ch <- rc.refcount
}

func (rc *registryCollector) Collect(ch chan<- prometheus.Metric) {
	seen := make(map[[2]string]bool)
	for _, e := range rc.reg.Entries() {
		key := [2]string{e.Driver.Name, e.Driver.Alg}
		// duplicate registrations would collide on labels; the first wins
		// as it does for Find
		if seen[key] {
			continue
		}
		seen[key] = true

		avail := 0.0
		if e.Available {
			avail = 1
		}
		prio := e.Driver.Priority.String()
		ch <- prometheus.MustNewConstMetric(rc.available, prometheus.GaugeValue, avail, e.Driver.Name, e.Driver.Alg, prio)
		ch <- prometheus.MustNewConstMetric(rc.refcount, prometheus.GaugeValue, float64(e.RefCount), e.Driver.Name, e.Driver.Alg, prio)
	}
}

// deviceCollector rescans the device class on demand.
type deviceCollector struct {
	src       DeviceSource
	instances *prometheus.Desc
	up        *prometheus.Desc
}

func newDeviceCollector(namespace string, src DeviceSource) *deviceCollector {
	return &deviceCollector{
		src: src,
		instances: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "available_instances"),
			"Free queues reported by an accelerator device",
			[]string{"device", "numa_node"}, nil),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "scan_up"),
			"Whether the last device scan succeeded", nil, nil),
	}
}

func (dc *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- dc.instances
	ch <- dc.up
}

func (dc *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	devices, err := dc.src.ScanAll()
	if err != nil {
		log.Debugf("metrics: device scan failed: %v", err)
		ch <- prometheus.MustNewConstMetric(dc.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(dc.up, prometheus.GaugeValue, 1)

	for _, dev := range devices {
		n, err := dc.src.AvailableInstances(dev)
		if err != nil {
			log.Debugf("metrics: %s: %v", dev.Name(), err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(dc.instances, prometheus.GaugeValue, float64(n),
			dev.Name(), strconv.Itoa(dev.NUMANode))
	}
}
