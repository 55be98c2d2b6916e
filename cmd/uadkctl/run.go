package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Nativu5/uadk-go/pkg/accelerr"
	"github.com/Nativu5/uadk-go/pkg/adapter"
	"github.com/Nativu5/uadk-go/pkg/discover"
	"github.com/Nativu5/uadk-go/pkg/driverapi"
	"github.com/Nativu5/uadk-go/pkg/metrics"
	"github.com/Nativu5/uadk-go/pkg/registry"
)

// ──────────────────────────────────────────────
//  run
// ──────────────────────────────────────────────

func newRunCmd() *cobra.Command {
	var (
		alg         string
		decompress  bool
		input       string
		output      string
		capacity    int
		level       int
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compress or decompress a file through the adapter's workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			collector, err := metrics.New(metrics.DefaultNamespace)
			if err != nil {
				return err
			}
			var lvl *int
			if cmd.Flags().Changed("level") {
				lvl = &level
			}
			st := newStack(lvl, collector)

			a, err := adapter.New(st.registry, adapter.WithCapacity(capacity), adapter.WithObserver(collector))
			if err != nil {
				return err
			}
			if err := a.AddWorkers(alg); err != nil {
				return err
			}

			src, err := readInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			op := driverapi.CompOpCompress
			if decompress {
				op = driverapi.CompOpDecompress
			}

			out, err := runJob(a, st.registry, collector, op, src)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), output, out); err != nil {
				return err
			}

			if showMetrics {
				samples, err := collector.Snapshot()
				if err != nil {
					return err
				}
				discover.PrintMetrics(cmd.ErrOrStderr(), samples)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alg, "alg", "", "Algorithm name (deflate|zlib|gzip|lz4)")
	cmd.Flags().BoolVarP(&decompress, "decompress", "d", false, "Decompress instead of compress")
	cmd.Flags().StringVarP(&input, "input", "i", "-", "Input file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().IntVar(&capacity, "capacity", adapter.DefaultCapacity, "Maximum number of workers")
	cmd.Flags().IntVar(&level, "level", 0, "Compression level passed to software backends")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print job metrics to stderr")
	_ = cmd.MarkFlagRequired("alg")

	return cmd
}

// runJob submits one job to the chosen worker and moves to the next
// worker whenever a driver is unavailable or fails. Every worker is tried
// at most once.
func runJob(a *adapter.Adapter, reg *registry.Registry, collector *metrics.Collector, op driverapi.CompOp, src []byte) ([]byte, error) {
	w, err := a.ChooseWorker(adapter.TaskMix)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for tried := 0; tried < a.Len(); tried++ {
		if tried > 0 {
			if w, err = a.SwitchWorker(w, true); err != nil {
				return nil, err
			}
		}
		drv := w.Driver
		if !reg.Available(drv) {
			log.Debugf("run: %s is unavailable for %s", drv.Name, drv.Alg)
			lastErr = accelerr.New(accelerr.CodeUnavailable, "run", "%s is unavailable", drv.Name)
			continue
		}

		msg := &driverapi.CompMsg{Op: op, Src: src}
		if err := submit(drv, msg); err != nil {
			log.Warnf("run: %s %s on %s failed: %v", drv.Alg, op, drv.Name, err)
			collector.JobDone(drv.Alg, drv.Name, len(src), 0, err)
			lastErr = err
			continue
		}
		collector.JobDone(drv.Alg, drv.Name, len(src), len(msg.Dst), nil)
		log.Infof("run: %s %s done on %s, %d -> %d bytes", drv.Alg, op, drv.Name, len(src), len(msg.Dst))
		return msg.Dst, nil
	}
	return nil, fmt.Errorf("every worker for %s failed: %w", a.Alg(), lastErr)
}

// submit runs msg through drv's lifecycle: Init, Send, Recv, Exit.
func submit(drv *registry.Driver, msg *driverapi.CompMsg) error {
	if err := drv.Init(nil); err != nil {
		return err
	}
	defer drv.Exit()

	if err := drv.Send(nil, msg); err != nil {
		return err
	}
	return drv.Recv(nil, msg)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ──────────────────────────────────────────────
//  exporter
// ──────────────────────────────────────────────

func newExporterCmd() *cobra.Command {
	var (
		listen    string
		path      string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "exporter",
		Short: "Serve driver and device metrics for Prometheus",
		RunE: func(cmd *cobra.Command, args []string) error {
			collector, err := metrics.New(namespace)
			if err != nil {
				return err
			}
			st := newStack(nil, collector)
			if err := collector.WatchRegistry(st.registry); err != nil {
				return err
			}
			if err := collector.WatchDevices(st.catalog); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return collector.Serve(ctx, listen, path)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9750", "Address to listen on")
	cmd.Flags().StringVar(&path, "path", "/metrics", "HTTP path of the metrics endpoint")
	cmd.Flags().StringVar(&namespace, "namespace", metrics.DefaultNamespace, "Metric name prefix")

	return cmd
}
