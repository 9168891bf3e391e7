// Command hostmon is the host-side counterpart of the RTT trace
// transport: it drains the kernel's trace "up" buffer and serves
// Prometheus metrics, logging each trace line when following a FIFO,
// the same role a debugger probe plays against real target RAM.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crookler/nrf52840-rtk/app/radar"
	"github.com/crookler/nrf52840-rtk/kernel"
)

var (
	upBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostmon_trace_up_bytes_total",
		Help: "Total bytes drained from the kernel's RTT up buffer.",
	})
	tickTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hostmon_kernel_tick_total",
		Help: "Current kernel tick count (embedded mode only).",
	})
	taskActiveTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostmon_task_active_ticks",
		Help: "Cumulative ticks each task has spent Running (embedded mode only).",
	}, []string{"task_id"})
	taskDynamicPriority = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hostmon_task_dynamic_priority",
		Help: "Current dynamic priority rank of each task (embedded mode only); lower is more urgent.",
	}, []string{"task_id"})
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		traceFifo   string
		metricsAddr string
		embedded    bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "hostmon",
		Short: "Monitor the RM kernel's trace stream and task state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			if verbose {
				cfg = zap.NewDevelopmentConfig()
			}
			log, err := cfg.Build()
			if err != nil {
				return err
			}
			defer log.Sync()

			go serveMetrics(metricsAddr, log)

			switch {
			case embedded:
				return runEmbedded(log)
			case traceFifo != "":
				return followFifo(traceFifo, log)
			default:
				return fmt.Errorf("hostmon: one of --embedded or --trace-fifo is required")
			}
		},
	}

	cmd.Flags().StringVar(&traceFifo, "trace-fifo", "", "named pipe a running cmd/radar is mirroring its up buffer to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "boot a kernel and the radar app in-process instead of attaching externally")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	return cmd
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("hostmon: serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("hostmon: metrics server stopped", zap.Error(err))
	}
}

// followFifo is the external-attach mode: it only sees the raw byte
// stream a separately-running cmd/radar mirrors to the pipe, so it
// reports a byte count and republishes lines as log records rather
// than per-task gauges, which need direct kernel access.
func followFifo(path string, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hostmon: open trace fifo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		upBytesTotal.Add(float64(len(line) + 1))
		log.Info("trace", zap.String("line", line))
	}
	return scanner.Err()
}

// runEmbedded boots a kernel and the radar app itself, useful for a
// self-contained demo of what hostmon would otherwise observe over the
// wire: direct polling of per-task gauges alongside the up buffer.
func runEmbedded(log *zap.Logger) error {
	k := kernel.New(kernel.NewSimHardware(), log)
	app, err := radar.New(k, radar.Config{Seed: 1})
	if err != nil {
		return fmt.Errorf("hostmon: build application: %w", err)
	}

	idleFn := func() {
		for {
			k.CheckIn(kernel.IdleSlot)
			time.Sleep(time.Millisecond)
		}
	}
	if err := k.MultitaskRequest(4, 2048, idleFn, kernel.MPUPerThread, 1); err != nil {
		return fmt.Errorf("hostmon: multitask_request: %w", err)
	}
	if err := app.Install(); err != nil {
		return fmt.Errorf("hostmon: install tasks: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go k.RunTicker(1000, stop)
	go pollKernel(k, stop)

	return k.MultitaskStart(1000)
}

var monitoredTaskIDs = []int{
	radar.ScanTaskID, radar.TelemetryTaskID, radar.StatusLEDTaskID, radar.BatteryGaugeTaskID,
}

func pollKernel(k *kernel.Kernel, stop <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tickTotal.Set(float64(k.GetTime()))
			if n := k.DrainUpBytes(buf); n > 0 {
				upBytesTotal.Add(float64(n))
			}
			for _, id := range monitoredTaskIDs {
				slot, ok := k.SlotByID(id)
				if !ok {
					continue
				}
				label := fmt.Sprintf("%d", id)
				taskActiveTime.WithLabelValues(label).Set(float64(k.ThreadTime(slot)))
				taskDynamicPriority.WithLabelValues(label).Set(float64(k.ThreadPriority(slot)))
			}
		}
	}
}
