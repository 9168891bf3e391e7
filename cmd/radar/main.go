// Command radar boots the simulated kernel and runs the radar sample
// application, mirroring original_source/app/radar/src/main.c's boot
// sequence: multitask_request, thread_define per task, multitask_start.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crookler/nrf52840-rtk/app/radar"
	"github.com/crookler/nrf52840-rtk/kernel"
)

// idShutdown is the supervisor-only task id defined only when
// --duration is set; it exists to end the demo deterministically and
// is not part of app/radar's own task set.
const idShutdown = 4

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		freqHz     uint32
		duration   time.Duration
		stackBytes uint32
		mpuMode    string
		traceFifo  string
		seed       int64
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Run the radar sample application on the simulated RM kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			mode := kernel.MPUPerThread
			if mpuMode == "kernel-only" {
				mode = kernel.MPUKernelOnly
			}

			k := kernel.New(kernel.NewSimHardware(), log)

			app, err := radar.New(k, radar.Config{Seed: seed})
			if err != nil {
				return fmt.Errorf("radar: build application: %w", err)
			}

			numThreads := 4
			if duration > 0 {
				numThreads = 5
			}

			idleFn := func() {
				for {
					k.CheckIn(kernel.IdleSlot)
					time.Sleep(time.Millisecond)
				}
			}

			if err := k.MultitaskRequest(numThreads, stackBytes, idleFn, mode, 1); err != nil {
				return fmt.Errorf("radar: multitask_request: %w", err)
			}

			if err := app.Install(); err != nil {
				return fmt.Errorf("radar: install tasks: %w", err)
			}

			if duration > 0 {
				if err := k.ThreadDefine(idShutdown, shutdownTask(k, duration), 0, 1, 100000); err != nil {
					return fmt.Errorf("radar: define shutdown task: %w", err)
				}
			}

			if traceFifo != "" {
				stop := make(chan struct{})
				defer close(stop)
				go pumpTraceFifo(k, traceFifo, stop, log)
			}

			stopTicker := make(chan struct{})
			go k.RunTicker(freqHz, stopTicker)
			defer close(stopTicker)

			log.Info("radar: starting", zap.Uint32("freq_hz", freqHz), zap.Duration("duration", duration))
			if err := k.MultitaskStart(freqHz); err != nil {
				return fmt.Errorf("radar: multitask_start: %w", err)
			}
			log.Info("radar: all tasks defunct, exiting")
			return nil
		},
	}

	cmd.Flags().Uint32Var(&freqHz, "freq-hz", 1000, "systick frequency in Hz")
	cmd.Flags().DurationVar(&duration, "duration", 0, "if set, end the demo after this long")
	cmd.Flags().Uint32Var(&stackBytes, "stack-bytes", 2048, "per-task stack size, rounded up to a power of two")
	cmd.Flags().StringVar(&mpuMode, "mpu-mode", "per-thread", "per-thread or kernel-only")
	cmd.Flags().StringVar(&traceFifo, "trace-fifo", "", "named pipe to mirror the RTT up buffer to, for cmd/hostmon")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for simulated sensor jitter")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	return cmd
}

// shutdownTask polls the wall clock rather than blocking on a plain
// time.Sleep, so it keeps cooperating with the scheduler (yielding
// every release) instead of holding the CPU from the kernel's point of
// view for the whole duration.
func shutdownTask(k *kernel.Kernel, duration time.Duration) func(uint32) {
	return func(uint32) {
		slot := idShutdown
		deadline := time.Now().Add(duration)
		for time.Now().Before(deadline) {
			k.ThreadYield(slot)
		}
		k.Exit(slot, 0)
	}
}

func pumpTraceFifo(k *kernel.Kernel, path string, stop <-chan struct{}, log *zap.Logger) {
	f, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
	if err != nil {
		log.Error("radar: open trace fifo", zap.Error(err))
		return
	}
	defer f.Close()

	buf := make([]byte, 64)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := k.DrainUpBytes(buf); n > 0 {
				if _, err := f.Write(buf[:n]); err != nil {
					log.Warn("radar: write trace fifo", zap.Error(err))
				}
			}
		}
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
