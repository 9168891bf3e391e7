// Package radar is the sample application exercising the kernel:
// periodic scan, telemetry, status-LED and battery-gauge tasks,
// grounded on original_source/app/radar/src/main.c's user/stepper/
// sensor/indicator thread set but restructured around the core's
// testable mechanisms (the shared mutex's ceiling is now a first-class
// design point rather than an afterthought).
package radar

import (
	"sync"

	"go.uber.org/zap"

	"github.com/crookler/nrf52840-rtk/drivers/adc"
	"github.com/crookler/nrf52840-rtk/drivers/gpio"
	"github.com/crookler/nrf52840-rtk/drivers/i2c"
	"github.com/crookler/nrf52840-rtk/drivers/printk"
	"github.com/crookler/nrf52840-rtk/drivers/pwm"
	"github.com/crookler/nrf52840-rtk/drivers/stepper"
	"github.com/crookler/nrf52840-rtk/drivers/ultrasonic"
	"github.com/crookler/nrf52840-rtk/kernel"
)

// Task ids and timing, in ticks. scan is the highest rate (shortest
// period), telemetry mid, status-LED low, battery-gauge lowest.
// Liu-Layland utilization at these four is 0.375, comfortably under
// bound[4] (~0.757). These double as the tasks' slots, since
// ThreadDefine hands out slots in first-free order and Install defines
// them in this exact order starting from a freshly requested table.
const (
	ScanTaskID         = 0
	TelemetryTaskID    = 1
	StatusLEDTaskID    = 2
	BatteryGaugeTaskID = 3

	idScan         = ScanTaskID
	idTelemetry    = TelemetryTaskID
	idStatusLED    = StatusLEDTaskID
	idBatteryGauge = BatteryGaugeTaskID

	cScan, tScan                 = 20, 100
	cTelemetry, tTelemetry       = 30, 200
	cStatusLED, tStatusLED       = 10, 500
	cBatteryGauge, tBatteryGauge = 5, 1000
)

// BrownoutThresholdRaw is the raw ADC sample below which the
// battery-gauge task logs a brown-out diagnostic (supplemented from
// original_source/kernel/src/adc.c's single-channel conversion; the
// original has no gauge task of its own).
const BrownoutThresholdRaw = 300

// hostCollectorAddr is the follower address telemetry batches range
// readings to, standing in for the host-side collector the original
// app's sensor_thread ultimately reports to over the bus.
const hostCollectorAddr = 0x20

// rangeRegister is the register telemetry writes the latest range
// into on hostCollectorAddr.
const rangeRegister = 0x00

// Config bundles the parameters New needs to build the simulated
// peripherals; the board-level parameters (stack size, MPU mode,
// systick frequency) are cmd/radar's concern, passed straight to
// MultitaskRequest/MultitaskStart rather than threaded through here.
type Config struct {
	Seed int64
}

// App wires the kernel to a set of simulated peripherals and holds the
// telemetry state the scan and telemetry tasks share. telemetryMu is a
// real Go mutex guarding that shared state in the host process itself:
// the kernel's own Lock/Unlock exercises the priority-ceiling protocol
// at the scheduling level, but nothing stands in for a real MPU
// denying a second goroutine's concurrent memory access the way actual
// hardware would, so the application additionally protects its shared
// fields the ordinary Go way.
type App struct {
	k   *kernel.Kernel
	log *zap.Logger

	gp    *gpio.Controller
	led   *pwm.Controller
	motor *stepper.Motor
	sonar *ultrasonic.Sensor
	gauge *adc.Converter
	bus   *i2c.Leader

	lockHandle int

	telemetryMu  sync.Mutex
	lastRangeCM  uint32
	sweepAngle   int
	radarActive  bool
}

// New builds an App bound to k, configuring the simulated peripherals
// the four tasks will drive.
func New(k *kernel.Kernel, cfg Config) (*App, error) {
	gp := gpio.NewController()
	motor, err := stepper.Init(gp, 2048, [4]stepper.Wire{
		{Port: gpio.P1, Pin: 8},
		{Port: gpio.P0, Pin: 7},
		{Port: gpio.P0, Pin: 26},
		{Port: gpio.P0, Pin: 27},
	})
	if err != nil {
		return nil, err
	}
	if err := motor.Speed(10); err != nil {
		return nil, err
	}
	sonar, err := ultrasonic.Init(gp, gpio.P0, 8, gpio.P1, 9, cfg.Seed)
	if err != nil {
		return nil, err
	}

	bus := i2c.NewLeader()
	bus.AttachFollower(hostCollectorAddr)

	a := &App{
		k:           k,
		log:         k.Logger(),
		gp:          gp,
		led:         pwm.NewController(),
		motor:       motor,
		sonar:       sonar,
		gauge:       adc.NewConverter(cfg.Seed + 1),
		bus:         bus,
		radarActive: true,
	}
	return a, nil
}

// Install defines all four tasks and the shared mutex via k, matching
// the bootstrap sequence original_source's main() runs before
// multitask_start. Must be called after k.MultitaskRequest.
func (a *App) Install() error {
	handle, err := a.k.LockInit(idTelemetry)
	if err != nil {
		return err
	}
	a.lockHandle = handle

	// ThreadDefine assigns slots in call order starting from the first
	// Defunct one, which MultitaskRequest left as 0,1,2,3: passing each
	// task's own id back in as arg gives the task body a way to learn
	// its own slot, since fn's signature carries no such parameter.
	if err := a.k.ThreadDefine(idScan, a.scanTask, uint32(idScan), cScan, tScan); err != nil {
		return err
	}
	if err := a.k.ThreadDefine(idTelemetry, a.telemetryTask, uint32(idTelemetry), cTelemetry, tTelemetry); err != nil {
		return err
	}
	if err := a.k.ThreadDefine(idStatusLED, a.statusLEDTask, uint32(idStatusLED), cStatusLED, tStatusLED); err != nil {
		return err
	}
	if err := a.k.ThreadDefine(idBatteryGauge, a.batteryGaugeTask, uint32(idBatteryGauge), cBatteryGauge, tBatteryGauge); err != nil {
		return err
	}
	return nil
}

// scanTask sweeps the stepper, takes an ultrasonic reading, and
// publishes it to the telemetry task behind the shared mutex.
func (a *App) scanTask(arg uint32) {
	slot := int(arg)
	forward := true
	for {
		a.k.CheckIn(slot)

		a.telemetryMu.Lock()
		active := a.radarActive
		a.telemetryMu.Unlock()

		if active {
			if forward {
				_ = a.motor.Move(5)
			} else {
				_ = a.motor.Move(-5)
			}
			a.telemetryMu.Lock()
			a.sweepAngle++
			if a.sweepAngle >= 180 {
				forward = false
			} else if a.sweepAngle <= 0 {
				forward = true
			}
			a.telemetryMu.Unlock()

			a.k.CheckIn(slot)
			rangeCM := a.sonar.Range()

			if err := a.k.Lock(a.lockHandle); err != nil {
				return
			}
			a.telemetryMu.Lock()
			a.lastRangeCM = rangeCM
			a.telemetryMu.Unlock()
			if err := a.k.Unlock(a.lockHandle); err != nil {
				a.log.Error("scan: unlock failed", zap.Error(err))
			}
		}
		a.k.ThreadYield(slot)
	}
}

// telemetryTask drains the shared range reading, batch-sends it to the
// host collector over the I2C bus, and mirrors it to the RTT up buffer
// for local diagnostics. It is the shared mutex's declared highest
// locker: its static priority becomes the mutex's ceiling, and since
// scan (the other locker) runs at a shorter period it always has a
// static priority at least as good, so neither locker ever trips the
// below-ceiling rejection.
func (a *App) telemetryTask(arg uint32) {
	slot := int(arg)
	for {
		a.k.CheckIn(slot)

		if err := a.k.Lock(a.lockHandle); err != nil {
			return
		}
		a.telemetryMu.Lock()
		rangeCM := a.lastRangeCM
		a.telemetryMu.Unlock()
		sendErr := a.bus.Write([]byte{rangeRegister, byte(rangeCM)}, hostCollectorAddr)
		if err := a.k.Unlock(a.lockHandle); err != nil {
			a.log.Error("telemetry: unlock failed", zap.Error(err))
		}
		if sendErr != nil {
			a.log.Warn("telemetry: i2c write failed", zap.Error(sendErr))
		}

		printk.Printk(a.k, "range=%dcm tick=%d\n", rangeCM, a.k.GetTime())
		a.k.ThreadYield(slot)
	}
}

// statusLEDTask drives the PWM LED string to reflect whether the
// radar is active, with no locking needs at all.
func (a *App) statusLEDTask(arg uint32) {
	slot := int(arg)
	if err := a.led.GlobalInit(pwm.Div16, pwm.Up, 1000); err != nil {
		a.log.Error("status-led: global init failed", zap.Error(err))
	}
	duty := []uint16{0}
	for {
		a.k.CheckIn(slot)

		a.telemetryMu.Lock()
		active := a.radarActive
		a.telemetryMu.Unlock()
		if active {
			duty[0] = 800
		} else {
			duty[0] = 50
		}
		if err := a.led.SequenceInit(pwm.Sequence0, duty, 0, 0); err == nil {
			_ = a.led.LoadSequence(pwm.Sequence0)
		}
		a.k.ThreadYield(slot)
	}
}

// batteryGaugeTask periodically samples the ADC and logs a brown-out
// diagnostic when the raw reading drops below threshold; it never
// locks anything.
func (a *App) batteryGaugeTask(arg uint32) {
	slot := int(arg)
	samples := make([]int16, 1)
	for {
		a.k.CheckIn(slot)

		a.gauge.Sample(samples)
		if samples[0] < BrownoutThresholdRaw {
			a.log.Warn("battery-gauge: brown-out threshold crossed",
				zap.Int16("raw", samples[0]), zap.Uint64("tick", a.k.GetTime()))
		}
		a.k.ThreadYield(slot)
	}
}
