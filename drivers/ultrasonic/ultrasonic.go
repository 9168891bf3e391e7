// Package ultrasonic simulates an HC-SR04-style range finder driven
// by a trigger pulse and an edge-triggered capture of the echo pulse
// width (original_source/kernel/src/ultrasonic.c uses GPIOTE for the
// capture; this simulation just returns a jittered plausible range,
// since there is no real echo to time).
package ultrasonic

import (
	"math/rand"
	"time"

	"github.com/crookler/nrf52840-rtk/drivers/gpio"
)

// TimeoutUS mirrors ULTRASONIC_TIMEOUT_US. The simulated Range does not
// time out and never consults it.
const TimeoutUS = 36000

// MaxRangeCM is the sensor's documented maximum usable range.
const MaxRangeCM = 300

type Sensor struct {
	gp          *gpio.Controller
	triggerPort gpio.Port
	triggerPin  int
	outputPort  gpio.Port
	outputPin   int
	rng         *rand.Rand

	lastMeasurementCM uint32
}

// Init links the trigger/output GPIO pins, matching ultrasonic_init.
func Init(gp *gpio.Controller, triggerPort gpio.Port, triggerPin int, outputPort gpio.Port, outputPin int, seed int64) (*Sensor, error) {
	if err := gp.Init(triggerPort, triggerPin, gpio.Output, gpio.PullNone, gpio.S0S1); err != nil {
		return nil, err
	}
	if err := gp.Init(outputPort, outputPin, gpio.Input, gpio.PullDown, gpio.S0S1); err != nil {
		return nil, err
	}
	return &Sensor{
		gp: gp, triggerPort: triggerPort, triggerPin: triggerPin,
		outputPort: outputPort, outputPin: outputPin,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Range fires the trigger, blocking for the 10µs trigger pulse, and
// returns a jittered distance in centimeters (2 to MaxRangeCM-1); no
// echo round trip is simulated.
func (s *Sensor) Range() uint32 {
	s.gp.Set(s.triggerPort, s.triggerPin)
	time.Sleep(10 * time.Microsecond)
	s.gp.Clear(s.triggerPort, s.triggerPin)

	cm := uint32(s.rng.Intn(MaxRangeCM-2) + 2)
	s.lastMeasurementCM = cm
	return cm
}
