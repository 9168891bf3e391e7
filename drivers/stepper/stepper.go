// Package stepper drives a 4-wire unipolar stepper motor through a
// gpio.Controller, mirroring the Arduino Stepper library API that
// original_source/kernel/src/stepper.c itself mirrors.
package stepper

import (
	"time"

	"github.com/pkg/errors"
	"github.com/crookler/nrf52840-rtk/drivers/gpio"
)

// stepSequence is the classic 4-step, 4-wire energization pattern.
var stepSequence = [4][4]bool{
	{true, false, false, true},
	{true, true, false, false},
	{false, true, true, false},
	{false, false, true, true},
}

type Direction int

const (
	CW Direction = iota
	CCW
)

type Wire struct {
	Port gpio.Port
	Pin  int
}

// Motor holds everything needed to drive one 4-wire stepper, matching
// original_source's stepper_t.
type Motor struct {
	gp *gpio.Controller

	stepNumber         int
	stepsPerRevolution uint32
	direction          Direction
	wires              [4]Wire

	stepDelay time.Duration
}

// Init configures the four control wires as outputs and returns a
// ready Motor, matching stepper_init.
func Init(gp *gpio.Controller, stepsPerRevolution uint32, wires [4]Wire) (*Motor, error) {
	m := &Motor{gp: gp, stepsPerRevolution: stepsPerRevolution, wires: wires, stepDelay: time.Second}
	for _, w := range wires {
		if err := gp.Init(w.Port, w.Pin, gpio.Output, gpio.PullNone, gpio.S0S1); err != nil {
			return nil, errors.Wrap(err, "stepper: init control wire")
		}
	}
	return m, nil
}

// Speed sets the rotation speed in RPM, deriving the inter-step delay
// exactly as stepper_speed does: 60s / (rpm * steps_per_revolution).
func (m *Motor) Speed(rpm uint32) error {
	if rpm == 0 {
		return errors.New("stepper: speed must be nonzero")
	}
	m.stepDelay = time.Minute / time.Duration(rpm*m.stepsPerRevolution)
	return nil
}

// Move rotates the motor through stepsToMove steps, blocking until
// complete; positive is CW, negative CCW, matching stepper_move.
func (m *Motor) Move(stepsToMove int32) error {
	if m.stepDelay <= 0 {
		return errors.New("stepper: speed must be set before moving")
	}
	n := stepsToMove
	if n < 0 {
		m.direction = CCW
		n = -n
	} else {
		m.direction = CW
	}
	for i := int32(0); i < n; i++ {
		m.advanceStep()
		time.Sleep(m.stepDelay)
	}
	return nil
}

// advanceStep energizes the next 4-wire pattern in the current
// direction, matching stepper_advance_step.
func (m *Motor) advanceStep() {
	if m.direction == CW {
		m.stepNumber = (m.stepNumber + 1) % 4
	} else {
		m.stepNumber = (m.stepNumber + 3) % 4
	}
	pattern := stepSequence[m.stepNumber]
	for i, w := range m.wires {
		if pattern[i] {
			m.gp.Set(w.Port, w.Pin)
		} else {
			m.gp.Clear(w.Port, w.Pin)
		}
	}
}
