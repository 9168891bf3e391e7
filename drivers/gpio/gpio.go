// Package gpio is a thin simulated stand-in for the nRF52840 GPIO
// peripheral (original_source/kernel/src/gpio.c): two ports, pin
// configuration, digital set/clear/read. Nothing here touches real
// memory-mapped registers; each Port keeps its pin state as an
// in-process bit array so app/radar can drive and observe it the same
// way real firmware would drive LEDs and read switches.
package gpio

import "github.com/pkg/errors"

// Port identifies one of the two GPIO ports the nRF52840 exposes.
type Port int

const (
	P0 Port = iota
	P1
)

// Direction, Pull and Drive mirror gpio.h's enums; Drive and Pull carry
// no simulated behavior difference, they exist so callers can specify
// them exactly as firmware would.
type Direction int

const (
	Input Direction = iota
	Output
)

type Pull int

const (
	PullNone Pull = iota
	PullDown
	_
	PullUp
)

type Drive int

const (
	S0S1 Drive = iota
	H0S1
	S0H1
	H0H1
	D0S1
	D0H1
	S0D1
	H0D1
)

func maxPin(port Port) int {
	if port == P0 {
		return 31
	}
	return 15
}

type pinConfig struct {
	configured bool
	direction  Direction
	pull       Pull
	drive      Drive
	value      bool
}

// Controller simulates both GPIO ports' pin state.
type Controller struct {
	pins [2][32]pinConfig
}

// NewController returns a Controller with every pin unconfigured.
func NewController() *Controller {
	return &Controller{}
}

func (c *Controller) validPin(port Port, pin int) bool {
	return pin >= 0 && pin <= maxPin(port)
}

// Init configures pin on port, matching gpio_init's validation.
func (c *Controller) Init(port Port, pin int, dir Direction, pull Pull, drive Drive) error {
	if !c.validPin(port, pin) {
		return errors.Errorf("gpio: invalid pin %d for port %d", pin, port)
	}
	c.pins[port][pin] = pinConfig{configured: true, direction: dir, pull: pull, drive: drive}
	return nil
}

// Set drives pin high. A no-op on an invalid pin, matching gpio_set.
func (c *Controller) Set(port Port, pin int) {
	if !c.validPin(port, pin) {
		return
	}
	c.pins[port][pin].value = true
}

// Clear drives pin low. A no-op on an invalid pin, matching gpio_clr.
func (c *Controller) Clear(port Port, pin int) {
	if !c.validPin(port, pin) {
		return
	}
	c.pins[port][pin].value = false
}

// Read returns pin's current digital value, or an error on an invalid
// pin (gpio_read returns GPIO_INVALID_PORT_ERROR_CODE in that case).
func (c *Controller) Read(port Port, pin int) (bool, error) {
	if !c.validPin(port, pin) {
		return false, errors.Errorf("gpio: invalid pin %d for port %d", pin, port)
	}
	return c.pins[port][pin].value, nil
}
