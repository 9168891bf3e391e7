// Package pwm simulates the nRF52840 PWM peripheral used to drive the
// radar application's status LED string (original_source/kernel/src/pwm.c):
// global clock/counter configuration, per-sequence duty-cycle arrays,
// per-channel pin assignment, and a blocking "load and play one
// period" call.
package pwm

import (
	"time"

	"github.com/pkg/errors"
	"github.com/crookler/nrf52840-rtk/drivers/gpio"
)

const (
	max15Bit = 0x7FFF
	max24Bit = 0xFFFFFF
)

type Prescaler int

const (
	Div1 Prescaler = iota
	Div2
	Div4
	Div8
	Div16
	Div32
	Div64
	Div128
)

// hz returns the effective PWM clock after this prescaler divides the
// nRF52840's 16 MHz source.
func (p Prescaler) hz() int {
	return 16_000_000 >> uint(p)
}

type Mode int

const (
	Up Mode = iota
	UpAndDown
)

type Channel int

const (
	Channel0 Channel = iota
	Channel1
	Channel2
	Channel3
)

type Sequence int

const (
	Sequence0 Sequence = iota
	Sequence1
)

type sequenceState struct {
	dutyCycles []uint16
	refresh    uint32
	endDelay   uint32
	configured bool
}

type channelState struct {
	port       gpio.Port
	pin        uint8
	configured bool
}

// Controller simulates a single PWM_0 instance: one global clock
// configuration, two sequences, four channels.
type Controller struct {
	enabled    bool
	prescaler  Prescaler
	mode       Mode
	countertop uint16
	sequences  [2]sequenceState
	channels   [4]channelState
}

func NewController() *Controller {
	return &Controller{}
}

// GlobalInit configures the shared clock/counter parameters and
// enables the peripheral, matching pwm_global_init.
func (c *Controller) GlobalInit(scale Prescaler, mode Mode, countertop uint16) error {
	if countertop > max15Bit {
		return errors.Errorf("pwm: countertop %d exceeds 15-bit range", countertop)
	}
	c.prescaler = scale
	c.mode = mode
	c.countertop = countertop
	c.enabled = true
	return nil
}

// SequenceInit loads sequence's duty-cycle array and timing, matching
// pwm_sequence_init.
func (c *Controller) SequenceInit(seq Sequence, dutyCycles []uint16, refresh, endDelay uint32) error {
	if refresh > max24Bit || endDelay > max24Bit {
		return errors.Errorf("pwm: refresh/end_delay exceeds 24-bit range")
	}
	c.sequences[seq] = sequenceState{dutyCycles: dutyCycles, refresh: refresh, endDelay: endDelay, configured: true}
	return nil
}

// ChannelInit ties channel to a GPIO pin, matching pwm_channel_init.
func (c *Controller) ChannelInit(channel Channel, port gpio.Port, pin uint8) error {
	c.channels[channel] = channelState{port: port, pin: pin, configured: true}
	return nil
}

// LoadSequence plays seq for exactly one period in common mode,
// blocking until it completes, matching pwm_load_sequence. The
// simulated "period" is the countertop divided by the prescaled clock;
// callers driving an LED string from a task do not need real timing
// precision here, only the blocking contract.
func (c *Controller) LoadSequence(seq Sequence) error {
	if !c.enabled || !c.sequences[seq].configured {
		return errors.New("pwm: sequence loaded before global/sequence init")
	}
	periodHz := c.prescaler.hz()
	if c.countertop > 0 && periodHz > 0 {
		time.Sleep(time.Duration(c.countertop) * time.Second / time.Duration(periodHz))
	}
	return nil
}
