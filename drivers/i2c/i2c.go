// Package i2c simulates the nRF52840 TWIM peripheral in leader mode
// (original_source/kernel/src/i2c.c), used by the radar application to
// send range readings to a simulated host collector follower.
package i2c

import "github.com/pkg/errors"

// LuxFollowerAddress is the 7-bit address of an ambient-light (lux)
// sensor, matching LUX_BASE_ADDRESS. The radar app does not use it.
const LuxFollowerAddress = 0x10

// Leader simulates a single TWIM instance in leader (controller) mode.
// Writes and reads against registers of a simulated set of follower
// devices, keyed by address, stand in for the real bus transaction.
type Leader struct {
	enabled   bool
	followers map[uint8]*follower
}

type follower struct {
	registers map[uint8]byte
}

// NewLeader returns an initialized Leader, matching i2c_leader_init.
func NewLeader() *Leader {
	return &Leader{enabled: true, followers: make(map[uint8]*follower)}
}

// AttachFollower registers a simulated follower device at addr so
// Write/Read have somewhere to land; real hardware has no such call,
// it's the in-process stand-in for a device actually being wired up.
func (l *Leader) AttachFollower(addr uint8) {
	l.followers[addr] = &follower{registers: make(map[uint8]byte)}
}

// Write sends txBuf to followerAddr, matching i2c_leader_write: the
// first byte of txBuf selects the follower's register, every
// subsequent byte is stored there in sequence.
func (l *Leader) Write(txBuf []byte, followerAddr uint8) error {
	if !l.enabled {
		return errors.New("i2c: leader not enabled")
	}
	f, ok := l.followers[followerAddr]
	if !ok || len(txBuf) == 0 {
		return errors.Errorf("i2c: address %#x not acknowledged", followerAddr)
	}
	reg := txBuf[0]
	for i, b := range txBuf[1:] {
		f.registers[reg+uint8(i)] = b
	}
	return nil
}

// Read reads len(rxBuf) bytes from followerAddr starting at register 0.
// The register selected by a previous Write is not remembered, so
// reads always start from register 0.
func (l *Leader) Read(rxBuf []byte, followerAddr uint8) error {
	if !l.enabled {
		return errors.New("i2c: leader not enabled")
	}
	f, ok := l.followers[followerAddr]
	if !ok {
		return errors.Errorf("i2c: address %#x not acknowledged", followerAddr)
	}
	for i := range rxBuf {
		rxBuf[i] = f.registers[uint8(i)]
	}
	return nil
}

// Stop issues an unconditional STOP, matching i2c_leader_stop. The
// simulated bus has no in-flight transaction state to tear down.
func (l *Leader) Stop() {}
