// Package adc simulates the nRF52840 SAADC peripheral in the single
// use this kernel needs it for: one-shot conversion into a caller
// supplied buffer (original_source/kernel/src/adc.c).
package adc

import "math/rand"

// Converter simulates a single-channel successive-approximation ADC.
type Converter struct {
	rng *rand.Rand
}

// NewConverter returns a Converter producing plausible 12-bit samples.
func NewConverter(seed int64) *Converter {
	return &Converter{rng: rand.New(rand.NewSource(seed))}
}

// Sample fills samples with one simulated reading per element, matching
// adc_init's single-shot-per-call contract (the original's num_samples
// parameter is folded into len(samples)).
func (c *Converter) Sample(samples []int16) {
	for i := range samples {
		samples[i] = int16(c.rng.Intn(1 << 12))
	}
}
