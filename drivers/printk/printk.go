// Package printk is a minimal fmt.Printf-style wrapper over the RTT up
// buffer, mirroring original_source/kernel/src/printk.c's role as a
// thin formatting layer over rtt_write.
package printk

import "fmt"

// Sink is anything that can publish bytes to the host-visible trace
// buffer; *kernel.Kernel's WriteBytes satisfies this without printk
// needing to import the kernel package.
type Sink interface {
	WriteBytes(p []byte) int
}

// Printk formats format/args like fmt.Sprintf and writes the result to
// sink, returning the number of bytes the ring buffer actually
// accepted (which may be less than the formatted length if the buffer
// is full, matching flags=2's non-blocking behavior upstream).
func Printk(sink Sink, format string, args ...interface{}) int {
	msg := fmt.Sprintf(format, args...)
	return sink.WriteBytes([]byte(msg))
}
