// Package sigchan provides a non-blocking notification channel: Emit
// never blocks, coalescing signals when the receiver is behind.
package sigchan

// Chan carries "something happened" signals without data.
type Chan struct {
	c chan struct{}
}

// New creates a signal channel with the given buffer.
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit sends a signal. When the buffer is full the signal is dropped;
// the pending one already wakes the receiver.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the channel for select loops.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
