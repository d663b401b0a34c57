package codec

import "sync/atomic"

// Sequence is a wrapping 0-255 frame sequence counter. One exists per
// payload family; the zero value starts at 0.
type Sequence struct {
	n atomic.Uint32
}

// Next returns the current value and advances the counter.
func (s *Sequence) Next() byte {
	return byte(s.n.Add(1) - 1)
}

// Peek returns the value the next call to Next will produce.
func (s *Sequence) Peek() byte {
	return byte(s.n.Load())
}

// Reset sets the counter back to zero.
func (s *Sequence) Reset() {
	s.n.Store(0)
}
