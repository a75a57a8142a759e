package crawler

import (
	"sync"
	"sync/atomic"
)

// StopSignal is a one-shot cancellation flag shared by the coordinator and
// every worker. It flips from false to true once and never resets. The zero
// value is not usable; call NewStopSignal.
type StopSignal struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// NewStopSignal returns an unset signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Stop sets the signal. It is safe to call any number of times from any goroutine.
func (s *StopSignal) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

// Stopped reports whether Stop has been called.
func (s *StopSignal) Stopped() bool {
	return s.stopped.Load()
}

// Done is closed when the signal is set.
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}
