package scraper

import "sync/atomic"

// Stopper is a cooperative stop flag shared by the crawls of one process.
// Page loops check it before every page and end early when it is set.
type Stopper struct {
	stopped atomic.Bool
}

// NewStopper returns a cleared stop flag.
func NewStopper() *Stopper {
	return &Stopper{}
}

// Set raises or clears the flag.
func (s *Stopper) Set(stop bool) {
	s.stopped.Store(stop)
}

// Stopped reports whether a stop was requested.
func (s *Stopper) Stopped() bool {
	return s != nil && s.stopped.Load()
}
