package envstate

import (
	"sync/atomic"

	"github.com/bryanchriswhite/envbridge/internal/window"
)

// Sampler coalesces pointer motion into at most one resolution per tick
type Sampler struct {
	dirty    atomic.Bool
	resolve  func() window.Window
	resolved func(window.Window)
}

// NewSampler returns a sampler that hands the window resolve finds to resolved
func NewSampler(resolve func() window.Window, resolved func(window.Window)) *Sampler {
	return &Sampler{resolve: resolve, resolved: resolved}
}

// MarkMoved records pointer motion. Safe from any goroutine.
func (s *Sampler) MarkMoved() {
	s.dirty.Store(true)
}

// Dirty reports whether motion arrived since the last tick
func (s *Sampler) Dirty() bool {
	return s.dirty.Load()
}

// OnTick consumes the motion flag and resolves the window under the pointer.
// It reports whether a resolution happened.
func (s *Sampler) OnTick() bool {
	if !s.dirty.CompareAndSwap(true, false) {
		return false
	}
	s.resolved(s.resolve())
	return true
}
