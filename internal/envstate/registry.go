package envstate

import (
	"fmt"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/bryanchriswhite/envbridge/internal/window"
)

// Accessor computes one attribute from live state
type Accessor func() interface{}

// State exposes the tracked window roles to accessors
type State interface {
	ActiveWindow() window.Window
	WindowUnderPointer() window.Window
}

// PointerSource answers pointer and display queries
type PointerSource interface {
	PointerPosition() (window.Point, error)
	ScreenAt(pt window.Point) (window.Geometry, error)
}

type attribute struct {
	name string
	get  Accessor
}

// Registry is the ordered, immutable table of publishable attributes
type Registry struct {
	attrs []attribute
	index map[string]int
}

// NewRegistry builds the registry over state and pointer
func NewRegistry(state State, pointer PointerSource) *Registry {
	var attrs []attribute
	attrs = append(attrs, windowAttributes("active_window", state.ActiveWindow, false)...)
	attrs = append(attrs,
		attribute{KeyPointerPositionGlobal, pointerGlobal(pointer)},
		attribute{KeyPointerPositionScreenPercentage, pointerScreenPercentage(pointer)},
	)
	attrs = append(attrs, windowAttributes("window_under_pointer", state.WindowUnderPointer, true)...)

	r := &Registry{
		attrs: attrs,
		index: make(map[string]int, len(attrs)),
	}
	for i, a := range attrs {
		r.index[a.name] = i
	}
	return r
}

type noState struct{}

func (noState) ActiveWindow() window.Window       { return nil }
func (noState) WindowUnderPointer() window.Window { return nil }

// AttributeKeys lists the registry keys without any live state behind them
func AttributeKeys() []string {
	return NewRegistry(noState{}, nil).Keys()
}

// windowAttributes returns the per-role attributes in class, id, fullscreen,
// maximized, name, title, pid order, plus geometry when requested
func windowAttributes(prefix string, current func() window.Window, withGeometry bool) []attribute {
	read := func(f func(window.Window) interface{}) Accessor {
		return func() interface{} {
			w := current()
			if w == nil || !w.Alive() {
				return nil
			}
			return f(w)
		}
	}

	attrs := []attribute{
		{prefix + "_class", read(func(w window.Window) interface{} { return w.Class() })},
		{prefix + "_id", read(func(w window.Window) interface{} { return string(w.ID()) })},
		{prefix + "_fullscreen", read(func(w window.Window) interface{} { return w.Fullscreen() })},
		{prefix + "_maximized", func() interface{} {
			w := current()
			return w != nil && w.Alive() && w.Maximized()
		}},
		{prefix + "_name", read(func(w window.Window) interface{} { return w.Instance() })},
		{prefix + "_title", read(func(w window.Window) interface{} { return w.Title() })},
		{prefix + "_pid", read(func(w window.Window) interface{} {
			if pid := w.PID(); pid > 0 {
				return pid
			}
			return nil
		})},
	}
	if withGeometry {
		attrs = append(attrs, attribute{prefix + "_geometry", read(func(w window.Window) interface{} {
			g := w.Frame()
			return [4]int{g.X, g.Y, g.Width, g.Height}
		})})
	}
	return attrs
}

func pointerGlobal(pointer PointerSource) Accessor {
	return func() interface{} {
		pt, err := pointer.PointerPosition()
		if err != nil {
			logger.WithComponent("engine").Debug().Err(err).Msg("Pointer position unavailable")
			return nil
		}
		return [2]float64{pt.X, pt.Y}
	}
}

func pointerScreenPercentage(pointer PointerSource) Accessor {
	return func() interface{} {
		log := logger.WithComponent("engine")

		pt, err := pointer.PointerPosition()
		if err != nil {
			log.Debug().Err(err).Msg("Pointer position unavailable")
			return nil
		}
		screen, err := pointer.ScreenAt(pt)
		if err != nil || screen.Width <= 0 || screen.Height <= 0 {
			log.Debug().Err(err).Msg("Screen geometry unavailable")
			return [2]float64{0, 0}
		}
		return [2]float64{
			clamp01((pt.X - float64(screen.X)) / float64(screen.Width)),
			clamp01((pt.Y - float64(screen.Y)) / float64(screen.Height)),
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Keys returns every attribute name in registry order
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.attrs))
	for i, a := range r.attrs {
		keys[i] = a.name
	}
	return keys
}

// Has reports whether key is registered
func (r *Registry) Has(key string) bool {
	_, ok := r.index[key]
	return ok
}

// Validate returns an error wrapping ErrUnknownAttribute for the first unknown key
func (r *Registry) Validate(keys []string) error {
	for _, key := range keys {
		if !r.Has(key) {
			return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
		}
	}
	return nil
}

// Build evaluates keys in the order given, or the whole registry when keys
// is empty. Duplicates keep their first position.
func (r *Registry) Build(keys []string) (*Snapshot, error) {
	if len(keys) == 0 {
		keys = r.Keys()
	}
	if err := r.Validate(keys); err != nil {
		return nil, err
	}

	snap := newSnapshot(len(keys))
	for _, key := range keys {
		if _, done := snap.Get(key); done {
			continue
		}
		snap.set(key, r.attrs[r.index[key]].get())
	}
	return snap, nil
}
