package envstate

import (
	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/bryanchriswhite/envbridge/internal/window"
)

// propertyKeys maps a property event of the hovered window to the keys it
// invalidates. Both roles are included since the hovered window is often
// the active one too.
var propertyKeys = map[window.PropertyEvent][]string{
	window.PropertyTitle: {
		KeyActiveWindowTitle,
		KeyWindowUnderPointerTitle,
	},
	window.PropertyClass: {
		KeyActiveWindowClass,
		KeyActiveWindowName,
		KeyWindowUnderPointerClass,
		KeyWindowUnderPointerName,
	},
	window.PropertyMaximizedHorizontally: {
		KeyActiveWindowMaximized,
		KeyWindowUnderPointerMaximized,
	},
	window.PropertyMaximizedVertically: {
		KeyActiveWindowMaximized,
		KeyWindowUnderPointerMaximized,
	},
	window.PropertyFullscreen: {
		KeyActiveWindowFullscreen,
		KeyWindowUnderPointerFullscreen,
	},
}

// pointerEvents lists the subscriptions taken on the hovered window, in order
var pointerEvents = []window.PropertyEvent{
	window.PropertyTitle,
	window.PropertyClass,
	window.PropertyMaximizedHorizontally,
	window.PropertyMaximizedVertically,
	window.PropertyFullscreen,
}

// Tracker holds the active and hovered windows and the hovered window's
// property subscriptions. It must only be used from the engine loop.
type Tracker struct {
	backend   window.Backend
	listeners *ListenerSet
	notify    func(keys []string)

	active       window.Window
	underPointer window.Window
}

// NewTracker creates a tracker. notify receives the keys invalidated by a
// property change and may be called from any goroutine.
func NewTracker(backend window.Backend, notify func(keys []string)) *Tracker {
	return &Tracker{
		backend:   backend,
		listeners: NewListenerSet(backend),
		notify:    notify,
	}
}

// ActiveWindow returns the focused window or nil
func (t *Tracker) ActiveWindow() window.Window {
	return t.active
}

// WindowUnderPointer returns the hovered window or nil
func (t *Tracker) WindowUnderPointer() window.Window {
	return t.underPointer
}

// Listeners exposes the subscription set
func (t *Tracker) Listeners() *ListenerSet {
	return t.listeners
}

// OnFocusChanged re-reads the active window and returns the keys to publish
func (t *Tracker) OnFocusChanged() []string {
	log := logger.WithComponent("tracker")

	w, err := t.backend.ActiveWindow()
	if err != nil {
		log.Debug().Err(err).Msg("Active window unavailable")
		w = nil
	}
	if w != nil && !w.Alive() {
		w = nil
	}
	t.active = w

	if w != nil {
		log.Debug().
			Str("id", string(w.ID())).
			Str("class", w.Class()).
			Msg("Focus changed")
	} else {
		log.Debug().Msg("Focus cleared")
	}
	return ActiveWindowKeys()
}

// ResolvePointer returns the topmost window under the pointer, or nil when
// the adapter returns nothing, a dead window or one not containing the pointer
func (t *Tracker) ResolvePointer() window.Window {
	log := logger.WithComponent("tracker")

	pt, err := t.backend.PointerPosition()
	if err != nil {
		log.Debug().Err(err).Msg("Pointer position unavailable")
		return nil
	}
	w, err := t.backend.WindowAt(pt)
	if err != nil {
		log.Debug().Err(err).Msg("Window lookup failed")
		return nil
	}
	if w == nil || !w.Alive() || !w.Frame().Contains(pt) {
		return nil
	}
	return w
}

// Prune drops roles held by destroyed windows and releases the hovered
// window's listeners. It reports whether the pointer role was cleared.
func (t *Tracker) Prune() bool {
	if t.active != nil && !t.active.Alive() {
		logger.WithComponent("tracker").Debug().
			Str("id", string(t.active.ID())).
			Msg("Active window destroyed")
		t.active = nil
	}

	if t.underPointer == nil || t.underPointer.Alive() {
		return false
	}
	id := t.underPointer.ID()
	t.underPointer = nil
	if err := t.listeners.Release(id); err != nil {
		logger.WithComponent("tracker").Warn().Err(err).Str("id", string(id)).Msg("Failed to release listeners")
	}
	logger.WithComponent("tracker").Debug().Str("id", string(id)).Msg("Window under pointer destroyed")
	return true
}

// OnPointerResolved moves the pointer role to w and returns the keys to publish
func (t *Tracker) OnPointerResolved(w window.Window) []string {
	keys := PointerBaseKeys()
	pruned := t.Prune()
	if !pruned && sameWindow(t.underPointer, w) {
		return keys
	}

	log := logger.WithComponent("tracker")

	if t.underPointer != nil {
		if err := t.listeners.Release(t.underPointer.ID()); err != nil {
			log.Warn().Err(err).Str("id", string(t.underPointer.ID())).Msg("Failed to release listeners")
		}
	}

	if w != nil {
		for _, event := range pointerEvents {
			invalidated := propertyKeys[event]
			if err := t.listeners.Subscribe(w, event, func() { t.notify(invalidated) }); err != nil {
				log.Warn().Err(err).Msg("Failed to subscribe to window property")
			}
		}
		log.Debug().
			Str("id", string(w.ID())).
			Str("class", w.Class()).
			Msg("Window under pointer changed")
	}
	t.underPointer = w

	keys = append(keys, ActiveWindowKeys()...)
	return append(keys, WindowUnderPointerKeys()...)
}

// Reset releases every listener and forgets both roles
func (t *Tracker) Reset() error {
	t.active = nil
	t.underPointer = nil
	return t.listeners.ReleaseAll()
}

func sameWindow(a, b window.Window) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}
