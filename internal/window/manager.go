package window

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Backend kinds accepted by New
const (
	KindAuto = "auto"
	KindX11  = "x11"
	KindKWin = "kwin"
)

// Options carries backend-specific settings
type Options struct {
	// MotionPollInterval is how often the X11 backend samples the pointer
	MotionPollInterval time.Duration
	// BridgeService is the bus name the KWin bridge script calls back to
	BridgeService string
}

// New creates the backend of the given kind. KindAuto prefers KWin when its
// service is on the session bus and falls back to X11.
func New(kind string, opts Options) (Backend, error) {
	log := logger.WithComponent("window")

	switch kind {
	case KindX11:
		return NewX11Backend(opts)
	case KindKWin:
		return NewKWinBackend(opts)
	case KindAuto, "":
		if kwinAvailable() {
			log.Info().Msg("KWin detected on session bus, using kwin backend")
			return NewKWinBackend(opts)
		}
		if os.Getenv("DISPLAY") != "" {
			log.Info().Msg("Using x11 backend")
			return NewX11Backend(opts)
		}
		return nil, fmt.Errorf("no supported window manager found (KWin not on session bus, DISPLAY not set)")
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// kwinAvailable checks whether org.kde.KWin owns a name on the session bus
func kwinAvailable() bool {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return false
	}
	for _, name := range names {
		if name == kwinService {
			return true
		}
	}
	return false
}

type globalEvent int

const (
	globalNone globalEvent = iota
	globalFocus
	globalPointer
)

type propertyCallback struct {
	event PropertyEvent
	cb    func()
}

// callbackTable holds the callbacks registered on a backend. Backends use the
// first/last flags to attach and detach their native per-window listeners.
type callbackTable struct {
	mu      sync.RWMutex
	nextID  uint64
	windows map[WindowID]map[uint64]propertyCallback
	globals map[globalEvent]map[uint64]func()
}

func newCallbackTable() *callbackTable {
	return &callbackTable{
		windows: make(map[WindowID]map[uint64]propertyCallback),
		globals: make(map[globalEvent]map[uint64]func()),
	}
}

// addProperty registers cb and reports whether it is the first one for w
func (t *callbackTable) addProperty(w WindowID, event PropertyEvent, cb func()) (Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	subs, ok := t.windows[w]
	if !ok {
		subs = make(map[uint64]propertyCallback)
		t.windows[w] = subs
	}
	subs[t.nextID] = propertyCallback{event: event, cb: cb}
	return Subscription{id: t.nextID, window: w, event: event}, !ok
}

func (t *callbackTable) addGlobal(event globalEvent, cb func()) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	subs, ok := t.globals[event]
	if !ok {
		subs = make(map[uint64]func())
		t.globals[event] = subs
	}
	subs[t.nextID] = cb
	return Subscription{id: t.nextID, global: event}
}

// remove drops sub and reports whether its window has no callbacks left
func (t *callbackTable) remove(sub Subscription) (lastForWindow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sub.global != globalNone {
		delete(t.globals[sub.global], sub.id)
		return false
	}

	subs, ok := t.windows[sub.window]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(t.windows, sub.window)
		return true
	}
	return false
}

// forget drops every callback bound to w, used when the window disappears
func (t *callbackTable) forget(w WindowID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.windows[w]
	delete(t.windows, w)
	return ok
}

func (t *callbackTable) watching(w WindowID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.windows[w]
	return ok
}

// notifyProperty runs the callbacks for (w, event) outside the lock
func (t *callbackTable) notifyProperty(w WindowID, event PropertyEvent) {
	t.mu.RLock()
	var cbs []func()
	for _, pc := range t.windows[w] {
		if pc.event == event {
			cbs = append(cbs, pc.cb)
		}
	}
	t.mu.RUnlock()

	for _, cb := range cbs {
		cb()
	}
}

func (t *callbackTable) notifyGlobal(event globalEvent) {
	t.mu.RLock()
	cbs := make([]func(), 0, len(t.globals[event]))
	for _, cb := range t.globals[event] {
		cbs = append(cbs, cb)
	}
	t.mu.RUnlock()

	for _, cb := range cbs {
		cb()
	}
}
