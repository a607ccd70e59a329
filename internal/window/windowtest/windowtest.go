// Package windowtest provides an in-memory window.Backend for tests.
package windowtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/envbridge/internal/window"
)

// Window is a mutable window.Window
type Window struct {
	mu         sync.Mutex
	id         window.WindowID
	class      string
	instance   string
	title      string
	pid        int
	maxHorz    bool
	maxVert    bool
	fullscreen bool
	frame      window.Geometry
	dead       bool
}

// NewWindow creates a live window. The instance name defaults to the class.
func NewWindow(id, class, title string, frame window.Geometry) *Window {
	return &Window{
		id:       window.WindowID(id),
		class:    class,
		instance: class,
		title:    title,
		frame:    frame,
	}
}

func (w *Window) ID() window.WindowID {
	return w.id
}

func (w *Window) Class() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.class
}

func (w *Window) Instance() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.instance
}

func (w *Window) Title() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

func (w *Window) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

func (w *Window) Maximized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxHorz && w.maxVert
}

func (w *Window) Fullscreen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fullscreen
}

func (w *Window) Frame() window.Geometry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

func (w *Window) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.dead
}

func (w *Window) SetTitle(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.title = title
}

func (w *Window) SetClass(class, instance string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.class = class
	w.instance = instance
}

func (w *Window) SetPID(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pid = pid
}

func (w *Window) SetMaximized(horizontally, vertically bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxHorz = horizontally
	w.maxVert = vertically
}

func (w *Window) SetFullscreen(fullscreen bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fullscreen = fullscreen
}

func (w *Window) SetFrame(frame window.Geometry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame = frame
}

// Kill marks the window destroyed
func (w *Window) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dead = true
}

var _ window.Backend = (*Backend)(nil)

type propertySub struct {
	window window.WindowID
	event  window.PropertyEvent
	cb     func()
}

// Backend is an in-memory window.Backend. Windows are hit-tested top-down in
// the order they were added.
type Backend struct {
	mu            sync.Mutex
	nextID        uint64
	active        *Window
	stack         []*Window
	pointer       window.Point
	screens       []window.Geometry
	properties    map[uint64]propertySub
	focus         map[uint64]func()
	motion        map[uint64]func()
	windowAtCalls int

	// Errors returned by the matching calls when set
	FocusErr     error
	PointerErr   error
	SubscribeErr error
}

// NewBackend creates a backend with a single 1920x1080 screen
func NewBackend() *Backend {
	return &Backend{
		screens:    []window.Geometry{{Width: 1920, Height: 1080}},
		properties: make(map[uint64]propertySub),
		focus:      make(map[uint64]func()),
		motion:     make(map[uint64]func()),
	}
}

func (b *Backend) Start() error { return nil }
func (b *Backend) Close() error { return nil }
func (b *Backend) Name() string { return "fake" }

func (b *Backend) ActiveWindow() (window.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return nil, nil
	}
	return b.active, nil
}

func (b *Backend) WindowAt(pt window.Point) (window.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.windowAtCalls++
	for i := len(b.stack) - 1; i >= 0; i-- {
		if b.stack[i].Frame().Contains(pt) {
			return b.stack[i], nil
		}
	}
	return nil, nil
}

func (b *Backend) PointerPosition() (window.Point, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointer, nil
}

func (b *Backend) ScreenAt(pt window.Point) (window.Geometry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.screens {
		if s.Contains(pt) {
			return s, nil
		}
	}
	if len(b.screens) == 0 {
		return window.Geometry{}, fmt.Errorf("no screens")
	}
	return b.screens[0], nil
}

func (b *Backend) Subscribe(w window.Window, event window.PropertyEvent, cb func()) (window.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SubscribeErr != nil {
		return window.Subscription{}, b.SubscribeErr
	}
	b.nextID++
	b.properties[b.nextID] = propertySub{window: w.ID(), event: event, cb: cb}
	return window.NewSubscription(b.nextID, w.ID(), event), nil
}

func (b *Backend) OnFocusChanged(cb func()) (window.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FocusErr != nil {
		return window.Subscription{}, b.FocusErr
	}
	b.nextID++
	b.focus[b.nextID] = cb
	return window.NewSubscription(b.nextID, "", 0), nil
}

func (b *Backend) OnPointerMoved(cb func()) (window.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PointerErr != nil {
		return window.Subscription{}, b.PointerErr
	}
	b.nextID++
	b.motion[b.nextID] = cb
	return window.NewSubscription(b.nextID, "", 0), nil
}

func (b *Backend) Unsubscribe(sub window.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.properties, sub.ID())
	delete(b.focus, sub.ID())
	delete(b.motion, sub.ID())
	return nil
}

// AddWindow places w on top of the stack
func (b *Backend) AddWindow(w *Window) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack = append(b.stack, w)
}

// SetScreens replaces the display layout
func (b *Backend) SetScreens(screens ...window.Geometry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screens = screens
}

// Focus makes w active (nil clears focus) and fires focus callbacks
func (b *Backend) Focus(w *Window) {
	b.mu.Lock()
	b.active = w
	cbs := collect(b.focus)
	b.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// MovePointer moves the pointer and fires motion callbacks
func (b *Backend) MovePointer(pt window.Point) {
	b.mu.Lock()
	b.pointer = pt
	cbs := collect(b.motion)
	b.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// FireProperty runs the callbacks subscribed to event on id
func (b *Backend) FireProperty(id window.WindowID, event window.PropertyEvent) {
	b.mu.Lock()
	var cbs []func()
	for _, sub := range b.properties {
		if sub.window == id && sub.event == event {
			cbs = append(cbs, sub.cb)
		}
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// Subscriptions returns the events subscribed on id, sorted
func (b *Backend) Subscriptions(id window.WindowID) []window.PropertyEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var events []window.PropertyEvent
	for _, sub := range b.properties {
		if sub.window == id {
			events = append(events, sub.event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// ActiveSubscriptions counts every live subscription
func (b *Backend) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.properties) + len(b.focus) + len(b.motion)
}

// WindowAtCalls counts WindowAt lookups
func (b *Backend) WindowAtCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowAtCalls
}

func collect(m map[uint64]func()) []func() {
	cbs := make([]func(), 0, len(m))
	for _, cb := range m {
		cbs = append(cbs, cb)
	}
	return cbs
}
