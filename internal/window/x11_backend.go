package window

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
	"github.com/bryanchriswhite/envbridge/internal/logger"
)

// allDesktops is the _NET_WM_DESKTOP value of sticky windows
const allDesktops = 0xFFFFFFFF

// X11Backend implements the Backend interface for EWMH-compliant X11 window managers
type X11Backend struct {
	xu        *xgbutil.XUtil
	root      xproto.Window
	opts      Options
	callbacks *callbackTable
	randrOK   bool

	activeAtom xproto.Atom

	mu       sync.Mutex
	states   map[xproto.Window]wmState
	pointer  Point
	stopChan chan struct{}
	running  bool
	closed   bool
}

// wmState is the subset of _NET_WM_STATE we report on
type wmState struct {
	maxHorz    bool
	maxVert    bool
	fullscreen bool
	hidden     bool
}

func parseWmState(states []string) wmState {
	var s wmState
	for _, state := range states {
		switch state {
		case "_NET_WM_STATE_MAXIMIZED_HORZ":
			s.maxHorz = true
		case "_NET_WM_STATE_MAXIMIZED_VERT":
			s.maxVert = true
		case "_NET_WM_STATE_FULLSCREEN":
			s.fullscreen = true
		case "_NET_WM_STATE_HIDDEN":
			s.hidden = true
		}
	}
	return s
}

// changedEvents lists the property events implied by a _NET_WM_STATE transition
func (s wmState) changedEvents(next wmState) []PropertyEvent {
	var events []PropertyEvent
	if s.maxHorz != next.maxHorz {
		events = append(events, PropertyMaximizedHorizontally)
	}
	if s.maxVert != next.maxVert {
		events = append(events, PropertyMaximizedVertically)
	}
	if s.fullscreen != next.fullscreen {
		events = append(events, PropertyFullscreen)
	}
	return events
}

func x11ID(xid xproto.Window) WindowID {
	return WindowID(strconv.FormatUint(uint64(xid), 10))
}

func xidFromID(id WindowID) (xproto.Window, error) {
	v, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid X11 window id %q: %w", id, err)
	}
	return xproto.Window(v), nil
}

// NewX11Backend creates a new X11 backend
func NewX11Backend(opts Options) (*X11Backend, error) {
	log := logger.WithComponent("x11-backend")

	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	activeAtom, err := xprop.Atm(xu, "_NET_ACTIVE_WINDOW")
	if err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("failed to intern _NET_ACTIVE_WINDOW: %w", err)
	}

	randrOK := true
	if err := randr.Init(xu.Conn()); err != nil {
		log.Warn().Err(err).Msg("RandR unavailable, using root window as the only screen")
		randrOK = false
	}

	if opts.MotionPollInterval <= 0 {
		opts.MotionPollInterval = 16 * time.Millisecond
	}

	return &X11Backend{
		xu:         xu,
		root:       xu.RootWin(),
		opts:       opts,
		callbacks:  newCallbackTable(),
		randrOK:    randrOK,
		activeAtom: activeAtom,
		states:     make(map[xproto.Window]wmState),
	}, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Start selects root property events and starts the event and pointer loops
func (b *X11Backend) Start() error {
	log := logger.WithComponent("x11-backend")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("already running")
	}

	if err := xwindow.New(b.xu, b.root).Listen(xproto.EventMaskPropertyChange); err != nil {
		return fmt.Errorf("failed to set root event mask: %w", err)
	}
	xevent.PropertyNotifyFun(b.onRootProperty).Connect(b.xu, b.root)

	if p, err := b.PointerPosition(); err == nil {
		b.pointer = p
	}

	b.stopChan = make(chan struct{})
	b.running = true

	go xevent.Main(b.xu)
	go b.pollPointer(b.stopChan)

	log.Info().
		Dur("motion_poll_interval", b.opts.MotionPollInterval).
		Bool("randr", b.randrOK).
		Msg("X11 backend started")
	return nil
}

// Close stops the loops and closes the X connection
func (b *X11Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.running {
		close(b.stopChan)
		b.running = false
		xevent.Quit(b.xu)
	}
	b.xu.Conn().Close()
	return nil
}

// onRootProperty turns _NET_ACTIVE_WINDOW changes into focus notifications
func (b *X11Backend) onRootProperty(xu *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
	if ev.Atom == b.activeAtom {
		b.callbacks.notifyGlobal(globalFocus)
	}
}

// onWindowProperty dispatches property changes of a watched client window
func (b *X11Backend) onWindowProperty(xu *xgbutil.XUtil, ev xevent.PropertyNotifyEvent) {
	id := x11ID(ev.Window)
	name, err := xprop.AtomName(xu, ev.Atom)
	if err != nil {
		return
	}

	switch name {
	case "_NET_WM_NAME", "WM_NAME":
		b.callbacks.notifyProperty(id, PropertyTitle)
	case "WM_CLASS":
		b.callbacks.notifyProperty(id, PropertyClass)
	case "_NET_WM_STATE":
		next := b.readState(ev.Window)
		b.mu.Lock()
		prev := b.states[ev.Window]
		b.states[ev.Window] = next
		b.mu.Unlock()
		for _, event := range prev.changedEvents(next) {
			b.callbacks.notifyProperty(id, event)
		}
	}
}

// pollPointer samples the pointer and raises motion notifications. The core
// protocol has no global motion events without grabbing the pointer.
func (b *X11Backend) pollPointer(stop <-chan struct{}) {
	log := logger.WithComponent("x11-backend")
	ticker := time.NewTicker(b.opts.MotionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		p, err := b.PointerPosition()
		if err != nil {
			log.Debug().Err(err).Msg("QueryPointer failed")
			continue
		}

		b.mu.Lock()
		moved := p != b.pointer
		b.pointer = p
		b.mu.Unlock()

		if moved {
			b.callbacks.notifyGlobal(globalPointer)
		}
	}
}

func (b *X11Backend) readState(xid xproto.Window) wmState {
	states, err := ewmh.WmStateGet(b.xu, xid)
	if err != nil {
		return wmState{}
	}
	return parseWmState(states)
}

// ActiveWindow returns the window named by _NET_ACTIVE_WINDOW
func (b *X11Backend) ActiveWindow() (Window, error) {
	xid, err := ewmh.ActiveWindowGet(b.xu)
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_ACTIVE_WINDOW: %w", err)
	}
	if xid == 0 || xid == b.root {
		return nil, nil
	}
	return &x11Window{b: b, xid: xid}, nil
}

// WindowAt walks _NET_CLIENT_LIST_STACKING from the top and returns the first
// interactive client whose frame contains pt
func (b *X11Backend) WindowAt(pt Point) (Window, error) {
	stack, err := ewmh.ClientListStackingGet(b.xu)
	if err != nil || len(stack) == 0 {
		// Some window managers only maintain the unordered list
		stack, err = ewmh.ClientListGet(b.xu)
		if err != nil {
			return nil, fmt.Errorf("failed to get client list: %w", err)
		}
	}

	currentDesktop, err := ewmh.CurrentDesktopGet(b.xu)
	if err != nil {
		currentDesktop = allDesktops
	}

	for i := len(stack) - 1; i >= 0; i-- {
		xid := stack[i]
		if !b.interactive(xid, currentDesktop) {
			continue
		}
		w := &x11Window{b: b, xid: xid}
		if w.Frame().Contains(pt) {
			return w, nil
		}
	}
	return nil, nil
}

// interactive filters out hidden, off-desktop, unmapped and non-normal windows
func (b *X11Backend) interactive(xid xproto.Window, currentDesktop uint) bool {
	attrs, err := xproto.GetWindowAttributes(b.xu.Conn(), xid).Reply()
	if err != nil || attrs.MapState != xproto.MapStateViewable {
		return false
	}

	if b.readState(xid).hidden {
		return false
	}

	if currentDesktop != allDesktops {
		if desktop, err := ewmh.WmDesktopGet(b.xu, xid); err == nil &&
			desktop != allDesktops && desktop != currentDesktop {
			return false
		}
	}

	types, err := ewmh.WmWindowTypeGet(b.xu, xid)
	if err != nil {
		return true
	}
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_DESKTOP", "_NET_WM_WINDOW_TYPE_DOCK",
			"_NET_WM_WINDOW_TYPE_NOTIFICATION", "_NET_WM_WINDOW_TYPE_SPLASH":
			return false
		}
	}
	return true
}

// PointerPosition queries the pointer relative to the root window
func (b *X11Backend) PointerPosition() (Point, error) {
	reply, err := xproto.QueryPointer(b.xu.Conn(), b.root).Reply()
	if err != nil {
		return Point{}, fmt.Errorf("failed to query pointer: %w", err)
	}
	return Point{X: float64(reply.RootX), Y: float64(reply.RootY)}, nil
}

// ScreenAt returns the RandR CRTC containing pt, or the root geometry
func (b *X11Backend) ScreenAt(pt Point) (Geometry, error) {
	if b.randrOK {
		monitors, err := b.monitors()
		if err == nil {
			for _, m := range monitors {
				if m.Contains(pt) {
					return m, nil
				}
			}
			if len(monitors) > 0 {
				return monitors[0], nil
			}
		}
	}

	rootGeom := xwindow.RootGeometry(b.xu)
	if rootGeom == nil {
		return Geometry{}, fmt.Errorf("failed to get root geometry")
	}
	return Geometry{X: rootGeom.X(), Y: rootGeom.Y(), Width: rootGeom.Width(), Height: rootGeom.Height()}, nil
}

// monitors lists active CRTCs
func (b *X11Backend) monitors() ([]Geometry, error) {
	resources, err := randr.GetScreenResourcesCurrent(b.xu.Conn(), b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var monitors []Geometry
	for _, crtc := range resources.Crtcs {
		info, err := randr.GetCrtcInfo(b.xu.Conn(), crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		// Skip disabled CRTCs
		if info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			continue
		}
		monitors = append(monitors, Geometry{
			X:      int(info.X),
			Y:      int(info.Y),
			Width:  int(info.Width),
			Height: int(info.Height),
		})
	}
	return monitors, nil
}

// Subscribe registers cb for event on w, selecting PropertyChange on the
// client window for the first subscription
func (b *X11Backend) Subscribe(w Window, event PropertyEvent, cb func()) (Subscription, error) {
	if w == nil {
		return Subscription{}, fmt.Errorf("subscribe %s: nil window", event)
	}
	xid, err := xidFromID(w.ID())
	if err != nil {
		return Subscription{}, err
	}

	sub, first := b.callbacks.addProperty(w.ID(), event, cb)
	if !first {
		return sub, nil
	}

	if err := xwindow.New(b.xu, xid).Listen(xproto.EventMaskPropertyChange); err != nil {
		b.callbacks.remove(sub)
		return Subscription{}, fmt.Errorf("failed to select property events on %d: %w", xid, err)
	}

	state := b.readState(xid)
	b.mu.Lock()
	b.states[xid] = state
	b.mu.Unlock()

	xevent.PropertyNotifyFun(b.onWindowProperty).Connect(b.xu, xid)
	return sub, nil
}

// OnFocusChanged registers cb for _NET_ACTIVE_WINDOW changes
func (b *X11Backend) OnFocusChanged(cb func()) (Subscription, error) {
	return b.callbacks.addGlobal(globalFocus, cb), nil
}

// OnPointerMoved registers cb for pointer motion
func (b *X11Backend) OnPointerMoved(cb func()) (Subscription, error) {
	return b.callbacks.addGlobal(globalPointer, cb), nil
}

// Unsubscribe removes sub and detaches from the window once nothing watches it
func (b *X11Backend) Unsubscribe(sub Subscription) error {
	if !sub.Valid() {
		return nil
	}
	if !b.callbacks.remove(sub) {
		return nil
	}

	xid, err := xidFromID(sub.window)
	if err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.states, xid)
	b.mu.Unlock()

	xevent.Detach(b.xu, xid)
	// The window may already be gone, in which case the server dropped the selection
	_ = xwindow.New(b.xu, xid).Listen()
	return nil
}

// x11Window reads properties of a client window on demand
type x11Window struct {
	b   *X11Backend
	xid xproto.Window
}

func (w *x11Window) ID() WindowID {
	return x11ID(w.xid)
}

func (w *x11Window) Class() string {
	class, err := icccm.WmClassGet(w.b.xu, w.xid)
	if err != nil {
		return ""
	}
	return class.Class
}

func (w *x11Window) Instance() string {
	class, err := icccm.WmClassGet(w.b.xu, w.xid)
	if err != nil {
		return ""
	}
	return class.Instance
}

func (w *x11Window) Title() string {
	if title, err := ewmh.WmNameGet(w.b.xu, w.xid); err == nil && title != "" {
		return title
	}
	title, err := icccm.WmNameGet(w.b.xu, w.xid)
	if err != nil {
		return ""
	}
	return title
}

func (w *x11Window) PID() int {
	pid, err := ewmh.WmPidGet(w.b.xu, w.xid)
	if err != nil {
		return 0
	}
	return int(pid)
}

func (w *x11Window) Maximized() bool {
	s := w.b.readState(w.xid)
	return s.maxHorz && s.maxVert
}

func (w *x11Window) Fullscreen() bool {
	return w.b.readState(w.xid).fullscreen
}

// Frame returns the geometry including window manager decorations
func (w *x11Window) Frame() Geometry {
	rect, err := xwindow.New(w.b.xu, w.xid).DecorGeometry()
	if err != nil {
		return Geometry{}
	}
	return Geometry{X: rect.X(), Y: rect.Y(), Width: rect.Width(), Height: rect.Height()}
}

func (w *x11Window) Alive() bool {
	_, err := xproto.GetWindowAttributes(w.b.xu.Conn(), w.xid).Reply()
	return err == nil
}
