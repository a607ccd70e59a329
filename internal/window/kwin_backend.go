package window

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/hashicorp/go-multierror"
)

// KWin D-Bus constants
const (
	kwinService         = "org.kde.KWin"
	kwinScriptingPath   = "/Scripting"
	kwinScriptingIface  = "org.kde.kwin.Scripting"
	kwinScriptName      = "envbridge"
	bridgeObjectPath    = "/KWinBridge"
	bridgeInterface     = "org.inputactions.KWinBridge"
	defaultBridgeName   = "org.inputactions.envbridge"
	bridgeReadyTimeout  = 2 * time.Second
	bridgeServiceMarker = "__SERVICE__"
)

//go:embed kwin_bridge.js
var bridgeScript string

// kwinWindowState is one window as reported by the bridge script
type kwinWindowState struct {
	ID                    string   `json:"id"`
	Class                 string   `json:"class"`
	Name                  string   `json:"name"`
	Title                 string   `json:"title"`
	PID                   int      `json:"pid"`
	MaximizedHorizontally bool     `json:"maximizedHorizontally"`
	MaximizedVertically   bool     `json:"maximizedVertically"`
	Fullscreen            bool     `json:"fullscreen"`
	Geometry              Geometry `json:"geometry"`
	Interactive           bool     `json:"interactive"`
}

// changedEvents lists the property events implied by moving from s to next
func (s kwinWindowState) changedEvents(next kwinWindowState) []PropertyEvent {
	var events []PropertyEvent
	if s.Title != next.Title {
		events = append(events, PropertyTitle)
	}
	if s.Class != next.Class || s.Name != next.Name {
		events = append(events, PropertyClass)
	}
	if s.MaximizedHorizontally != next.MaximizedHorizontally {
		events = append(events, PropertyMaximizedHorizontally)
	}
	if s.MaximizedVertically != next.MaximizedVertically {
		events = append(events, PropertyMaximizedVertically)
	}
	if s.Fullscreen != next.Fullscreen {
		events = append(events, PropertyFullscreen)
	}
	return events
}

// KWinBackend implements the Backend interface on Plasma. A KWin script
// mirrors window state into this process over D-Bus, so every query is
// answered from the local mirror.
type KWinBackend struct {
	conn       *dbus.Conn
	opts       Options
	callbacks  *callbackTable
	scriptPath string

	mu       sync.RWMutex
	windows  map[WindowID]kwinWindowState
	stacking []WindowID
	active   WindowID
	cursor   Point
	outputs  []Geometry

	ready     chan struct{}
	readyOnce sync.Once
	started   bool
	closed    bool
}

// NewKWinBackend connects to the session bus and checks that KWin is present
func NewKWinBackend(opts Options) (*KWinBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	kwinFound := false
	for _, name := range names {
		if name == kwinService {
			kwinFound = true
			break
		}
	}
	if !kwinFound {
		conn.Close()
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	return newKWinBackend(conn, opts), nil
}

func newKWinBackend(conn *dbus.Conn, opts Options) *KWinBackend {
	if opts.BridgeService == "" {
		opts.BridgeService = defaultBridgeName
	}
	return &KWinBackend{
		conn:      conn,
		opts:      opts,
		callbacks: newCallbackTable(),
		windows:   make(map[WindowID]kwinWindowState),
		ready:     make(chan struct{}),
	}
}

// Name returns the backend name
func (b *KWinBackend) Name() string {
	return "kwin"
}

// Start exports the bridge object, loads the script and waits for its first report
func (b *KWinBackend) Start() error {
	log := logger.WithComponent("kwin-backend")

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("already running")
	}
	b.started = true
	b.mu.Unlock()

	reply, err := b.conn.RequestName(b.opts.BridgeService, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", b.opts.BridgeService, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", b.opts.BridgeService)
	}

	if err := b.exportBridge(); err != nil {
		b.releaseName()
		return err
	}

	if err := b.loadScript(); err != nil {
		b.releaseName()
		return err
	}

	select {
	case <-b.ready:
	case <-time.After(bridgeReadyTimeout):
		err := fmt.Errorf("KWin bridge script did not report within %s", bridgeReadyTimeout)
		if uerr := b.unloadScript(); uerr != nil {
			err = multierror.Append(err, uerr)
		}
		b.releaseName()
		return err
	}

	b.mu.RLock()
	log.Info().
		Str("bridge_service", b.opts.BridgeService).
		Int("windows", len(b.windows)).
		Int("outputs", len(b.outputs)).
		Msg("KWin backend started")
	b.mu.RUnlock()
	return nil
}

func (b *KWinBackend) exportBridge() error {
	if err := b.conn.Export(&kwinBridge{b: b}, bridgeObjectPath, bridgeInterface); err != nil {
		return fmt.Errorf("failed to export bridge object: %w", err)
	}

	str := func(name string) introspect.Arg { return introspect.Arg{Name: name, Type: "s", Direction: "in"} }
	node := &introspect.Node{
		Name: bridgeObjectPath,
		Interfaces: []introspect.Interface{{
			Name: bridgeInterface,
			Methods: []introspect.Method{
				{Name: "WindowChanged", Args: []introspect.Arg{str("window")}},
				{Name: "WindowRemoved", Args: []introspect.Arg{str("id")}},
				{Name: "ActiveWindowChanged", Args: []introspect.Arg{str("id")}},
				{Name: "CursorMoved", Args: []introspect.Arg{
					{Name: "x", Type: "d", Direction: "in"},
					{Name: "y", Type: "d", Direction: "in"},
				}},
				{Name: "StackingChanged", Args: []introspect.Arg{str("ids")}},
				{Name: "OutputsChanged", Args: []introspect.Arg{str("outputs")}},
				{Name: "Ready"},
			},
		}},
	}
	if err := b.conn.Export(introspect.NewIntrospectable(node), bridgeObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}
	return nil
}

func (b *KWinBackend) loadScript() error {
	log := logger.WithComponent("kwin-backend")

	f, err := os.CreateTemp("", "envbridge-kwin-*.js")
	if err != nil {
		return fmt.Errorf("failed to create script file: %w", err)
	}
	script := strings.ReplaceAll(bridgeScript, bridgeServiceMarker, b.opts.BridgeService)
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write script file: %w", err)
	}
	f.Close()
	b.scriptPath = f.Name()

	scripting := b.conn.Object(kwinService, kwinScriptingPath)

	// A previous instance that crashed leaves its script loaded
	var loaded bool
	if err := scripting.Call(kwinScriptingIface+".isScriptLoaded", 0, kwinScriptName).Store(&loaded); err == nil && loaded {
		log.Debug().Msg("Unloading stale bridge script")
		scripting.Call(kwinScriptingIface+".unloadScript", 0, kwinScriptName)
	}

	var scriptID int32
	if err := scripting.Call(kwinScriptingIface+".loadScript", 0, b.scriptPath, kwinScriptName).Store(&scriptID); err != nil {
		os.Remove(b.scriptPath)
		return fmt.Errorf("failed to load KWin script: %w", err)
	}
	if scriptID < 0 {
		os.Remove(b.scriptPath)
		return fmt.Errorf("KWin rejected bridge script")
	}

	if call := scripting.Call(kwinScriptingIface+".start", 0); call.Err != nil {
		b.unloadScript()
		return fmt.Errorf("failed to start KWin scripting: %w", call.Err)
	}

	log.Debug().
		Str("path", b.scriptPath).
		Int32("script_id", scriptID).
		Msg("Bridge script loaded")
	return nil
}

func (b *KWinBackend) unloadScript() error {
	var result error
	var unloaded bool
	err := b.conn.Object(kwinService, kwinScriptingPath).
		Call(kwinScriptingIface+".unloadScript", 0, kwinScriptName).
		Store(&unloaded)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to unload KWin script: %w", err))
	}
	if b.scriptPath != "" {
		if err := os.Remove(b.scriptPath); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
		b.scriptPath = ""
	}
	return result
}

func (b *KWinBackend) releaseName() {
	b.conn.ReleaseName(b.opts.BridgeService)
}

// Close unloads the script and closes the bus connection
func (b *KWinBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	var result error
	if started {
		if err := b.unloadScript(); err != nil {
			result = multierror.Append(result, err)
		}
		if _, err := b.conn.ReleaseName(b.opts.BridgeService); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := b.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// applyWindow stores a reported window and fires events for changed properties
func (b *KWinBackend) applyWindow(data []byte) error {
	var next kwinWindowState
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("invalid window report: %w", err)
	}
	if next.ID == "" {
		return fmt.Errorf("window report without id")
	}
	id := WindowID(next.ID)

	b.mu.Lock()
	prev, known := b.windows[id]
	b.windows[id] = next
	b.mu.Unlock()

	if !known || !b.callbacks.watching(id) {
		return nil
	}
	for _, event := range prev.changedEvents(next) {
		b.callbacks.notifyProperty(id, event)
	}
	return nil
}

func (b *KWinBackend) removeWindow(id WindowID) {
	b.mu.Lock()
	delete(b.windows, id)
	for i, sid := range b.stacking {
		if sid == id {
			b.stacking = append(b.stacking[:i:i], b.stacking[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if b.callbacks.forget(id) {
		logger.WithComponent("kwin-backend").Debug().
			Str("id", string(id)).
			Msg("Watched window closed")
	}
}

func (b *KWinBackend) setActive(id WindowID) {
	b.mu.Lock()
	changed := b.active != id
	b.active = id
	b.mu.Unlock()

	if changed {
		b.callbacks.notifyGlobal(globalFocus)
	}
}

func (b *KWinBackend) setCursor(p Point) {
	b.mu.Lock()
	moved := b.cursor != p
	b.cursor = p
	b.mu.Unlock()

	if moved {
		b.callbacks.notifyGlobal(globalPointer)
	}
}

func (b *KWinBackend) setStacking(data []byte) error {
	var ids []WindowID
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("invalid stacking report: %w", err)
	}
	b.mu.Lock()
	b.stacking = ids
	b.mu.Unlock()
	return nil
}

func (b *KWinBackend) setOutputs(data []byte) error {
	var outputs []Geometry
	if err := json.Unmarshal(data, &outputs); err != nil {
		return fmt.Errorf("invalid outputs report: %w", err)
	}
	b.mu.Lock()
	b.outputs = outputs
	b.mu.Unlock()
	return nil
}

func (b *KWinBackend) markReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *KWinBackend) lookup(id WindowID) (kwinWindowState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.windows[id]
	return s, ok
}

// ActiveWindow returns the window KWin last reported as active
func (b *KWinBackend) ActiveWindow() (Window, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.active == "" {
		return nil, nil
	}
	if _, ok := b.windows[b.active]; !ok {
		return nil, nil
	}
	return &kwinWindow{b: b, id: b.active}, nil
}

// WindowAt walks the stacking order from the top
func (b *KWinBackend) WindowAt(pt Point) (Window, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.stacking) - 1; i >= 0; i-- {
		s, ok := b.windows[b.stacking[i]]
		if !ok || !s.Interactive {
			continue
		}
		if s.Geometry.Contains(pt) {
			return &kwinWindow{b: b, id: b.stacking[i]}, nil
		}
	}
	return nil, nil
}

// PointerPosition returns the last reported cursor position
func (b *KWinBackend) PointerPosition() (Point, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor, nil
}

// ScreenAt returns the output containing pt
func (b *KWinBackend) ScreenAt(pt Point) (Geometry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range b.outputs {
		if o.Contains(pt) {
			return o, nil
		}
	}
	if len(b.outputs) > 0 {
		return b.outputs[0], nil
	}
	return Geometry{}, fmt.Errorf("no outputs reported")
}

// Subscribe registers cb for event on w. The script reports every window, so
// nothing needs to be attached on the KWin side.
func (b *KWinBackend) Subscribe(w Window, event PropertyEvent, cb func()) (Subscription, error) {
	if w == nil {
		return Subscription{}, fmt.Errorf("subscribe %s: nil window", event)
	}
	sub, _ := b.callbacks.addProperty(w.ID(), event, cb)
	return sub, nil
}

// OnFocusChanged registers cb for active window changes
func (b *KWinBackend) OnFocusChanged(cb func()) (Subscription, error) {
	return b.callbacks.addGlobal(globalFocus, cb), nil
}

// OnPointerMoved registers cb for cursor motion
func (b *KWinBackend) OnPointerMoved(cb func()) (Subscription, error) {
	return b.callbacks.addGlobal(globalPointer, cb), nil
}

// Unsubscribe removes sub
func (b *KWinBackend) Unsubscribe(sub Subscription) error {
	if !sub.Valid() {
		return nil
	}
	b.callbacks.remove(sub)
	return nil
}

// kwinBridge is the object the KWin script calls. Kept separate from
// KWinBackend so only these methods are exported on the bus.
type kwinBridge struct {
	b *KWinBackend
}

func (br *kwinBridge) WindowChanged(data string) *dbus.Error {
	if err := br.b.applyWindow([]byte(data)); err != nil {
		logger.WithComponent("kwin-backend").Warn().Err(err).Msg("Dropping window report")
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (br *kwinBridge) WindowRemoved(id string) *dbus.Error {
	br.b.removeWindow(WindowID(id))
	return nil
}

func (br *kwinBridge) ActiveWindowChanged(id string) *dbus.Error {
	br.b.setActive(WindowID(id))
	return nil
}

func (br *kwinBridge) CursorMoved(x, y float64) *dbus.Error {
	br.b.setCursor(Point{X: x, Y: y})
	return nil
}

func (br *kwinBridge) StackingChanged(data string) *dbus.Error {
	if err := br.b.setStacking([]byte(data)); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (br *kwinBridge) OutputsChanged(data string) *dbus.Error {
	if err := br.b.setOutputs([]byte(data)); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (br *kwinBridge) Ready() *dbus.Error {
	br.b.markReady()
	return nil
}

// kwinWindow reads a window from the mirror
type kwinWindow struct {
	b  *KWinBackend
	id WindowID
}

func (w *kwinWindow) ID() WindowID {
	return w.id
}

func (w *kwinWindow) Class() string {
	s, _ := w.b.lookup(w.id)
	return s.Class
}

func (w *kwinWindow) Instance() string {
	s, _ := w.b.lookup(w.id)
	return s.Name
}

func (w *kwinWindow) Title() string {
	s, _ := w.b.lookup(w.id)
	return s.Title
}

func (w *kwinWindow) PID() int {
	s, _ := w.b.lookup(w.id)
	return s.PID
}

func (w *kwinWindow) Maximized() bool {
	s, _ := w.b.lookup(w.id)
	return s.MaximizedHorizontally && s.MaximizedVertically
}

func (w *kwinWindow) Fullscreen() bool {
	s, _ := w.b.lookup(w.id)
	return s.Fullscreen
}

func (w *kwinWindow) Frame() Geometry {
	s, _ := w.b.lookup(w.id)
	return s.Geometry
}

func (w *kwinWindow) Alive() bool {
	_, ok := w.b.lookup(w.id)
	return ok
}
