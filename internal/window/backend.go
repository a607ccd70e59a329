package window

import "fmt"

// WindowID identifies a window within one backend. X11 uses the decimal XID,
// KWin the internal UUID.
type WindowID string

// Point is a global pointer coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry represents a window frame or display rectangle
type Geometry struct {
	X      int `json:"x" mapstructure:"x"`
	Y      int `json:"y" mapstructure:"y"`
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// Contains reports whether p lies within g, borders included
func (g Geometry) Contains(p Point) bool {
	return p.X >= float64(g.X) &&
		p.Y >= float64(g.Y) &&
		p.X <= float64(g.X+g.Width) &&
		p.Y <= float64(g.Y+g.Height)
}

// PropertyEvent names a per-window property change a caller can subscribe to
type PropertyEvent int

const (
	PropertyTitle PropertyEvent = iota
	PropertyClass
	PropertyMaximizedHorizontally
	PropertyMaximizedVertically
	PropertyFullscreen
)

func (e PropertyEvent) String() string {
	switch e {
	case PropertyTitle:
		return "title"
	case PropertyClass:
		return "class"
	case PropertyMaximizedHorizontally:
		return "maximized-horizontally"
	case PropertyMaximizedVertically:
		return "maximized-vertically"
	case PropertyFullscreen:
		return "fullscreen"
	default:
		return fmt.Sprintf("PropertyEvent(%d)", int(e))
	}
}

// Window is a live reference to a window owned by the backend. Getters read
// current state on every call and return zero values once the window is gone.
type Window interface {
	ID() WindowID
	Class() string
	Instance() string
	Title() string
	PID() int
	// Maximized is true only when maximized on both axes
	Maximized() bool
	Fullscreen() bool
	Frame() Geometry
	Alive() bool
}

// Subscription is a token returned by Backend subscribe calls
type Subscription struct {
	id     uint64
	window WindowID
	event  PropertyEvent
	global globalEvent
}

// NewSubscription issues a token for Backend implementations outside this
// package. id must be non-zero and unique within the backend.
func NewSubscription(id uint64, w WindowID, event PropertyEvent) Subscription {
	return Subscription{id: id, window: w, event: event}
}

// ID returns the backend-assigned token id
func (s Subscription) ID() uint64 {
	return s.id
}

// Window returns the window a property subscription is bound to ("" for host-level ones)
func (s Subscription) Window() WindowID {
	return s.window
}

// Event returns the property event of a per-window subscription
func (s Subscription) Event() PropertyEvent {
	return s.event
}

// Valid reports whether s was issued by a backend
func (s Subscription) Valid() bool {
	return s.id != 0
}

// Backend defines the window manager capability surface (X11, KWin, ...)
type Backend interface {
	// Start connects to the display server and starts delivering notifications
	Start() error

	// Close stops notifications and closes the connection
	Close() error

	// Name returns the backend name (e.g., "x11", "kwin")
	Name() string

	// ActiveWindow returns the focused window, or nil when nothing has focus
	ActiveWindow() (Window, error)

	// WindowAt returns the topmost interactive window at pt, or nil
	WindowAt(pt Point) (Window, error)

	// PointerPosition returns the global pointer coordinate
	PointerPosition() (Point, error)

	// ScreenAt returns the geometry of the display containing pt
	ScreenAt(pt Point) (Geometry, error)

	// Subscribe registers cb for event on w
	Subscribe(w Window, event PropertyEvent, cb func()) (Subscription, error)

	// OnFocusChanged registers cb for host focus-change notifications
	OnFocusChanged(cb func()) (Subscription, error)

	// OnPointerMoved registers cb for raw pointer-motion notifications
	OnPointerMoved(cb func()) (Subscription, error)

	// Unsubscribe removes a subscription. Unknown or already removed
	// subscriptions are ignored.
	Unsubscribe(sub Subscription) error
}
