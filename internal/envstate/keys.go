package envstate

import "errors"

// Attribute names in registry order
const (
	KeyActiveWindowClass      = "active_window_class"
	KeyActiveWindowID         = "active_window_id"
	KeyActiveWindowFullscreen = "active_window_fullscreen"
	KeyActiveWindowMaximized  = "active_window_maximized"
	KeyActiveWindowName       = "active_window_name"
	KeyActiveWindowTitle      = "active_window_title"
	KeyActiveWindowPID        = "active_window_pid"

	KeyPointerPositionGlobal           = "pointer_position_global"
	KeyPointerPositionScreenPercentage = "pointer_position_screen_percentage"

	KeyWindowUnderPointerClass      = "window_under_pointer_class"
	KeyWindowUnderPointerID         = "window_under_pointer_id"
	KeyWindowUnderPointerFullscreen = "window_under_pointer_fullscreen"
	KeyWindowUnderPointerMaximized  = "window_under_pointer_maximized"
	KeyWindowUnderPointerName       = "window_under_pointer_name"
	KeyWindowUnderPointerTitle      = "window_under_pointer_title"
	KeyWindowUnderPointerPID        = "window_under_pointer_pid"
	KeyWindowUnderPointerGeometry   = "window_under_pointer_geometry"
)

var (
	// ErrUnknownAttribute is returned when a key is not in the registry
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrAlreadyEnabled is returned by Enable on a running engine
	ErrAlreadyEnabled = errors.New("engine already enabled")
	// ErrNotEnabled is returned by requests made while the engine is stopped
	ErrNotEnabled = errors.New("engine not enabled")
)

// ActiveWindowKeys is published on every focus change
func ActiveWindowKeys() []string {
	return []string{
		KeyActiveWindowClass,
		KeyActiveWindowID,
		KeyActiveWindowFullscreen,
		KeyActiveWindowMaximized,
		KeyActiveWindowName,
		KeyActiveWindowTitle,
		KeyActiveWindowPID,
	}
}

// WindowUnderPointerKeys is published when the hovered window changes identity
func WindowUnderPointerKeys() []string {
	return []string{
		KeyWindowUnderPointerClass,
		KeyWindowUnderPointerID,
		KeyWindowUnderPointerFullscreen,
		KeyWindowUnderPointerMaximized,
		KeyWindowUnderPointerName,
		KeyWindowUnderPointerTitle,
		KeyWindowUnderPointerPID,
		KeyWindowUnderPointerGeometry,
	}
}

// PointerBaseKeys is published on every tick that saw pointer motion
func PointerBaseKeys() []string {
	return []string{
		KeyPointerPositionGlobal,
		KeyPointerPositionScreenPercentage,
		KeyWindowUnderPointerGeometry,
	}
}
