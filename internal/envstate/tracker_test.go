package envstate

import (
	"testing"

	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/bryanchriswhite/envbridge/internal/window/windowtest"
	"github.com/stretchr/testify/require"
)

var allPointerEvents = []window.PropertyEvent{
	window.PropertyTitle,
	window.PropertyClass,
	window.PropertyMaximizedHorizontally,
	window.PropertyMaximizedVertically,
	window.PropertyFullscreen,
}

func newTrackerFixture(t *testing.T) (*Tracker, *windowtest.Backend, *[][]string) {
	t.Helper()
	backend := windowtest.NewBackend()
	var notified [][]string
	tracker := NewTracker(backend, func(keys []string) { notified = append(notified, keys) })
	return tracker, backend, &notified
}

func TestTrackerFocusChange(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	w := windowtest.NewWindow("1", "Firefox", "Example", window.Geometry{Width: 100, Height: 100})

	backend.Focus(w)
	keys := tracker.OnFocusChanged()
	require.Equal(t, ActiveWindowKeys(), keys)
	require.Equal(t, window.WindowID("1"), tracker.ActiveWindow().ID())

	// Unchanged identity still yields the full list, with no listener churn
	keys = tracker.OnFocusChanged()
	require.Equal(t, ActiveWindowKeys(), keys)
	require.Equal(t, 0, tracker.Listeners().Len())

	backend.Focus(nil)
	tracker.OnFocusChanged()
	require.Nil(t, tracker.ActiveWindow())
}

func TestTrackerFocusOnDeadWindow(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	w := windowtest.NewWindow("1", "Firefox", "Example", window.Geometry{})
	w.Kill()

	backend.Focus(w)
	tracker.OnFocusChanged()
	require.Nil(t, tracker.ActiveWindow())
}

func TestTrackerPointerRoleTransitions(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	b := windowtest.NewWindow("b", "Editor", "main.go", window.Geometry{X: 800, Width: 800, Height: 600})

	// Empty -> Occupied(a)
	keys := tracker.OnPointerResolved(a)
	require.Equal(t, []window.WindowID{"a"}, tracker.Listeners().Windows())
	require.Equal(t, allPointerEvents, tracker.Listeners().Events("a"))
	require.Equal(t, allPointerEvents, backend.Subscriptions("a"))
	require.Subset(t, keys, WindowUnderPointerKeys())
	require.Subset(t, keys, ActiveWindowKeys())
	require.Equal(t, PointerBaseKeys(), keys[:3])

	// Occupied(a) -> Occupied(a)
	keys = tracker.OnPointerResolved(a)
	require.Equal(t, PointerBaseKeys(), keys)
	require.Len(t, backend.Subscriptions("a"), 5)

	// Occupied(a) -> Occupied(b)
	tracker.OnPointerResolved(b)
	require.Empty(t, backend.Subscriptions("a"))
	require.Equal(t, allPointerEvents, backend.Subscriptions("b"))
	require.Equal(t, []window.WindowID{"b"}, tracker.Listeners().Windows())

	// Occupied(b) -> Empty
	keys = tracker.OnPointerResolved(nil)
	require.Nil(t, tracker.WindowUnderPointer())
	require.Equal(t, 0, backend.ActiveSubscriptions())
	require.Subset(t, keys, WindowUnderPointerKeys())
}

func TestTrackerPropertyNotifications(t *testing.T) {
	tracker, backend, notified := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	tracker.OnPointerResolved(a)

	tests := []struct {
		event window.PropertyEvent
		want  []string
	}{
		{window.PropertyTitle, []string{KeyActiveWindowTitle, KeyWindowUnderPointerTitle}},
		{window.PropertyClass, []string{KeyActiveWindowClass, KeyActiveWindowName, KeyWindowUnderPointerClass, KeyWindowUnderPointerName}},
		{window.PropertyMaximizedHorizontally, []string{KeyActiveWindowMaximized, KeyWindowUnderPointerMaximized}},
		{window.PropertyMaximizedVertically, []string{KeyActiveWindowMaximized, KeyWindowUnderPointerMaximized}},
		{window.PropertyFullscreen, []string{KeyActiveWindowFullscreen, KeyWindowUnderPointerFullscreen}},
	}

	for _, tt := range tests {
		t.Run(tt.event.String(), func(t *testing.T) {
			*notified = nil
			backend.FireProperty("a", tt.event)
			require.Equal(t, [][]string{tt.want}, *notified)
		})
	}
}

func TestTrackerResolvePointer(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	backend.AddWindow(a)

	backend.MovePointer(window.Point{X: 10, Y: 10})
	require.Equal(t, window.WindowID("a"), tracker.ResolvePointer().ID())

	backend.MovePointer(window.Point{X: 1000, Y: 10})
	require.Nil(t, tracker.ResolvePointer())

	backend.MovePointer(window.Point{X: 10, Y: 10})
	a.Kill()
	require.Nil(t, tracker.ResolvePointer())
}

func TestTrackerPrune(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	backend.Focus(a)
	tracker.OnFocusChanged()
	tracker.OnPointerResolved(a)
	require.False(t, tracker.Prune())
	require.Equal(t, 5, tracker.Listeners().Len())

	a.Kill()
	require.True(t, tracker.Prune())
	require.Nil(t, tracker.ActiveWindow())
	require.Nil(t, tracker.WindowUnderPointer())
	require.Equal(t, 0, tracker.Listeners().Len())
	require.Empty(t, backend.Subscriptions("a"))
	require.False(t, tracker.Prune())
}

func TestTrackerPointerLeavesDestroyedWindow(t *testing.T) {
	tracker, _, _ := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	tracker.OnPointerResolved(a)

	// Nothing resolves any more, but the role change still republishes both roles
	a.Kill()
	keys := tracker.OnPointerResolved(nil)
	require.Subset(t, keys, WindowUnderPointerKeys())
	require.Subset(t, keys, ActiveWindowKeys())
	require.Equal(t, 0, tracker.Listeners().Len())
}

func TestTrackerReset(t *testing.T) {
	tracker, backend, _ := newTrackerFixture(t)
	a := windowtest.NewWindow("a", "Terminal", "~", window.Geometry{Width: 800, Height: 600})
	backend.Focus(a)
	tracker.OnFocusChanged()
	tracker.OnPointerResolved(a)

	require.NoError(t, tracker.Reset())
	require.Nil(t, tracker.ActiveWindow())
	require.Nil(t, tracker.WindowUnderPointer())
	require.Equal(t, 0, backend.ActiveSubscriptions())
	require.NoError(t, tracker.Reset())
}
