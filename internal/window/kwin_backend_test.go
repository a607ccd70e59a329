package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	editorReport = `{"id":"{aaa}","class":"org.kde.kate","name":"kate","title":"notes.txt",` +
		`"pid":4242,"maximizedHorizontally":false,"maximizedVertically":false,"fullscreen":false,` +
		`"geometry":{"x":0,"y":0,"width":800,"height":600},"interactive":true}`
	terminalReport = `{"id":"{bbb}","class":"org.kde.konsole","name":"konsole","title":"~",` +
		`"pid":99,"geometry":{"x":400,"y":300,"width":800,"height":600},"interactive":true}`
	panelReport = `{"id":"{ccc}","class":"plasmashell","name":"plasmashell","title":"Panel",` +
		`"pid":7,"geometry":{"x":0,"y":0,"width":1920,"height":1080},"interactive":false}`
)

func newMirror(t *testing.T) *KWinBackend {
	t.Helper()

	b := newKWinBackend(nil, Options{})
	bridge := &kwinBridge{b: b}
	require.Nil(t, bridge.WindowChanged(panelReport))
	require.Nil(t, bridge.WindowChanged(editorReport))
	require.Nil(t, bridge.WindowChanged(terminalReport))
	require.Nil(t, bridge.StackingChanged(`["{ccc}","{aaa}","{bbb}"]`))
	require.Nil(t, bridge.OutputsChanged(`[{"x":0,"y":0,"width":1920,"height":1080},{"x":1920,"y":0,"width":1280,"height":1024}]`))
	require.Nil(t, bridge.Ready())
	return b
}

func TestKWinWindowAtFollowsStacking(t *testing.T) {
	b := newMirror(t)

	w, err := b.WindowAt(Point{X: 500, Y: 400})
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, WindowID("{bbb}"), w.ID())

	w, err = b.WindowAt(Point{X: 100, Y: 100})
	require.NoError(t, err)
	require.Equal(t, WindowID("{aaa}"), w.ID())
	require.Equal(t, "org.kde.kate", w.Class())
	require.Equal(t, "kate", w.Instance())
	require.Equal(t, 4242, w.PID())

	// Only the non-interactive panel covers this point
	w, err = b.WindowAt(Point{X: 1500, Y: 1000})
	require.NoError(t, err)
	require.Nil(t, w)

	bridge := &kwinBridge{b: b}
	require.Nil(t, bridge.StackingChanged(`["{ccc}","{bbb}","{aaa}"]`))
	w, err = b.WindowAt(Point{X: 500, Y: 400})
	require.NoError(t, err)
	require.Equal(t, WindowID("{aaa}"), w.ID())
}

func TestKWinActiveWindow(t *testing.T) {
	b := newMirror(t)
	bridge := &kwinBridge{b: b}

	focusChanges := 0
	_, err := b.OnFocusChanged(func() { focusChanges++ })
	require.NoError(t, err)

	w, err := b.ActiveWindow()
	require.NoError(t, err)
	require.Nil(t, w)

	require.Nil(t, bridge.ActiveWindowChanged("{aaa}"))
	require.Nil(t, bridge.ActiveWindowChanged("{aaa}"))
	require.Equal(t, 1, focusChanges)

	w, err = b.ActiveWindow()
	require.NoError(t, err)
	require.Equal(t, "notes.txt", w.Title())

	require.Nil(t, bridge.ActiveWindowChanged(""))
	w, err = b.ActiveWindow()
	require.NoError(t, err)
	require.Nil(t, w)
	require.Equal(t, 2, focusChanges)
}

func TestKWinPropertyEvents(t *testing.T) {
	b := newMirror(t)
	bridge := &kwinBridge{b: b}

	editor, err := b.WindowAt(Point{X: 100, Y: 100})
	require.NoError(t, err)

	fired := map[PropertyEvent]int{}
	for _, ev := range []PropertyEvent{
		PropertyTitle, PropertyClass, PropertyMaximizedHorizontally,
		PropertyMaximizedVertically, PropertyFullscreen,
	} {
		ev := ev
		_, err := b.Subscribe(editor, ev, func() { fired[ev]++ })
		require.NoError(t, err)
	}

	maximized := `{"id":"{aaa}","class":"org.kde.kate","name":"kate","title":"notes.txt - Kate",` +
		`"pid":4242,"maximizedHorizontally":true,"maximizedVertically":true,"fullscreen":false,` +
		`"geometry":{"x":0,"y":0,"width":1920,"height":1080},"interactive":true}`
	require.Nil(t, bridge.WindowChanged(maximized))

	require.Equal(t, 1, fired[PropertyTitle])
	require.Equal(t, 0, fired[PropertyClass])
	require.Equal(t, 1, fired[PropertyMaximizedHorizontally])
	require.Equal(t, 1, fired[PropertyMaximizedVertically])
	require.Equal(t, 0, fired[PropertyFullscreen])
	require.True(t, editor.Maximized())
	require.Equal(t, Geometry{Width: 1920, Height: 1080}, editor.Frame())

	// A geometry-only report fires nothing
	require.Nil(t, bridge.WindowChanged(maximized))
	require.Equal(t, 1, fired[PropertyTitle])
}

func TestKWinWindowRemoved(t *testing.T) {
	b := newMirror(t)
	bridge := &kwinBridge{b: b}

	terminal, err := b.WindowAt(Point{X: 500, Y: 400})
	require.NoError(t, err)
	sub, err := b.Subscribe(terminal, PropertyTitle, func() {})
	require.NoError(t, err)

	require.Nil(t, bridge.WindowRemoved("{bbb}"))
	require.False(t, terminal.Alive())
	require.Equal(t, "", terminal.Title())
	require.Equal(t, 0, terminal.PID())
	require.False(t, b.callbacks.watching("{bbb}"))
	require.NoError(t, b.Unsubscribe(sub))

	w, err := b.WindowAt(Point{X: 500, Y: 400})
	require.NoError(t, err)
	require.Equal(t, WindowID("{aaa}"), w.ID())
}

func TestKWinCursorAndScreens(t *testing.T) {
	b := newMirror(t)
	bridge := &kwinBridge{b: b}

	moves := 0
	_, err := b.OnPointerMoved(func() { moves++ })
	require.NoError(t, err)

	require.Nil(t, bridge.CursorMoved(2000, 512))
	require.Nil(t, bridge.CursorMoved(2000, 512))
	require.Equal(t, 1, moves)

	p, err := b.PointerPosition()
	require.NoError(t, err)
	require.Equal(t, Point{X: 2000, Y: 512}, p)

	screen, err := b.ScreenAt(p)
	require.NoError(t, err)
	require.Equal(t, Geometry{X: 1920, Width: 1280, Height: 1024}, screen)
}

func TestKWinRejectsMalformedReports(t *testing.T) {
	b := newKWinBackend(nil, Options{})
	bridge := &kwinBridge{b: b}

	require.NotNil(t, bridge.WindowChanged("{"))
	require.NotNil(t, bridge.WindowChanged(`{"title":"no id"}`))
	require.NotNil(t, bridge.StackingChanged("nope"))

	_, err := b.ScreenAt(Point{})
	require.Error(t, err)
}

func TestKWinBridgeScriptTargetsService(t *testing.T) {
	require.Contains(t, bridgeScript, bridgeServiceMarker)
	require.Contains(t, bridgeScript, bridgeObjectPath)
	require.Contains(t, bridgeScript, bridgeInterface)
}
