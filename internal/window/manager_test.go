package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("wayland", Options{})
	require.Error(t, err)
}

func TestCallbackTableFirstAndLast(t *testing.T) {
	table := newCallbackTable()

	sub1, first := table.addProperty("1", PropertyTitle, func() {})
	require.True(t, first)
	require.True(t, sub1.Valid())
	require.Equal(t, WindowID("1"), sub1.Window())

	sub2, first := table.addProperty("1", PropertyClass, func() {})
	require.False(t, first)
	require.NotEqual(t, sub1, sub2)
	require.True(t, table.watching("1"))

	require.False(t, table.remove(sub1))
	require.True(t, table.remove(sub2))
	require.False(t, table.watching("1"))

	// Removing again is a no-op
	require.False(t, table.remove(sub2))
	require.False(t, table.remove(Subscription{}))
}

func TestCallbackTableNotifyProperty(t *testing.T) {
	table := newCallbackTable()

	var titles, classes, other int
	table.addProperty("1", PropertyTitle, func() { titles++ })
	table.addProperty("1", PropertyTitle, func() { titles++ })
	table.addProperty("1", PropertyClass, func() { classes++ })
	table.addProperty("2", PropertyTitle, func() { other++ })

	table.notifyProperty("1", PropertyTitle)
	require.Equal(t, 2, titles)
	require.Equal(t, 0, classes)
	require.Equal(t, 0, other)

	table.notifyProperty("3", PropertyTitle)
	require.Equal(t, 2, titles)
}

func TestCallbackTableGlobals(t *testing.T) {
	table := newCallbackTable()

	var focus, pointer int
	focusSub := table.addGlobal(globalFocus, func() { focus++ })
	table.addGlobal(globalPointer, func() { pointer++ })

	table.notifyGlobal(globalFocus)
	table.notifyGlobal(globalPointer)
	table.notifyGlobal(globalPointer)
	require.Equal(t, 1, focus)
	require.Equal(t, 2, pointer)

	require.False(t, table.remove(focusSub))
	table.notifyGlobal(globalFocus)
	require.Equal(t, 1, focus)
}

func TestCallbackTableCallbackMayUnsubscribe(t *testing.T) {
	table := newCallbackTable()

	var sub Subscription
	calls := 0
	sub, _ = table.addProperty("1", PropertyFullscreen, func() {
		calls++
		table.remove(sub)
	})

	table.notifyProperty("1", PropertyFullscreen)
	table.notifyProperty("1", PropertyFullscreen)
	require.Equal(t, 1, calls)
}

func TestCallbackTableForget(t *testing.T) {
	table := newCallbackTable()

	sub, _ := table.addProperty("7", PropertyTitle, func() {})
	table.addProperty("3", PropertyTitle, func() {})
	require.True(t, table.watching("7"))
	require.True(t, table.watching("3"))

	require.True(t, table.forget("7"))
	require.False(t, table.forget("7"))
	require.False(t, table.remove(sub))
	require.False(t, table.watching("7"))
	require.True(t, table.watching("3"))
}
