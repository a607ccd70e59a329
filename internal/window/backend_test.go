package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeometryContains(t *testing.T) {
	g := Geometry{X: 100, Y: 50, Width: 200, Height: 100}

	tests := []struct {
		name string
		p    Point
		want bool
	}{
		{"inside", Point{X: 150, Y: 75}, true},
		{"top left corner", Point{X: 100, Y: 50}, true},
		{"bottom right corner", Point{X: 300, Y: 150}, true},
		{"left of frame", Point{X: 99.5, Y: 75}, false},
		{"below frame", Point{X: 150, Y: 150.5}, false},
		{"negative", Point{X: -1, Y: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, g.Contains(tt.p))
		})
	}
}

func TestPropertyEventString(t *testing.T) {
	require.Equal(t, "title", PropertyTitle.String())
	require.Equal(t, "maximized-vertically", PropertyMaximizedVertically.String())
	require.Equal(t, "PropertyEvent(42)", PropertyEvent(42).String())
}

func TestZeroSubscriptionIsInvalid(t *testing.T) {
	var sub Subscription
	require.False(t, sub.Valid())
	require.Equal(t, WindowID(""), sub.Window())
}
