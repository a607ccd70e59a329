package envstate

import (
	"sync"
	"testing"

	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/stretchr/testify/require"
)

func TestSamplerCoalescesMotion(t *testing.T) {
	resolves := 0
	var got []window.Window
	s := NewSampler(
		func() window.Window { resolves++; return nil },
		func(w window.Window) { got = append(got, w) },
	)

	require.False(t, s.OnTick())
	require.Equal(t, 0, resolves)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MarkMoved()
		}()
	}
	wg.Wait()
	require.True(t, s.Dirty())

	require.True(t, s.OnTick())
	require.False(t, s.OnTick())
	require.Equal(t, 1, resolves)
	require.Len(t, got, 1)
	require.False(t, s.Dirty())
}
