package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    interface{}
		wantErr bool
	}{
		{"api.port", "9000", 9000, false},
		{"api.port", "http", nil, true},
		{"log_level", "debug", "debug", false},
		{"log_level", "verbose", nil, true},
		{"backend", "kwin", "kwin", false},
		{"backend", "wayland", nil, true},
		{"sampling.tick_interval", "50ms", "50ms", false},
		{"sampling.tick_interval", "0s", nil, true},
		{"sampling.motion_poll_interval", "fast", nil, true},
		{"api.enabled", "false", false, false},
		{"log_pretty", "maybe", nil, true},
		{"bus.service", "org.example", "org.example", false},
		{"bus.path", "", nil, true},
		{"unknown", "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseConfigValue(tt.key, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOrdered(t *testing.T) {
	entries, err := decodeOrdered([]byte(`{"b":1,"a":[1,2],"c":null,"d":{"x":"y"}}`))
	require.NoError(t, err)

	var keys []string
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	require.Equal(t, []string{"b", "a", "c", "d"}, keys)
	require.Equal(t, json.RawMessage(`[1,2]`), entries[1].value)
	require.Equal(t, json.RawMessage(`null`), entries[2].value)

	_, err = decodeOrdered([]byte(`[1,2]`))
	require.Error(t, err)
}
