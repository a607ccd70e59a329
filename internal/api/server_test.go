package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bryanchriswhite/envbridge/internal/envstate"
	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/bryanchriswhite/envbridge/internal/window/windowtest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type channelSender struct {
	payloads chan string
}

func (s *channelSender) SendState(payload string) error {
	s.payloads <- payload
	return nil
}

type testEnv struct {
	server  *httptest.Server
	engine  *envstate.Engine
	backend *windowtest.Backend
	sender  *channelSender
}

func newTestEnv(t *testing.T, enable bool) *testEnv {
	t.Helper()

	backend := windowtest.NewBackend()
	editor := windowtest.NewWindow("5", "Editor", "main.go", window.Geometry{Width: 800, Height: 600})
	backend.AddWindow(editor)
	backend.Focus(editor)
	backend.MovePointer(window.Point{X: 400, Y: 300})

	sender := &channelSender{payloads: make(chan string, 32)}
	engine := envstate.New(backend, sender, nil, envstate.Options{Clock: clock.NewMock()})
	if enable {
		require.NoError(t, engine.Enable())
		<-sender.payloads
	}

	srv := httptest.NewServer(NewServer(engine, nil, backend.Name()).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = engine.Disable()
	})
	return &testEnv{server: srv, engine: engine, backend: backend, sender: sender}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Get(env.server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "fake", body["backend"])
	require.Equal(t, true, body["enabled"])
}

func TestAttributes(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.server.URL + "/api/attributes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var keys []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	require.Equal(t, env.engine.Keys(), keys)
}

func TestGetState(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"selected keys", "?keys=active_window_class,window_under_pointer_id", http.StatusOK,
			`{"active_window_class":"Editor","window_under_pointer_id":"5"}`},
		{"repeated parameter", "?keys=active_window_title&keys=pointer_position_global", http.StatusOK,
			`{"active_window_title":"main.go","pointer_position_global":[400,300]}`},
		{"unknown key", "?keys=active_window_icon", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + "/api/state" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantBody != "" {
				var buf bytes.Buffer
				_, err := buf.ReadFrom(resp.Body)
				require.NoError(t, err)
				require.Equal(t, tt.wantBody, strings.TrimSpace(buf.String()))
			}
		})
	}

	// Reading state never publishes
	select {
	case payload := <-env.sender.payloads:
		t.Fatalf("unexpected publish: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGetStateWhileDisabled(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := http.Get(env.server.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, true)

	resp, err := http.Post(env.server.URL+"/api/state/refresh", "application/json",
		strings.NewReader(`{"keys":["active_window_pid"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case payload := <-env.sender.payloads:
		require.Equal(t, `{"active_window_pid":null}`, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not publish")
	}

	// Empty body refreshes everything
	resp, err = http.Post(env.server.URL+"/api/state/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case payload := <-env.sender.payloads:
		var values map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(payload), &values))
		require.Len(t, values, len(env.engine.Keys()))
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not publish")
	}

	resp, err = http.Post(env.server.URL+"/api/state/refresh", "application/json",
		strings.NewReader(`{"keys":["nope"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(env.server.URL+"/api/state/refresh", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateStream(t *testing.T) {
	env := newTestEnv(t, true)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/state/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial map[string]interface{}
	require.NoError(t, conn.ReadJSON(&initial))
	require.Equal(t, "Editor", initial["active_window_class"])

	// The initial state is written after subscribing, so this publish is streamed
	require.NoError(t, env.engine.Publish([]string{envstate.KeyActiveWindowTitle}))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `{"active_window_title":"main.go"}`, string(msg))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/state", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
