package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpilot/termpilot/internal/config"
	"github.com/termpilot/termpilot/internal/engine/pty"
	"github.com/termpilot/termpilot/internal/engine/session"
	"github.com/termpilot/termpilot/internal/infrastructure/monitoring"
	"github.com/termpilot/termpilot/internal/planner"
)

func dialSession(t *testing.T) (*websocket.Conn, *session.Session, func()) {
	t.Helper()

	probe, err := pty.Spawn(pty.SpawnOptions{Shell: "/bin/sh"})
	if err != nil {
		t.Skipf("cannot allocate pty: %v", err)
	}
	probe.Terminate(0)

	cfg := config.Default().Engine
	cfg.Shell = "/bin/sh"
	cfg.DetectTimeout = 10 * time.Second
	cfg.ReapInterval = 0

	manager := session.NewManager(cfg, nil)
	s, err := manager.Create(session.CreateOptions{})
	require.NoError(t, err)

	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	handler := NewHandler(manager, planner.New(planner.Config{}), metrics, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/sessions/:id/stream", handler.HandleSession)

	srv := httptest.NewServer(r)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID.String() + "/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		srv.Close()
		manager.Shutdown()
	}
	return conn, s, cleanup
}

// readUntil collects frames until one of the given type arrives or the
// deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string, timeout time.Duration) []map[string]any {
	t.Helper()

	var frames []map[string]any
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Until(deadline)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
		if frame["type"] == frameType {
			return frames
		}
	}
	t.Fatalf("no %q frame within %v; got %d frames", frameType, timeout, len(frames))
	return nil
}

func TestConnectSendsWelcome(t *testing.T) {
	conn, s, cleanup := dialSession(t)
	defer cleanup()

	frames := readUntil(t, conn, "connected", 5*time.Second)
	last := frames[len(frames)-1]
	assert.Equal(t, s.ID.String(), last["session_id"])
}

func TestExecuteStreamsOutputAndResult(t *testing.T) {
	conn, _, cleanup := dialSession(t)
	defer cleanup()

	readUntil(t, conn, "connected", 5*time.Second)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "execute",
		"command": "echo ws-trip",
		"risk":    "safe",
	}))

	frames := readUntil(t, conn, "result", 10*time.Second)

	var sawAccepted, sawOutput bool
	for _, frame := range frames {
		switch frame["type"] {
		case "accepted":
			sawAccepted = true
		case "output":
			if strings.Contains(frame["data"].(string), "ws-trip") {
				sawOutput = true
			}
		}
	}
	assert.True(t, sawAccepted, "expected accepted frame before result")
	assert.True(t, sawOutput, "expected raw output frame containing command output")

	result := frames[len(frames)-1]
	assert.Equal(t, "completed", result["status"])
	assert.Contains(t, result["output"], "ws-trip")
}

func TestCriticalCommandHeldOverWS(t *testing.T) {
	conn, _, cleanup := dialSession(t)
	defer cleanup()

	readUntil(t, conn, "connected", 5*time.Second)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "execute",
		"command": "echo held-run",
		"risk":    "critical",
	}))

	frames := readUntil(t, conn, "pending_confirmation", 5*time.Second)
	pending := frames[len(frames)-1]
	corrID := pending["correlation_id"].(string)
	require.NotEmpty(t, corrID)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":           "confirm",
		"correlation_id": corrID,
	}))

	frames = readUntil(t, conn, "result", 10*time.Second)
	result := frames[len(frames)-1]
	assert.Equal(t, "completed", result["status"])
	assert.Contains(t, result["output"], "held-run")
}

func TestPingPong(t *testing.T) {
	conn, _, cleanup := dialSession(t)
	defer cleanup()

	readUntil(t, conn, "connected", 5*time.Second)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	readUntil(t, conn, "pong", 5*time.Second)
}

func TestReplayFromSeq(t *testing.T) {
	conn, s, cleanup := dialSession(t)
	defer cleanup()
	readUntil(t, conn, "connected", 5*time.Second)

	// Run a command over a second connection so output lands in the ring.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "execute",
		"command": "echo replay-ws",
		"risk":    "safe",
	}))
	readUntil(t, conn, "result", 10*time.Second)

	// A late subscriber with since=0 sees the buffered output.
	url := "ws://" + conn.RemoteAddr().String() + "/sessions/" + s.ID.String() + "/stream?since=0"
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()

	frames := readUntil(t, late, "connected", 5*time.Second)
	deadline := time.Now().Add(5 * time.Second)
	found := false
	for !found && time.Now().Before(deadline) {
		late.SetReadDeadline(time.Now().Add(time.Until(deadline)))
		_, data, err := late.ReadMessage()
		require.NoError(t, err)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
		if frame["type"] == "output" && strings.Contains(frame["data"].(string), "replay-ws") {
			found = true
		}
	}
	assert.True(t, found, "late subscriber should replay buffered output")
}
