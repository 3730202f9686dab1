package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quarry-ai/quarry/progress"
)

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	var url = "ws" + strings.TrimPrefix(ts.URL, "http") + path
	var conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWSStreamsProgressToTerminalClose(t *testing.T) {
	var s = newTestServer(&fakeBackend{})
	var ts = httptest.NewServer(s.Handler())
	defer ts.Close()

	require.NoError(t, s.args.Tracker.Create("up-1"))

	var conn = dialWS(t, ts, "/ws/up-1")
	defer conn.Close()

	// Snapshot frame arrives first.
	var snap progress.Event
	require.NoError(t, conn.ReadJSON(&snap))
	require.Equal(t, "up-1", snap.UploadID)
	require.Equal(t, progress.StatusReceived, snap.Status)

	require.NoError(t, s.args.Tracker.Update("up-1", progress.Update{
		Status:  progress.StatusChunking,
		Percent: 10,
		Message: "split into 3 chunks",
	}))

	var ev progress.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, progress.StatusChunking, ev.Status)
	require.Equal(t, 10.0, ev.ProgressPercent)

	require.NoError(t, s.args.Tracker.Finish("up-1", progress.StatusCompleted,
		map[string]any{"total_chunks": 3}, ""))

	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, progress.StatusCompleted, ev.Status)
	require.Equal(t, 100.0, ev.ProgressPercent)

	// The server then closes normally.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var _, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestWSUnknownUploadCloses4404(t *testing.T) {
	var s = newTestServer(&fakeBackend{})
	var ts = httptest.NewServer(s.Handler())
	defer ts.Close()

	var conn = dialWS(t, ts, "/ws/no-such-upload")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var _, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, closeUnknownUpload, closeErr.Code)
}

func TestWSClientRequestedClose(t *testing.T) {
	var s = newTestServer(&fakeBackend{})
	var ts = httptest.NewServer(s.Handler())
	defer ts.Close()

	require.NoError(t, s.args.Tracker.Create("up-2"))

	var conn = dialWS(t, ts, "/ws/up-2")
	defer conn.Close()

	var snap progress.Event
	require.NoError(t, conn.ReadJSON(&snap))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("close")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var _, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestWSIgnoresOtherClientFrames(t *testing.T) {
	var s = newTestServer(&fakeBackend{})
	var ts = httptest.NewServer(s.Handler())
	defer ts.Close()

	require.NoError(t, s.args.Tracker.Create("up-3"))

	var conn = dialWS(t, ts, "/ws/up-3")
	defer conn.Close()

	var snap progress.Event
	require.NoError(t, conn.ReadJSON(&snap))

	// Arbitrary chatter doesn't terminate the stream.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping?")))

	require.NoError(t, s.args.Tracker.Update("up-3", progress.Update{
		Status:  progress.StatusIndexing,
		Percent: 50,
	}))

	var ev progress.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, progress.StatusIndexing, ev.Status)
}
