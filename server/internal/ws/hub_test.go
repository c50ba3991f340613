package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/pkg/types"
	wsHub "github.com/obsidianstack/alertengine/server/internal/ws"
)

// startHub serves hub over httptest and runs it until the test ends.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New()
	ctx, cancelFn := context.WithCancel(context.Background())
	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancelFn
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *wsHub.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func readEvent(t *testing.T, conn *websocket.Conn) types.AlertEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev types.AlertEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func event(typ types.EventType, ws, id string) types.AlertEvent {
	return types.AlertEvent{
		Type:  typ,
		At:    time.Date(2026, 3, 1, 12, 4, 0, 0, time.UTC),
		Alert: &types.Alert{ID: id, WorkspaceID: ws, State: types.StateOpen},
	}
}

func TestHub_PublishReachesClient(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	hub.Publish(event(types.EventOpened, "acme", "a1"))

	ev := readEvent(t, conn)
	assert.Equal(t, types.EventOpened, ev.Type)
	require.NotNil(t, ev.Alert)
	assert.Equal(t, "a1", ev.Alert.ID)
	assert.Equal(t, types.StateOpen, ev.Alert.State)
}

func TestHub_EventsArriveInOrder(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	seq := []types.EventType{types.EventOpened, types.EventEscalated, types.EventAcknowledged, types.EventResolved}
	for _, typ := range seq {
		hub.Publish(event(typ, "acme", "a1"))
	}
	for _, want := range seq {
		assert.Equal(t, want, readEvent(t, conn).Type)
	}
}

func TestHub_AllClientsReceive(t *testing.T) {
	url, hub, _ := startHub(t)
	conns := []*websocket.Conn{dial(t, url), dial(t, url), dial(t, url)}
	waitClients(t, hub, 3)

	hub.Publish(event(types.EventOpened, "acme", "a1"))
	for _, c := range conns {
		assert.Equal(t, "a1", readEvent(t, c).Alert.ID)
	}
}

func TestHub_WorkspaceFilter(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url+"?workspace=acme")
	waitClients(t, hub, 1)

	hub.Publish(event(types.EventOpened, "other", "skip"))
	hub.Publish(event(types.EventOpened, "acme", "keep"))

	assert.Equal(t, "keep", readEvent(t, conn).Alert.ID)
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_CancelClosesConnections(t *testing.T) {
	url, hub, cancel := startHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	cancel()
	waitClients(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Publishing after shutdown is a no-op.
	hub.Publish(event(types.EventOpened, "acme", "late"))
}

func TestHub_NilAlertIgnored(t *testing.T) {
	hub := wsHub.New()
	hub.Publish(types.AlertEvent{Type: types.EventOpened})
	assert.Equal(t, 0, hub.Count())
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	srv := httptest.NewServer(wsHub.New())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
