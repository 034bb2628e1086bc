package progress

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/store"
)

func newTestGateway(t *testing.T) (*Gateway, *events.Bus, store.Store, func()) {
	t.Helper()
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	st := store.NewInMemoryStore(clock)
	bus := events.NewBus(c, clock, &core.SequentialIDGenerator{Prefix: "ev"}, core.NoOpLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx, subscribedTypes)

	cfg := core.DefaultEngineConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	g := NewGateway(bus, st, clock, core.NoOpLogger{}, cfg)
	return g, bus, st, cancel
}

func dial(t *testing.T, srv *httptest.Server, principalID, assessmentID string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws%s/progress?principal_id=%s&assessment_id=%s", strings.TrimPrefix(srv.URL, "http"), principalID, assessmentID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestGateway_ConnectReceivesSnapshot(t *testing.T) {
	g, _, st, cancel := newTestGateway(t)
	defer cancel()

	require.NoError(t, st.SaveAssessment(context.Background(), core.Assessment{ID: "a-1", CompletionPercentage: 42}))

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dial(t, srv, "user-1", "a-1")
	defer conn.Close()

	var msg outboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, float64(42), msg.Data["completion_percentage"])
}

func TestGateway_BroadcastsWorkflowProgressToRoomMembers(t *testing.T) {
	g, bus, _, cancel := newTestGateway(t)
	defer cancel()

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dial(t, srv, "user-1", "a-2")
	defer conn.Close()

	var snapshot outboundMessage
	require.NoError(t, conn.ReadJSON(&snapshot))

	require.NoError(t, bus.Publish(context.Background(), core.Event{
		Type:     core.EventWorkflowProgress,
		Data:     map[string]interface{}{"percent": 75},
		Metadata: map[string]interface{}{"workflow_id": "a-2"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got outboundMessage
	for {
		require.NoError(t, conn.ReadJSON(&got))
		if got.Type == string(core.EventWorkflowProgress) {
			break
		}
	}
	assert.Equal(t, float64(75), got.Data["percent"])
}

func TestGateway_CursorUpdateRebroadcastsExcludingSender(t *testing.T) {
	g, _, _, cancel := newTestGateway(t)
	defer cancel()

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	connA := dial(t, srv, "user-1", "a-3")
	defer connA.Close()
	var snapA outboundMessage
	require.NoError(t, connA.ReadJSON(&snapA))

	connB := dial(t, srv, "user-2", "a-3")
	defer connB.Close()
	var snapB outboundMessage
	require.NoError(t, connB.ReadJSON(&snapB))

	require.NoError(t, connA.WriteJSON(inboundMessage{Type: "cursor_update", Cursor: map[string]interface{}{"x": 1.0}}))

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got outboundMessage
	require.NoError(t, connB.ReadJSON(&got))
	assert.Equal(t, string(core.EventCursorUpdate), got.Type)
}

func TestGateway_SessionCountTracksConnections(t *testing.T) {
	g, _, _, cancel := newTestGateway(t)
	defer cancel()

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dial(t, srv, "user-1", "")
	defer conn.Close()
	var snap outboundMessage
	require.NoError(t, conn.ReadJSON(&snap))

	assert.Eventually(t, func() bool { return g.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}
