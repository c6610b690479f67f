package ws_test

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BelikovArtem/relay/internal/catalog"
	"github.com/BelikovArtem/relay/internal/registry"
	"github.com/BelikovArtem/relay/internal/relay"
	"github.com/BelikovArtem/relay/internal/ws"
	"github.com/BelikovArtem/relay/pkg/event"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()

	reg := registry.New(0)
	cat := catalog.New(catalog.DefaultSeed())
	s := ws.NewServer(relay.NewDispatcher(reg, cat), reg, nil, 1024)
	t.Cleanup(s.Close)

	ts := httptest.NewServer(http.HandlerFunc(s.HandleNewConnection))
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, action event.Action, payload any) {
	t.Helper()

	require.NoError(t, conn.WriteJSON(event.ExternalEvent{
		Action:  action,
		Payload: event.EncodeOrPanic(payload),
	}))
}

func read(t *testing.T, conn *websocket.Conn) event.ExternalEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e event.ExternalEvent
	require.NoError(t, conn.ReadJSON(&e))

	return e
}

func TestJoinPublishRoundTrip(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, event.ActionJoinRoom, event.JoinRoom{RoomID: "team-a", UserName: "Taro"})

	e := read(t, a)
	require.Equal(t, event.ActionJoinedRoom, e.Action)
	var confirm event.JoinedRoom
	require.NoError(t, json.Unmarshal(e.Payload, &confirm))
	require.Equal(t, "team-a", confirm.RoomID)
	require.Equal(t, 1, confirm.MemberCount)

	b := dial(t, url)
	send(t, b, event.ActionJoinRoom, event.JoinRoom{RoomID: "team-a", UserName: "Hana"})

	e = read(t, b)
	require.Equal(t, event.ActionJoinedRoom, e.Action)
	require.NoError(t, json.Unmarshal(e.Payload, &confirm))
	require.Equal(t, 2, confirm.MemberCount)

	e = read(t, a)
	require.Equal(t, event.ActionUserJoinedRoom, e.Action)
	var arrival event.UserJoinedRoom
	require.NoError(t, json.Unmarshal(e.Payload, &arrival))
	require.Equal(t, "Hana", arrival.UserName)

	send(t, a, event.ActionPublish, map[string]any{
		"userName": "Taro",
		"content":  "hi",
	})

	// The sender gets the echo, the other member the broadcast; both carry
	// the same stamped fields.
	for _, conn := range []*websocket.Conn{a, b} {
		e = read(t, conn)
		require.Equal(t, event.ActionPublish, e.Action)

		var fields map[string]any
		require.NoError(t, json.Unmarshal(e.Payload, &fields))
		require.Equal(t, "hi", fields["content"])
		require.Equal(t, "team-a", fields["roomId"])
		require.NotEmpty(t, fields["id"])
		require.NotEmpty(t, fields["timestamp"])
	}
}

func TestDisconnectNotifiesRoomAndPopulation(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, event.ActionJoinRoom, event.JoinRoom{RoomID: "team-a", UserName: "Taro"})
	read(t, a) // joinedRoom

	b := dial(t, url)
	send(t, b, event.ActionJoinRoom, event.JoinRoom{RoomID: "team-a", UserName: "Hana"})
	read(t, b) // joinedRoom
	read(t, a) // userJoinedRoom

	require.NoError(t, b.Close())

	e := read(t, a)
	require.Equal(t, event.ActionUserLeftRoom, e.Action)
	var departure event.UserLeftRoom
	require.NoError(t, json.Unmarshal(e.Payload, &departure))
	require.Equal(t, "team-a", departure.RoomID)

	e = read(t, a)
	require.Equal(t, event.ActionExit, e.Action)
}

func TestCatalogSnapshotRoundTrip(t *testing.T) {
	url := startServer(t)

	a := dial(t, url)
	send(t, a, event.ActionRequestNewRoom, event.NewRoomRequest{})

	e := read(t, a)
	require.Equal(t, event.ActionCatalogSnapshot, e.Action)

	var snap map[string]catalog.Node
	require.NoError(t, json.Unmarshal(e.Payload, &snap))
	require.Contains(t, snap, "soccer-club")
	require.Contains(t, snap, "team-a")
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()

	ws.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "running")
}

func TestCloseInterruptsConnections(t *testing.T) {
	reg := registry.New(0)
	cat := catalog.New(catalog.DefaultSeed())
	s := ws.NewServer(relay.NewDispatcher(reg, cat), reg, nil, 1024)

	ts := httptest.NewServer(http.HandlerFunc(s.HandleNewConnection))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	a := dial(t, url)
	send(t, a, event.ActionJoinRoom, event.JoinRoom{RoomID: "team-a", UserName: "Taro"})
	e := read(t, a)
	require.Equal(t, event.ActionJoinedRoom, e.Action)

	s.Close()
	s.Close()

	/*
		The routing loop closes every live connection on its way out, so the
		next read must fail with a closed connection rather than sit on the
		deadline.
	*/
	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout())
	}

	/*
		A connection upgraded after shutdown is turned away immediately
		instead of parking its handler on the register channel.
	*/
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { late.Close() })

	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	require.Error(t, err)
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout())
	}
}
