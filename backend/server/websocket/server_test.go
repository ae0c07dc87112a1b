package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/blinddate/backend/lobby"
	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/registry"
	"github.com/adwski/blinddate/backend/service"
	_switch "github.com/adwski/blinddate/backend/switch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service, *registry.Registry) {
	t.Helper()
	logger := zerolog.Nop()
	reg := registry.New(&logger)
	svc := service.NewService(service.Config{
		Registry: reg,
		Lobby:    lobby.NewMatcher(&logger),
		Switch:   _switch.NewSwitch(&logger),
		Logger:   &logger,
	})
	srv := NewServer(Config{Logger: &logger, SignalingService: svc})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, svc, reg
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	ev, err := model.NewEvent(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ev))
}

func read(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev model.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestPairAndRelay(t *testing.T) {
	ts, _, _ := newTestServer(t)
	a := dial(t, ts, "/signal")
	b := dial(t, ts, "/signal")

	send(t, a, model.EventJoinLobby, model.JoinLobbyPayload{Scope: "global", Mode: "text", SessionID: "sa"})
	send(t, b, model.EventJoinLobby, model.JoinLobbyPayload{Scope: "global", Mode: "text", SessionID: "sb"})

	var fa, fb model.MatchFoundPayload
	evA := read(t, a)
	require.Equal(t, model.EventMatchFound, evA.Type)
	require.NoError(t, evA.Decode(&fa))
	require.NoError(t, read(t, b).Decode(&fb))
	// both joins race across connections, so only complementarity is fixed
	assert.NotEqual(t, fa.Initiator, fb.Initiator)
	assert.Equal(t, "room_sa_sb", fa.ChannelName)

	send(t, b, model.EventSendMessage, model.SendMessagePayload{Room: fb.ChannelName, Text: "hello", Sender: "b"})
	msg := read(t, a)
	assert.Equal(t, model.EventReceiveMessage, msg.Type)
	var text model.ReceiveMessagePayload
	require.NoError(t, msg.Decode(&text))
	assert.Equal(t, "hello", text.Text)
}

func TestMalformedEventIsReported(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts, "/signal")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := read(t, conn)
	assert.Equal(t, model.EventError, ev.Type)
}

func TestUserDirectedEvents(t *testing.T) {
	ts, svc, reg := newTestServer(t)
	conn := dial(t, ts, "/signal/user/bob")

	require.Eventually(t, func() bool {
		return len(reg.ConnectionsOf("bob")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev, err := model.NewEvent(model.EventIncomingCall, model.IncomingCallPayload{CallerID: "alice", Kind: model.CallKindAudio})
	require.NoError(t, err)
	require.True(t, svc.NotifyUser(context.Background(), "bob", ev))

	got := read(t, conn)
	assert.Equal(t, model.EventIncomingCall, got.Type)
}

func TestDisconnectUnregisters(t *testing.T) {
	ts, _, reg := newTestServer(t)
	conn := dial(t, ts, "/signal/user/carol")
	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}
