package backend

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/launcher/coordinator"
	"github.com/wfunc/launcher/network"
)

const waitFor = 3 * time.Second

type event struct {
	kind  string
	code  int16
	cause coordinator.DisconnectCause
	level string
}

// recorder collects notifications in delivery order.
type recorder struct {
	mutex  sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnConnectedToBackend() { r.add(event{kind: "connected"}) }
func (r *recorder) OnJoinedRoom()         { r.add(event{kind: "joined"}) }
func (r *recorder) OnDisconnected(cause coordinator.DisconnectCause) {
	r.add(event{kind: "disconnected", cause: cause})
}
func (r *recorder) OnJoinRandomRoomFailed(code int16, message string) {
	r.add(event{kind: "join_failed", code: code})
}
func (r *recorder) OnCreateRoomFailed(code int16, message string) {
	r.add(event{kind: "create_failed", code: code})
}
func (r *recorder) OnLevelLoaded(level string) { r.add(event{kind: "level", level: level}) }

func (r *recorder) kinds() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	kinds := make([]string, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.kind
	}
	return kinds
}

func (r *recorder) last() event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.events) == 0 {
		return event{}
	}
	return r.events[len(r.events)-1]
}

// fakeLobby upgrades one connection and hands every inbound packet to script.
type fakeLobby struct {
	server    *httptest.Server
	handshake chan network.Handshake
}

func newFakeLobby(t *testing.T, script func(conn *network.WSConnection, packet *network.Packet) bool) *fakeLobby {
	t.Helper()
	f := &fakeLobby{handshake: make(chan network.Handshake, 1)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := network.NewWSConnection(ws)
		defer conn.Close()
		conn.SetHeartbeat(time.Second)

		for {
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			if packet.MsgID == network.MsgTypeHandshake {
				var hs network.Handshake
				if network.Decode(packet.Data, &hs) == nil {
					f.handshake <- hs
				}
				conn.SendPayload(network.MsgTypeHandshakeAck, network.HandshakeAck{SessionID: "s-1"})
				continue
			}
			if !script(conn, packet) {
				return
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLobby) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func newTestClient(t *testing.T, url string, heartbeat time.Duration) (*Client, *recorder) {
	t.Helper()
	c := NewClient(Config{ServerURL: url, HeartbeatInterval: heartbeat, DialTimeout: time.Second})
	rec := &recorder{}
	c.AddCallbackTarget(rec)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func ignore(conn *network.WSConnection, packet *network.Packet) bool { return true }

func TestClient_HandshakeCarriesVersionAndSceneSync(t *testing.T) {
	lobby := newFakeLobby(t, ignore)
	c, rec := newTestClient(t, lobby.url(), time.Second)

	c.SetAutomaticallySyncScene(true)
	require.NoError(t, c.ConnectWithVersion("1"))

	select {
	case hs := <-lobby.handshake:
		assert.Equal(t, "1", hs.GameVersion)
		assert.True(t, hs.AutoSyncScene)
	case <-time.After(waitFor):
		t.Fatal("no handshake received")
	}

	require.Eventually(t, func() bool { return c.IsConnected() }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "s-1", c.SessionID())
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"connected"}, rec.kinds())
}

func TestClient_ConnectTwice(t *testing.T) {
	lobby := newFakeLobby(t, ignore)
	c, _ := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	assert.ErrorIs(t, c.ConnectWithVersion("1"), ErrAlreadyConnected)
}

func TestClient_RequestsNeedConnection(t *testing.T) {
	c, _ := newTestClient(t, "ws://127.0.0.1:1", time.Second)

	assert.ErrorIs(t, c.JoinRandomRoom(), ErrNotConnected)
	assert.ErrorIs(t, c.CreateRoom("", coordinator.RoomOptions{MaxPlayers: 4}), ErrNotConnected)
	assert.ErrorIs(t, c.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, c.LeaveRoom(), ErrNotInRoom)
	assert.ErrorIs(t, c.LoadLevel("arena"), ErrNotInRoom)
}

func TestClient_DialFailure(t *testing.T) {
	c, rec := newTestClient(t, "ws://127.0.0.1:1", time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))

	require.Eventually(t, func() bool { return rec.last().kind == "disconnected" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, coordinator.CauseExceptionOnConnect, rec.last().cause)
	assert.False(t, c.IsConnected())

	// a failed dial leaves the client free to try again
	assert.NoError(t, c.ConnectWithVersion("1"))
}

func TestClient_JoinAndFailureNotifications(t *testing.T) {
	lobby := newFakeLobby(t, func(conn *network.WSConnection, packet *network.Packet) bool {
		switch packet.MsgID {
		case network.MsgTypeJoinRandomRoom:
			conn.SendPayload(network.MsgTypeJoinRandomFailed, network.JoinRandomFailed{Code: network.ErrCodeNoRandomMatchFound})
		case network.MsgTypeCreateRoom:
			var req network.CreateRoom
			network.Decode(packet.Data, &req)
			if req.MaxPlayers > 2 {
				conn.SendPayload(network.MsgTypeCreateRoomFailed, network.CreateRoomFailed{Code: network.ErrCodeGameFull})
				return true
			}
			conn.SendPayload(network.MsgTypeJoinedRoom, network.JoinedRoom{RoomID: "r-1", MaxPlayers: req.MaxPlayers, PlayerCount: 1, Created: true})
		}
		return true
	})
	c, rec := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)

	require.NoError(t, c.JoinRandomRoom())
	require.Eventually(t, func() bool { return rec.last().kind == "join_failed" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, network.ErrCodeNoRandomMatchFound, rec.last().code)

	require.NoError(t, c.CreateRoom("", coordinator.RoomOptions{MaxPlayers: 3}))
	require.Eventually(t, func() bool { return rec.last().kind == "create_failed" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, network.ErrCodeGameFull, rec.last().code)

	require.NoError(t, c.CreateRoom("", coordinator.RoomOptions{MaxPlayers: 2}))
	require.Eventually(t, func() bool { return rec.last().kind == "joined" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "r-1", c.RoomID())

	assert.Equal(t, []string{"connected", "join_failed", "create_failed", "joined"}, rec.kinds())
}

func TestClient_LevelSync(t *testing.T) {
	lobby := newFakeLobby(t, func(conn *network.WSConnection, packet *network.Packet) bool {
		switch packet.MsgID {
		case network.MsgTypeJoinRandomRoom:
			conn.SendPayload(network.MsgTypeJoinedRoom, network.JoinedRoom{RoomID: "r-1"})
		case network.MsgTypeLoadLevel:
			conn.Send(network.MsgTypeLevelSync, packet.Data)
		}
		return true
	})
	c, rec := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	require.NoError(t, c.JoinRandomRoom())
	require.Eventually(t, func() bool { return c.RoomID() == "r-1" }, waitFor, 10*time.Millisecond)

	require.NoError(t, c.LoadLevel("arena"))
	require.Eventually(t, func() bool { return rec.last().kind == "level" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "arena", rec.last().level)
}

func TestClient_ServerDisconnectCause(t *testing.T) {
	lobby := newFakeLobby(t, func(conn *network.WSConnection, packet *network.Packet) bool {
		if packet.MsgID == network.MsgTypeJoinRandomRoom {
			conn.SendPayload(network.MsgTypeDisconnect, network.Disconnect{Cause: network.CauseServerShutdown, Reason: "bye"})
			return false
		}
		return true
	})
	c, rec := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	require.NoError(t, c.JoinRandomRoom())

	require.Eventually(t, func() bool { return rec.last().kind == "disconnected" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, coordinator.CauseServerShutdown, rec.last().cause)
	assert.False(t, c.IsConnected())
}

func TestClient_ExplicitDisconnect(t *testing.T) {
	lobby := newFakeLobby(t, func(conn *network.WSConnection, packet *network.Packet) bool {
		return packet.MsgID != network.MsgTypeDisconnect
	})
	c, rec := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)

	require.NoError(t, c.Disconnect())

	require.Eventually(t, func() bool { return rec.last().kind == "disconnected" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, coordinator.CauseDisconnectByClientLogic, rec.last().cause)
}

func TestClient_ReadTimeout(t *testing.T) {
	// the fake lobby never answers heartbeats, so the read deadline expires
	lobby := newFakeLobby(t, ignore)
	c, rec := newTestClient(t, lobby.url(), 50*time.Millisecond)

	require.NoError(t, c.ConnectWithVersion("1"))

	require.Eventually(t, func() bool { return rec.last().kind == "disconnected" }, waitFor, 10*time.Millisecond)
	assert.Equal(t, coordinator.CauseClientTimeout, rec.last().cause)
}

func TestClient_CallbackTargets(t *testing.T) {
	c, rec := newTestClient(t, "ws://127.0.0.1:1", time.Second)
	other := &recorder{}

	c.AddCallbackTarget(rec)
	c.AddCallbackTarget(other)
	c.RemoveCallbackTarget(other)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, func() bool { return rec.last().kind == "disconnected" }, waitFor, 10*time.Millisecond)

	assert.Len(t, rec.kinds(), 1)
	assert.Empty(t, other.kinds())
}

func TestClient_Close(t *testing.T) {
	c := NewClient(Config{ServerURL: "ws://127.0.0.1:1"})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.ConnectWithVersion("1"), ErrClientClosed)
}

func TestClient_MatchmakingForgetsCurrentRoom(t *testing.T) {
	joined := false
	lobby := newFakeLobby(t, func(conn *network.WSConnection, packet *network.Packet) bool {
		if packet.MsgID != network.MsgTypeJoinRandomRoom {
			return true
		}
		if !joined {
			joined = true
			conn.SendPayload(network.MsgTypeJoinedRoom, network.JoinedRoom{RoomID: "r-1"})
			return true
		}
		conn.SendPayload(network.MsgTypeJoinRandomFailed, network.JoinRandomFailed{Code: network.ErrCodeNoRandomMatchFound})
		return true
	})
	c, rec := newTestClient(t, lobby.url(), time.Second)

	require.NoError(t, c.ConnectWithVersion("1"))
	require.Eventually(t, c.IsConnected, waitFor, 10*time.Millisecond)
	require.NoError(t, c.JoinRandomRoom())
	require.Eventually(t, func() bool { return c.RoomID() == "r-1" }, waitFor, 10*time.Millisecond)

	require.NoError(t, c.JoinRandomRoom())
	assert.Empty(t, c.RoomID())
	require.Eventually(t, func() bool { return rec.last().kind == "join_failed" }, waitFor, 10*time.Millisecond)
	assert.Empty(t, c.RoomID())
}
