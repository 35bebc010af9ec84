package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/launcher/backend"
	"github.com/wfunc/launcher/coordinator"
	"github.com/wfunc/launcher/models"
	"github.com/wfunc/launcher/network"
	"github.com/wfunc/launcher/persistence"
	"github.com/wfunc/launcher/state"
)

const waitFor = 3 * time.Second

// recorder is an extra callback target that remembers what the backend said.
type recorder struct {
	mutex  sync.Mutex
	causes []coordinator.DisconnectCause
	levels []string
}

func (r *recorder) OnConnectedToBackend()                         {}
func (r *recorder) OnJoinRandomRoomFailed(code int16, msg string) {}
func (r *recorder) OnJoinedRoom()                                 {}

func (r *recorder) OnDisconnected(cause coordinator.DisconnectCause) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.causes = append(r.causes, cause)
}

func (r *recorder) OnLevelLoaded(level string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.levels = append(r.levels, level)
}

func (r *recorder) lastCause() (coordinator.DisconnectCause, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.causes) == 0 {
		return 0, false
	}
	return r.causes[len(r.causes)-1], true
}

func (r *recorder) levelCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.levels)
}

type testLobby struct {
	lobby *LobbyServer
	http  *httptest.Server
	wsURL string
}

func newTestLobby(t *testing.T) *testLobby {
	t.Helper()
	lobby, err := NewLobbyServer(Options{SessionTimeout: 5 * time.Second}, persistence.NewMemoryStore())
	require.NoError(t, err)

	srv := httptest.NewServer(lobby.Handler())
	t.Cleanup(func() {
		lobby.Shutdown(context.Background())
		srv.Close()
	})

	return &testLobby{
		lobby: lobby,
		http:  srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

type launcher struct {
	client *backend.Client
	coord  *coordinator.Coordinator
	rec    *recorder
}

func (l *testLobby) launcher(t *testing.T, version string, maxPlayers int, syncScene bool) *launcher {
	t.Helper()
	client := backend.NewClient(backend.Config{ServerURL: l.wsURL, HeartbeatInterval: time.Second, DialTimeout: time.Second})
	coord, err := coordinator.New(client, coordinator.Options{
		GameVersion:            version,
		MaxPlayers:             maxPlayers,
		AutomaticallySyncScene: syncScene,
	})
	require.NoError(t, err)

	rec := &recorder{}
	client.AddCallbackTarget(rec)
	t.Cleanup(func() {
		coord.Close()
		client.Close()
	})
	return &launcher{client: client, coord: coord, rec: rec}
}

func (l *launcher) connectAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, l.coord.Connect())
	require.Eventually(t, func() bool { return l.coord.State() == state.InRoom }, waitFor, 10*time.Millisecond)
}

func TestLobby_FirstLauncherCreatesRoom(t *testing.T) {
	lobby := newTestLobby(t)
	l := lobby.launcher(t, "1", 4, true)

	l.connectAndWait(t)

	assert.NotEmpty(t, l.client.RoomID())
	assert.Equal(t, 1, lobby.lobby.roomManager.Count())
	r, ok := lobby.lobby.roomManager.GetRoom(l.client.RoomID())
	require.True(t, ok)
	assert.Equal(t, 4, r.MaxPlayers)
	assert.Equal(t, "1", r.GameVersion)
}

func TestLobby_SecondLauncherJoinsRandomRoom(t *testing.T) {
	lobby := newTestLobby(t)
	host := lobby.launcher(t, "1", 4, true)
	guest := lobby.launcher(t, "1", 4, true)

	host.connectAndWait(t)
	guest.connectAndWait(t)

	assert.Equal(t, host.client.RoomID(), guest.client.RoomID())
	assert.Equal(t, 1, lobby.lobby.roomManager.Count())
}

func TestLobby_VersionsDoNotMix(t *testing.T) {
	lobby := newTestLobby(t)
	v1 := lobby.launcher(t, "1", 4, true)
	v2 := lobby.launcher(t, "2", 4, true)

	v1.connectAndWait(t)
	v2.connectAndWait(t)

	assert.NotEqual(t, v1.client.RoomID(), v2.client.RoomID())
	assert.Equal(t, 2, lobby.lobby.roomManager.Count())
}

func TestLobby_FullRoomForcesCreate(t *testing.T) {
	lobby := newTestLobby(t)
	solo := lobby.launcher(t, "1", 1, true)
	next := lobby.launcher(t, "1", 1, true)

	solo.connectAndWait(t)
	next.connectAndWait(t)

	assert.NotEqual(t, solo.client.RoomID(), next.client.RoomID())
}

// serverRoom is the room the lobby holds la's session in.
func (l *testLobby) serverRoom(la *launcher) string {
	sess, ok := l.lobby.sessionManager.Get(la.client.SessionID())
	if !ok {
		return "<no session>"
	}
	return sess.RoomID()
}

func TestLobby_ConnectAgainWhileInRoom(t *testing.T) {
	lobby := newTestLobby(t)
	l := lobby.launcher(t, "1", 4, true)
	l.connectAndWait(t)
	first := l.client.RoomID()

	require.NoError(t, l.coord.Connect())

	require.Eventually(t, func() bool {
		return l.coord.State() == state.InRoom && l.client.RoomID() != ""
	}, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, state.InRoom, l.coord.State())
	assert.Equal(t, l.client.RoomID(), lobby.serverRoom(l))
	_, stillOpen := lobby.lobby.roomManager.GetRoom(first)
	assert.False(t, stillOpen, "the room left behind was empty and is closed")
	assert.Equal(t, 1, lobby.lobby.roomManager.Count())
}

func TestLobby_ConnectWhileInSharedRoom(t *testing.T) {
	lobby := newTestLobby(t)
	host := lobby.launcher(t, "1", 4, true)
	guest := lobby.launcher(t, "1", 4, true)
	host.connectAndWait(t)
	guest.connectAndWait(t)
	shared := host.client.RoomID()

	require.NoError(t, guest.coord.Connect())

	require.Eventually(t, func() bool {
		return guest.coord.State() == state.InRoom && guest.client.RoomID() != ""
	}, waitFor, 10*time.Millisecond)

	// the shared room is the only one with a free seat, so guest lands back in it
	assert.Equal(t, shared, guest.client.RoomID())
	assert.Equal(t, shared, lobby.serverRoom(guest))
	r, ok := lobby.lobby.roomManager.GetRoom(shared)
	require.True(t, ok)
	assert.Equal(t, 2, r.PlayerCount())
}

func TestLobby_LeaveRoomThenConnect(t *testing.T) {
	lobby := newTestLobby(t)
	l := lobby.launcher(t, "1", 4, true)
	l.connectAndWait(t)

	require.NoError(t, l.coord.LeaveRoom())
	assert.Equal(t, state.ConnectedToBackend, l.coord.State())
	require.Eventually(t, func() bool { return lobby.serverRoom(l) == "" }, waitFor, 10*time.Millisecond)

	l.connectAndWait(t)
	assert.Equal(t, l.client.RoomID(), lobby.serverRoom(l))
}

func TestLobby_ClientDisconnect(t *testing.T) {
	lobby := newTestLobby(t)
	l := lobby.launcher(t, "1", 4, true)
	l.connectAndWait(t)

	require.NoError(t, l.coord.Disconnect())

	require.Eventually(t, func() bool { return l.coord.State() == state.Disconnected }, waitFor, 10*time.Millisecond)
	cause, ok := l.rec.lastCause()
	require.True(t, ok)
	assert.Equal(t, coordinator.CauseDisconnectByClientLogic, cause)

	// the empty room is closed once the session is gone
	require.Eventually(t, func() bool { return lobby.lobby.roomManager.Count() == 0 }, waitFor, 10*time.Millisecond)
}

func TestLobby_ServerShutdown(t *testing.T) {
	lobby := newTestLobby(t)
	l := lobby.launcher(t, "1", 4, true)
	l.connectAndWait(t)

	require.NoError(t, lobby.lobby.Shutdown(context.Background()))

	require.Eventually(t, func() bool { return l.coord.State() == state.Disconnected }, waitFor, 10*time.Millisecond)
	cause, _ := l.rec.lastCause()
	assert.Equal(t, coordinator.CauseServerShutdown, cause)
}

func TestLobby_DialFailure(t *testing.T) {
	lobby := newTestLobby(t)
	lobby.wsURL = "ws://127.0.0.1:1/ws"
	l := lobby.launcher(t, "1", 4, true)

	require.NoError(t, l.coord.Connect())

	require.Eventually(t, func() bool {
		cause, ok := l.rec.lastCause()
		return ok && cause == coordinator.CauseExceptionOnConnect
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, state.Disconnected, l.coord.State())
}

func TestLobby_LoadLevelReachesSceneSyncMembers(t *testing.T) {
	lobby := newTestLobby(t)
	host := lobby.launcher(t, "1", 4, true)
	syncing := lobby.launcher(t, "1", 4, true)
	manual := lobby.launcher(t, "1", 4, false)

	host.connectAndWait(t)
	syncing.connectAndWait(t)
	manual.connectAndWait(t)

	require.NoError(t, host.client.LoadLevel("arena"))

	require.Eventually(t, func() bool {
		return host.rec.levelCount() == 1 && syncing.rec.levelCount() == 1
	}, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, manual.rec.levelCount())
}

func TestLobby_ListRooms(t *testing.T) {
	lobby := newTestLobby(t)
	lobby.launcher(t, "1", 4, true).connectAndWait(t)
	lobby.launcher(t, "2", 3, true).connectAndWait(t)

	resp, err := http.Get(lobby.http.URL + "/rooms?version=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []models.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "2", rooms[0].GameVersion)
	assert.Equal(t, 3, rooms[0].MaxPlayers)
	assert.Equal(t, 1, rooms[0].PlayerCount)
}

func readUntil(t *testing.T, conn *network.WSConnection, msgID uint16) *network.Packet {
	t.Helper()
	for {
		packet, err := conn.ReadPacket()
		require.NoError(t, err)
		if packet.MsgID == msgID {
			return packet
		}
	}
}

func TestLobby_RejectsEmptyVersion(t *testing.T) {
	lobby := newTestLobby(t)
	conn, err := network.Dial(lobby.wsURL, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetHeartbeat(time.Second)

	require.NoError(t, conn.SendPayload(network.MsgTypeHandshake, network.Handshake{}))

	var d network.Disconnect
	require.NoError(t, network.Decode(readUntil(t, conn, network.MsgTypeDisconnect).Data, &d))
	assert.Equal(t, network.CauseInvalidVersion, d.Cause)
}

func TestLobby_RequiresHandshake(t *testing.T) {
	lobby := newTestLobby(t)
	conn, err := network.Dial(lobby.wsURL, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetHeartbeat(time.Second)

	require.NoError(t, conn.SendPayload(network.MsgTypeJoinRandomRoom, struct{}{}))

	var d network.Disconnect
	require.NoError(t, network.Decode(readUntil(t, conn, network.MsgTypeDisconnect).Data, &d))
	assert.Equal(t, network.CauseOperationNotAllowed, d.Cause)
}

func TestLobby_JoinRandomFailureCode(t *testing.T) {
	lobby := newTestLobby(t)
	conn, err := network.Dial(lobby.wsURL, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetHeartbeat(time.Second)

	require.NoError(t, conn.SendPayload(network.MsgTypeHandshake, network.Handshake{GameVersion: "1"}))
	readUntil(t, conn, network.MsgTypeHandshakeAck)

	require.NoError(t, conn.SendPayload(network.MsgTypeJoinRandomRoom, struct{}{}))
	var failed network.JoinRandomFailed
	require.NoError(t, network.Decode(readUntil(t, conn, network.MsgTypeJoinRandomFailed).Data, &failed))
	assert.Equal(t, network.ErrCodeNoRandomMatchFound, failed.Code)

	require.NoError(t, conn.SendPayload(network.MsgTypeCreateRoom, network.CreateRoom{MaxPlayers: 0}))
	var createFailed network.CreateRoomFailed
	require.NoError(t, network.Decode(readUntil(t, conn, network.MsgTypeCreateRoomFailed).Data, &createFailed))
	assert.Equal(t, network.ErrCodeInvalidOperation, createFailed.Code)
}

func TestLobby_HeartbeatEcho(t *testing.T) {
	lobby := newTestLobby(t)
	conn, err := network.Dial(lobby.wsURL, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetHeartbeat(time.Second)

	require.NoError(t, conn.Send(network.MsgTypeHeartbeat, nil))
	packet := readUntil(t, conn, network.MsgTypeHeartbeat)
	assert.Zero(t, packet.Length)
}

func TestLobby_DropsSilentSessions(t *testing.T) {
	lobby, err := NewLobbyServer(Options{SessionTimeout: 100 * time.Millisecond}, persistence.NewMemoryStore())
	require.NoError(t, err)
	srv := httptest.NewServer(lobby.Handler())
	defer srv.Close()
	defer lobby.Shutdown(context.Background())

	conn, err := network.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetHeartbeat(time.Second)

	require.NoError(t, conn.SendPayload(network.MsgTypeHandshake, network.Handshake{GameVersion: "1"}))
	readUntil(t, conn, network.MsgTypeHandshakeAck)

	var d network.Disconnect
	require.NoError(t, network.Decode(readUntil(t, conn, network.MsgTypeDisconnect).Data, &d))
	assert.Equal(t, network.CauseDisconnectByServerLogic, d.Cause)
	require.Eventually(t, func() bool { return lobby.sessionManager.Count() == 0 }, waitFor, 10*time.Millisecond)
}
