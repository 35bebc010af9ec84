// backend/client.go
package backend

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/launcher/coordinator"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/network"
	"github.com/wfunc/launcher/timer"
)

var (
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrNotConnected     = errors.New("not connected to backend")
	ErrNotInRoom        = errors.New("not in a room")
	ErrClientClosed     = errors.New("client closed")
)

var _ coordinator.Backend = (*Client)(nil)

const (
	defaultDialTimeout = 10 * time.Second
	defaultHeartbeat   = 5 * time.Second
	dispatchQueueSize  = 64
)

type Config struct {
	ServerURL         string
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
}

// Client talks to a lobby server over a websocket and reports the outcome of
// every request to its callback targets. Notifications are delivered one at a
// time from a single dispatch goroutine.
type Client struct {
	cfg    Config
	timers *timer.TimerManager

	mutex         sync.Mutex
	conn          *network.WSConnection
	connecting    bool
	handshaked    bool
	sessionID     string
	roomID        string
	autoSyncScene bool
	heartbeatID   int64
	closing       bool
	serverCause   *coordinator.DisconnectCause
	targets       []coordinator.Callbacks
	closed        bool

	events chan func()
	done   chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	c := &Client{
		cfg:    cfg,
		timers: timer.NewTimerManager(),
		events: make(chan func(), dispatchQueueSize),
		done:   make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *Client) AddCallbackTarget(target coordinator.Callbacks) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, t := range c.targets {
		if t == target {
			return
		}
	}
	c.targets = append(c.targets, target)
}

func (c *Client) RemoveCallbackTarget(target coordinator.Callbacks) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i, t := range c.targets {
		if t == target {
			c.targets = append(c.targets[:i], c.targets[i+1:]...)
			return
		}
	}
}

func (c *Client) SetAutomaticallySyncScene(enabled bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.autoSyncScene = enabled
}

// ConnectWithVersion dials the server in the background. Success is reported
// through OnConnectedToBackend, failure through OnDisconnected.
func (c *Client) ConnectWithVersion(gameVersion string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.conn != nil || c.connecting {
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.serverCause = nil

	hs := network.Handshake{GameVersion: gameVersion, AutoSyncScene: c.autoSyncScene}
	go c.connect(hs)
	return nil
}

// JoinRandomRoom asks for a random room. The server takes the client out of
// its current room first.
func (c *Client) JoinRandomRoom() error {
	return c.sendMatchmaking(network.MsgTypeJoinRandomRoom, struct{}{})
}

// CreateRoom asks for a new room, leaving the current one like JoinRandomRoom.
func (c *Client) CreateRoom(name string, opts coordinator.RoomOptions) error {
	return c.sendMatchmaking(network.MsgTypeCreateRoom, network.CreateRoom{Name: name, MaxPlayers: opts.MaxPlayers})
}

func (c *Client) LeaveRoom() error {
	if c.RoomID() == "" {
		return ErrNotInRoom
	}
	if err := c.send(network.MsgTypeLeaveRoom, struct{}{}); err != nil {
		return err
	}
	c.mutex.Lock()
	c.roomID = ""
	c.mutex.Unlock()
	return nil
}

// LoadLevel asks the server to load level on every room member that enabled
// scene sync, this client included.
func (c *Client) LoadLevel(level string) error {
	if c.RoomID() == "" {
		return ErrNotInRoom
	}
	return c.send(network.MsgTypeLoadLevel, network.LoadLevel{Level: level})
}

// Disconnect closes the connection. OnDisconnected follows with
// CauseDisconnectByClientLogic.
func (c *Client) Disconnect() error {
	c.mutex.Lock()
	conn := c.conn
	if conn == nil {
		c.mutex.Unlock()
		return ErrNotConnected
	}
	c.closing = true
	c.mutex.Unlock()

	_ = conn.SendPayload(network.MsgTypeDisconnect, network.Disconnect{Cause: network.CauseDisconnectByClientLogic})
	return conn.CloseGracefully()
}

func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.handshaked
}

func (c *Client) SessionID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sessionID
}

func (c *Client) RoomID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.roomID
}

// Close disconnects if needed and stops delivering notifications.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mutex.Unlock()

	if conn != nil {
		_ = conn.CloseGracefully()
	}
	c.timers.Stop()
	close(c.done)
	return nil
}

// sendMatchmaking forgets the current room before the request goes out, so a
// fast JoinedRoom reply is never overwritten.
func (c *Client) sendMatchmaking(msgID uint16, payload interface{}) error {
	c.mutex.Lock()
	if c.conn != nil && c.handshaked {
		c.roomID = ""
	}
	c.mutex.Unlock()
	return c.send(msgID, payload)
}

func (c *Client) send(msgID uint16, payload interface{}) error {
	c.mutex.Lock()
	conn := c.conn
	ready := c.handshaked
	c.mutex.Unlock()

	if conn == nil || !ready {
		return ErrNotConnected
	}
	return conn.SendPayload(msgID, payload)
}

func (c *Client) connect(hs network.Handshake) {
	conn, err := network.Dial(c.cfg.ServerURL, c.cfg.DialTimeout)
	if err != nil {
		logger.Log.Warnw("backend dial failed", "url", c.cfg.ServerURL, "error", err)
		c.mutex.Lock()
		c.connecting = false
		c.mutex.Unlock()
		c.emitDisconnected(coordinator.CauseExceptionOnConnect)
		return
	}

	c.mutex.Lock()
	if c.closed {
		c.connecting = false
		c.mutex.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connecting = false
	c.mutex.Unlock()

	conn.SetHeartbeat(c.cfg.HeartbeatInterval)
	if err := conn.SendPayload(network.MsgTypeHandshake, hs); err != nil {
		logger.Log.Warnw("handshake send failed", "error", err)
		c.teardown(conn, coordinator.CauseExceptionOnConnect)
		return
	}

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *network.WSConnection) {
	for {
		packet, err := conn.ReadPacket()
		if err != nil {
			c.teardown(conn, causeFor(err))
			return
		}
		c.handlePacket(conn, packet)
	}
}

func (c *Client) handlePacket(conn *network.WSConnection, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:

	case network.MsgTypeHandshakeAck:
		var ack network.HandshakeAck
		if err := network.Decode(packet.Data, &ack); err != nil {
			logger.Log.Warnw("bad handshake ack", "error", err)
			return
		}
		c.mutex.Lock()
		c.handshaked = true
		c.sessionID = ack.SessionID
		c.heartbeatID = c.timers.AddTimer(c.cfg.HeartbeatInterval, c.cfg.HeartbeatInterval, func() {
			if err := conn.Send(network.MsgTypeHeartbeat, nil); err != nil {
				logger.Log.Debugw("heartbeat send failed", "error", err)
			}
		})
		c.mutex.Unlock()
		c.emit(func(t coordinator.Callbacks) { t.OnConnectedToBackend() })

	case network.MsgTypeJoinedRoom:
		var joined network.JoinedRoom
		if err := network.Decode(packet.Data, &joined); err != nil {
			logger.Log.Warnw("bad joined room payload", "error", err)
			return
		}
		c.mutex.Lock()
		c.roomID = joined.RoomID
		c.mutex.Unlock()
		logger.Log.Debugw("joined room", "room_id", joined.RoomID, "players", joined.PlayerCount, "max_players", joined.MaxPlayers, "created", joined.Created)
		c.emit(func(t coordinator.Callbacks) { t.OnJoinedRoom() })

	case network.MsgTypeJoinRandomFailed:
		var failed network.JoinRandomFailed
		if err := network.Decode(packet.Data, &failed); err != nil {
			logger.Log.Warnw("bad join failure payload", "error", err)
			return
		}
		c.emit(func(t coordinator.Callbacks) { t.OnJoinRandomRoomFailed(failed.Code, failed.Message) })

	case network.MsgTypeCreateRoomFailed:
		var failed network.CreateRoomFailed
		if err := network.Decode(packet.Data, &failed); err != nil {
			logger.Log.Warnw("bad create failure payload", "error", err)
			return
		}
		c.emit(func(t coordinator.Callbacks) {
			if cc, ok := t.(coordinator.CreateRoomCallbacks); ok {
				cc.OnCreateRoomFailed(failed.Code, failed.Message)
			}
		})

	case network.MsgTypeLevelSync:
		var level network.LoadLevel
		if err := network.Decode(packet.Data, &level); err != nil {
			logger.Log.Warnw("bad level sync payload", "error", err)
			return
		}
		c.emit(func(t coordinator.Callbacks) {
			if lc, ok := t.(coordinator.LevelCallbacks); ok {
				lc.OnLevelLoaded(level.Level)
			}
		})

	case network.MsgTypeDisconnect:
		var d network.Disconnect
		if err := network.Decode(packet.Data, &d); err != nil {
			logger.Log.Warnw("bad disconnect payload", "error", err)
			return
		}
		cause := coordinator.DisconnectCause(d.Cause)
		c.mutex.Lock()
		c.serverCause = &cause
		c.mutex.Unlock()
		logger.Log.Infow("server closing connection", "cause", cause.String(), "reason", d.Reason)

	default:
		logger.Log.Debugw("unknown message type", "msg_id", packet.MsgID)
	}
}

// teardown releases conn once and reports why it went away.
func (c *Client) teardown(conn *network.WSConnection, cause coordinator.DisconnectCause) {
	c.mutex.Lock()
	if c.conn != conn {
		c.mutex.Unlock()
		return
	}
	c.conn = nil
	c.handshaked = false
	c.roomID = ""
	if c.heartbeatID != 0 {
		c.timers.RemoveTimer(c.heartbeatID)
		c.heartbeatID = 0
	}
	switch {
	case c.closing:
		cause = coordinator.CauseDisconnectByClientLogic
		c.closing = false
	case c.serverCause != nil:
		cause = *c.serverCause
		c.serverCause = nil
	}
	c.mutex.Unlock()

	conn.Close()
	c.emitDisconnected(cause)
}

func (c *Client) emitDisconnected(cause coordinator.DisconnectCause) {
	c.emit(func(t coordinator.Callbacks) { t.OnDisconnected(cause) })
}

// emit queues fn for every callback target registered at delivery time.
func (c *Client) emit(fn func(t coordinator.Callbacks)) {
	ev := func() {
		c.mutex.Lock()
		targets := make([]coordinator.Callbacks, len(c.targets))
		copy(targets, c.targets)
		c.mutex.Unlock()

		for _, t := range targets {
			fn(t)
		}
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case ev := <-c.events:
			ev()
		case <-c.done:
			return
		}
	}
}

func causeFor(err error) coordinator.DisconnectCause {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return coordinator.CauseClientTimeout
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return coordinator.CauseDisconnectByServerLogic
	}
	return coordinator.CauseException
}
