package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/launcher/broadcast"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/monitor"
	"github.com/wfunc/launcher/network"
	"github.com/wfunc/launcher/persistence"
	"github.com/wfunc/launcher/room"
	"github.com/wfunc/launcher/rpc"
	"github.com/wfunc/launcher/services"
	"github.com/wfunc/launcher/session"
	"github.com/wfunc/launcher/timer"
)

type Options struct {
	HTTPAddress string
	// RPCAddress and MetricsAddress are optional; empty disables them.
	RPCAddress     string
	MetricsAddress string
	SessionTimeout time.Duration
}

// LobbyServer is the matchmaking backend launchers connect to.
type LobbyServer struct {
	opts           Options
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	matchmaking    *services.MatchmakingService
	broadcaster    broadcast.Broadcaster
	monitor        *monitor.Monitor
	store          persistence.Store
	rpcServer      *rpc.Server
	timers         *timer.TimerManager
	httpServer     *http.Server
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

func NewLobbyServer(opts Options, store persistence.Store) (*LobbyServer, error) {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 30 * time.Second
	}

	s := &LobbyServer{
		opts:           opts,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		monitor:        monitor.NewMonitor("lobby"),
		store:          store,
		timers:         timer.NewTimerManager(),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	roomBroadcaster := broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)
	s.broadcaster = roomBroadcaster
	s.matchmaking = services.NewMatchmakingService(s.roomManager, roomBroadcaster, store, s.monitor)

	if opts.RPCAddress != "" {
		rpcServer, err := rpc.NewServer(opts.RPCAddress)
		if err != nil {
			s.timers.Stop()
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	sweep := opts.SessionTimeout / 2
	s.timers.AddTimer(sweep, sweep, s.dropStaleSessions)

	return s, nil
}

// Handler serves the websocket endpoint at /ws and the open room list at
// /rooms.
func (s *LobbyServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rooms", s.handleListRooms)
	return mux
}

func (s *LobbyServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
		s.rpcServer.SetServing(true)
	}
	if s.opts.MetricsAddress != "" {
		s.monitor.StartServer(s.opts.MetricsAddress)
	}

	s.httpServer = &http.Server{
		Addr:              s.opts.HTTPAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Log.Infof("Lobby server listening on %s", s.opts.HTTPAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown tells every session the server is going away, closes them and
// stops the listeners.
func (s *LobbyServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.timers.Stop()

		if s.rpcServer != nil {
			s.rpcServer.SetServing(false)
		}

		if data, encErr := network.Encode(network.Disconnect{Cause: network.CauseServerShutdown, Reason: "server shutting down"}); encErr == nil {
			if bErr := s.broadcaster.BroadcastToAll(network.MsgTypeDisconnect, data); bErr != nil {
				logger.Log.Warnf("shutdown notice incomplete: %v", bErr)
			}
		}
		for _, sess := range s.sessionManager.All() {
			sess.Close()
		}

		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}
		if mErr := s.monitor.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	})
	return err
}

func (s *LobbyServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownChan:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *LobbyServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rooms, err := s.matchmaking.OpenRooms(r.Context(), r.URL.Query().Get("version"))
	if err != nil {
		logger.Log.Errorf("list rooms: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}

func (s *LobbyServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlineSessions()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		if sess.RoomID() != "" {
			if err := s.matchmaking.Leave(context.Background(), sess); err != nil {
				logger.Log.Warnf("leave on close for session %s: %v", sess.GetID(), err)
			}
		}
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlineSessions()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			start := time.Now()
			sess.Touch()
			s.monitor.IncMessagesReceived()

			if !s.handlePacket(sess, packet) {
				return
			}
			s.monitor.ObserveMessageLatency(time.Since(start))
		}
	}
}

// handlePacket reports whether the connection should stay open.
func (s *LobbyServer) handlePacket(sess *session.Session, packet *network.Packet) bool {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.Send(network.MsgTypeHeartbeat, nil)
		return true
	case network.MsgTypeHandshake:
		return s.handleHandshake(sess, packet)
	case network.MsgTypeDisconnect:
		return false
	}

	if !sess.Handshaked() {
		logger.Log.Warnf("Session %s sent message %d before handshake", sess.GetID(), packet.MsgID)
		s.disconnect(sess, network.CauseOperationNotAllowed, "handshake required")
		return false
	}

	switch packet.MsgID {
	case network.MsgTypeJoinRandomRoom:
		s.handleJoinRandomRoom(sess)
	case network.MsgTypeCreateRoom:
		s.handleCreateRoom(sess, packet)
	case network.MsgTypeLeaveRoom:
		s.handleLeaveRoom(sess)
	case network.MsgTypeLoadLevel:
		s.handleLoadLevel(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
	return true
}

func (s *LobbyServer) handleHandshake(sess *session.Session, packet *network.Packet) bool {
	if sess.Handshaked() {
		return true
	}

	var hs network.Handshake
	if err := network.Decode(packet.Data, &hs); err != nil || hs.GameVersion == "" {
		s.disconnect(sess, network.CauseInvalidVersion, "game version required")
		return false
	}

	sess.Handshake(hs.GameVersion, hs.AutoSyncScene)
	logger.Log.Infof("Session %s handshaked with version %q", sess.GetID(), hs.GameVersion)
	sess.SendPayload(network.MsgTypeHandshakeAck, network.HandshakeAck{SessionID: sess.GetID()})
	return true
}

func (s *LobbyServer) handleJoinRandomRoom(sess *session.Session) {
	r, err := s.matchmaking.JoinRandom(context.Background(), sess)
	if err != nil {
		sess.SendPayload(network.MsgTypeJoinRandomFailed, network.JoinRandomFailed{Code: codeFor(err), Message: err.Error()})
		return
	}

	logger.Log.Infof("Session %s joined room %s", sess.GetID(), r.ID)
	sess.SendPayload(network.MsgTypeJoinedRoom, joinedRoom(r, false))
}

func (s *LobbyServer) handleCreateRoom(sess *session.Session, packet *network.Packet) {
	var req network.CreateRoom
	if err := network.Decode(packet.Data, &req); err != nil {
		sess.SendPayload(network.MsgTypeCreateRoomFailed, network.CreateRoomFailed{Code: network.ErrCodeInvalidOperation, Message: err.Error()})
		return
	}

	r, err := s.matchmaking.CreateRoom(context.Background(), sess, req.Name, req.MaxPlayers)
	if err != nil {
		sess.SendPayload(network.MsgTypeCreateRoomFailed, network.CreateRoomFailed{Code: codeFor(err), Message: err.Error()})
		return
	}

	logger.Log.Infof("Session %s created room %s", sess.GetID(), r.ID)
	sess.SendPayload(network.MsgTypeJoinedRoom, joinedRoom(r, true))
}

func (s *LobbyServer) handleLeaveRoom(sess *session.Session) {
	if err := s.matchmaking.Leave(context.Background(), sess); err != nil {
		logger.Log.Warnf("Session %s leave room: %v", sess.GetID(), err)
	}
}

func (s *LobbyServer) handleLoadLevel(sess *session.Session, packet *network.Packet) {
	var req network.LoadLevel
	if err := network.Decode(packet.Data, &req); err != nil {
		logger.Log.Warnf("Session %s sent bad load level: %v", sess.GetID(), err)
		return
	}
	if err := s.matchmaking.LoadLevel(sess, req.Level); err != nil {
		logger.Log.Warnf("Session %s load level %q: %v", sess.GetID(), req.Level, err)
	}
}

func (s *LobbyServer) disconnect(sess *session.Session, cause uint8, reason string) {
	if err := sess.SendPayload(network.MsgTypeDisconnect, network.Disconnect{Cause: cause, Reason: reason}); err != nil {
		logger.Log.Debugf("disconnect notice to %s: %v", sess.GetID(), err)
	}
}

// dropStaleSessions closes sessions that have been silent for longer than
// the session timeout. Their read loops clean up.
func (s *LobbyServer) dropStaleSessions() {
	cutoff := time.Now().Add(-s.opts.SessionTimeout)
	for _, sess := range s.sessionManager.Stale(cutoff) {
		logger.Log.Infof("Session %s timed out", sess.GetID())
		s.disconnect(sess, network.CauseDisconnectByServerLogic, "session timeout")
		sess.Close()
	}
}

func joinedRoom(r *room.Room, created bool) network.JoinedRoom {
	return network.JoinedRoom{
		RoomID:      r.ID,
		RoomName:    r.Name,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount(),
		Created:     created,
	}
}

func codeFor(err error) int16 {
	switch {
	case errors.Is(err, services.ErrNoRandomMatch):
		return network.ErrCodeNoRandomMatchFound
	case errors.Is(err, room.ErrRoomExists):
		return network.ErrCodeGameIdAlreadyExists
	case errors.Is(err, room.ErrRoomFull):
		return network.ErrCodeGameFull
	case errors.Is(err, room.ErrRoomClosed):
		return network.ErrCodeGameClosed
	default:
		return network.ErrCodeInvalidOperation
	}
}
