package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wfunc/launcher/config"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/state"
)

var (
	ErrRequestPending = errors.New("a backend request is already pending")
	ErrClosed         = errors.New("coordinator closed")
	ErrNotInRoom      = errors.New("not in a room")
)

// Options are fixed for the coordinator's lifetime.
type Options struct {
	// GameVersion partitions matchmaking: only clients with equal versions
	// meet in a room.
	GameVersion string
	// MaxPlayers is the capacity of rooms this client creates.
	MaxPlayers             int
	AutomaticallySyncScene bool
}

func (o Options) validate() error {
	if o.GameVersion == "" {
		return errors.New("game version must not be empty")
	}
	if o.MaxPlayers < 1 || o.MaxPlayers > config.MaxRoomCapacity {
		return fmt.Errorf("max players must be between 1 and %d, got %d", config.MaxRoomCapacity, o.MaxPlayers)
	}
	return nil
}

// Coordinator connects to a backend and gets the client into a room: join a
// random room, or create one when none is joinable. It never reconnects on
// its own and never has more than one request outstanding.
type Coordinator struct {
	backend Backend
	opts    Options
	machine *state.BaseStateMachine
	mutex   sync.Mutex
	closed  bool
}

// New validates opts, applies the scene sync flag to the backend and
// subscribes the coordinator to its notifications.
func New(backend Backend, opts Options) (*Coordinator, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		backend: backend,
		opts:    opts,
		machine: state.NewConnectionStateMachine(),
	}
	backend.SetAutomaticallySyncScene(opts.AutomaticallySyncScene)
	backend.AddCallbackTarget(c)
	return c, nil
}

// Connect joins a random room when the backend connection is up, otherwise
// starts connecting with the configured version. The outcome is reported
// through notifications; ErrRequestPending means one is still awaited.
func (c *Coordinator) Connect() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return ErrClosed
	}

	current := c.machine.GetCurrentState()
	switch {
	case current.Pending():
		c.mutex.Unlock()
		return ErrRequestPending

	case current.Connected():
		c.machine.ChangeState(state.JoiningRoom)
		c.mutex.Unlock()

		if err := c.backend.JoinRandomRoom(); err != nil {
			c.revert(state.JoiningRoom, current)
			return fmt.Errorf("join random room: %w", err)
		}
		return nil

	default:
		c.machine.ChangeState(state.Connecting)
		c.mutex.Unlock()

		if err := c.backend.ConnectWithVersion(c.opts.GameVersion); err != nil {
			c.revert(state.Connecting, current)
			return fmt.Errorf("connect with version %q: %w", c.opts.GameVersion, err)
		}
		return nil
	}
}

// LeaveRoom leaves the current room and keeps the backend connection.
func (c *Coordinator) LeaveRoom() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.machine.GetCurrentState() != state.InRoom {
		return ErrNotInRoom
	}
	if err := c.backend.LeaveRoom(); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	c.advance(state.ConnectedToBackend)
	return nil
}

// Disconnect asks the backend to tear down the connection. OnDisconnected
// follows.
func (c *Coordinator) Disconnect() error {
	return c.backend.Disconnect()
}

// Close unsubscribes from the backend. The coordinator cannot be reused.
func (c *Coordinator) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.mutex.Unlock()

	c.backend.RemoveCallbackTarget(c)
}

func (c *Coordinator) State() state.ConnectionState {
	return c.machine.GetCurrentState()
}

func (c *Coordinator) Options() Options {
	return c.opts
}

// OnStateChange registers fn to observe every state transition. fn runs
// while the coordinator is locked and must not call back into it.
func (c *Coordinator) OnStateChange(fn state.TransitionFunc) {
	c.machine.OnTransition(fn)
}

func (c *Coordinator) OnConnectedToBackend() {
	logger.Log.Infow("OnConnectedToBackend", "game_version", c.opts.GameVersion)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.advance(state.ConnectedToBackend)
	c.requestJoinRandomRoom()
}

func (c *Coordinator) OnDisconnected(cause DisconnectCause) {
	logger.Log.Infow("OnDisconnected", "cause", cause.String())

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.machine.SetState(state.Disconnected)
}

func (c *Coordinator) OnJoinRandomRoomFailed(code int16, message string) {
	logger.Log.Infow("OnJoinRandomRoomFailed", "code", code, "message", message, "max_players", c.opts.MaxPlayers)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.advance(state.JoiningRoom)
	if err := c.backend.CreateRoom("", RoomOptions{MaxPlayers: c.opts.MaxPlayers}); err != nil {
		logger.Log.Errorw("create room request failed", "error", err)
		c.revertLocked(state.JoiningRoom, state.ConnectedToBackend)
	}
}

// OnCreateRoomFailed leaves the coordinator connected; a later Connect
// retries matchmaking.
func (c *Coordinator) OnCreateRoomFailed(code int16, message string) {
	logger.Log.Warnw("OnCreateRoomFailed", "code", code, "message", message)
	c.revert(state.JoiningRoom, state.ConnectedToBackend)
}

func (c *Coordinator) OnJoinedRoom() {
	logger.Log.Info("OnJoinedRoom")

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.advance(state.InRoom)
}

func (c *Coordinator) OnLevelLoaded(level string) {
	logger.Log.Infow("OnLevelLoaded", "level", level)
}

// requestJoinRandomRoom is called with c.mutex held, so Connect cannot slip
// a second request in between.
func (c *Coordinator) requestJoinRandomRoom() {
	c.advance(state.JoiningRoom)
	if err := c.backend.JoinRandomRoom(); err != nil {
		logger.Log.Errorw("join random room request failed", "error", err)
		c.revertLocked(state.JoiningRoom, state.ConnectedToBackend)
	}
}

// advance follows a notification. The backend is authoritative, so an edge
// the machine does not know is logged and taken anyway.
func (c *Coordinator) advance(to state.ConnectionState) {
	if err := c.machine.ChangeState(to); err != nil {
		logger.Log.Warnw("unexpected backend notification", "error", err)
		c.machine.SetState(to)
	}
}

// revert undoes a pending state after a request could not be sent, unless a
// notification has moved the machine on in the meantime.
func (c *Coordinator) revert(pending, previous state.ConnectionState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.revertLocked(pending, previous)
}

func (c *Coordinator) revertLocked(pending, previous state.ConnectionState) {
	if c.machine.GetCurrentState() == pending {
		c.machine.SetState(previous)
	}
}
