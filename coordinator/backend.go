package coordinator

import "fmt"

// Matchmaking error codes reported through OnJoinRandomRoomFailed.
const (
	ErrCodeGameDoesNotExist    int16 = 32758
	ErrCodeNoRandomMatchFound  int16 = 32760
	ErrCodeGameClosed          int16 = 32764
	ErrCodeGameFull            int16 = 32765
	ErrCodeGameIdAlreadyExists int16 = 32766
)

// DisconnectCause says why a backend connection ended.
type DisconnectCause uint8

const (
	CauseNone DisconnectCause = iota
	CauseExceptionOnConnect
	CauseException
	CauseServerTimeout
	CauseClientTimeout
	CauseDisconnectByServerLogic
	CauseDisconnectByClientLogic
	CauseInvalidVersion
	CauseOperationNotAllowed
	CauseServerShutdown
)

func (c DisconnectCause) String() string {
	switch c {
	case CauseNone:
		return "None"
	case CauseExceptionOnConnect:
		return "ExceptionOnConnect"
	case CauseException:
		return "Exception"
	case CauseServerTimeout:
		return "ServerTimeout"
	case CauseClientTimeout:
		return "ClientTimeout"
	case CauseDisconnectByServerLogic:
		return "DisconnectByServerLogic"
	case CauseDisconnectByClientLogic:
		return "DisconnectByClientLogic"
	case CauseInvalidVersion:
		return "InvalidVersion"
	case CauseOperationNotAllowed:
		return "OperationNotAllowed"
	case CauseServerShutdown:
		return "ServerShutdown"
	default:
		return fmt.Sprintf("DisconnectCause(%d)", uint8(c))
	}
}

// RoomOptions shapes a room created by CreateRoom.
type RoomOptions struct {
	MaxPlayers int
}

// Callbacks receives backend notifications. A backend delivers them one at a
// time, in order, from a single goroutine.
type Callbacks interface {
	OnConnectedToBackend()
	OnDisconnected(cause DisconnectCause)
	OnJoinRandomRoomFailed(code int16, message string)
	OnJoinedRoom()
}

// LevelCallbacks is implemented by callback targets that want level sync
// notifications.
type LevelCallbacks interface {
	OnLevelLoaded(level string)
}

// CreateRoomCallbacks is implemented by callback targets that want to hear
// about rejected create room requests.
type CreateRoomCallbacks interface {
	OnCreateRoomFailed(code int16, message string)
}

// Backend is the request side of a real-time multiplayer service. Requests
// only start an operation; the outcome arrives later through Callbacks.
type Backend interface {
	ConnectWithVersion(gameVersion string) error
	JoinRandomRoom() error
	// CreateRoom creates and joins a room. An empty name lets the backend
	// assign one.
	CreateRoom(name string, opts RoomOptions) error
	// LeaveRoom leaves the current room and keeps the connection.
	LeaveRoom() error
	Disconnect() error
	SetAutomaticallySyncScene(enabled bool)
	AddCallbackTarget(target Callbacks)
	RemoveCallbackTarget(target Callbacks)
}
