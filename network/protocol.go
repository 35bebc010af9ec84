package network

const (
	MsgTypeHeartbeat        = 1
	MsgTypeHandshake        = 2
	MsgTypeHandshakeAck     = 3
	MsgTypeDisconnect       = 4
	MsgTypeJoinRandomRoom   = 101
	MsgTypeLeaveRoom        = 102
	MsgTypeCreateRoom       = 103
	MsgTypeJoinedRoom       = 104
	MsgTypeJoinRandomFailed = 105
	MsgTypeCreateRoomFailed = 106
	MsgTypeLoadLevel        = 201
	MsgTypeLevelSync        = 301
)

// Matchmaking error codes carried in JoinRandomFailed and CreateRoomFailed.
const (
	ErrCodeGameDoesNotExist    int16 = 32758
	ErrCodeNoRandomMatchFound  int16 = 32760
	ErrCodeGameClosed          int16 = 32764
	ErrCodeGameFull            int16 = 32765
	ErrCodeGameIdAlreadyExists int16 = 32766
	ErrCodeInvalidOperation    int16 = -2
)

// Disconnect causes carried in Disconnect.
const (
	CauseNone uint8 = iota
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
