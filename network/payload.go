package network

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Handshake is the first packet a client sends after dialing.
type Handshake struct {
	GameVersion   string `msgpack:"v"`
	AutoSyncScene bool   `msgpack:"s"`
}

type HandshakeAck struct {
	SessionID string `msgpack:"id"`
}

type CreateRoom struct {
	Name       string `msgpack:"n"`
	MaxPlayers int    `msgpack:"m"`
}

type JoinedRoom struct {
	RoomID      string `msgpack:"id"`
	RoomName    string `msgpack:"n"`
	MaxPlayers  int    `msgpack:"m"`
	PlayerCount int    `msgpack:"c"`
	Created     bool   `msgpack:"new"`
}

// OperationFailed answers a join random or create room request that could
// not be served.
type OperationFailed struct {
	Code    int16  `msgpack:"c"`
	Message string `msgpack:"msg"`
}

type JoinRandomFailed = OperationFailed

type CreateRoomFailed = OperationFailed

type Disconnect struct {
	Cause  uint8  `msgpack:"c"`
	Reason string `msgpack:"r,omitempty"`
}

type LoadLevel struct {
	Level string `msgpack:"l"`
}

func Encode(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
