// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"fmt"

	"github.com/wfunc/launcher/room"
	"github.com/wfunc/launcher/session"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte, filter room.Filter) error
	BroadcastToAll(msgID uint16, data []byte) error
}

// 基于房间的广播器
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

// BroadcastToRoom sends to every member of roomID accepted by filter. Send
// failures do not stop the broadcast; they are returned joined.
func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte, filter room.Filter) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}
	return sendAll(r.GetSessions(), msgID, data, filter)
}

func (b *RoomBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	return sendAll(b.sessionManager.All(), msgID, data, nil)
}

func sendAll(sessions []*session.Session, msgID uint16, data []byte, filter room.Filter) error {
	var errs []error
	for _, s := range sessions {
		if filter != nil && !filter(s) {
			continue
		}
		if err := s.Send(msgID, data); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.GetID(), err))
		}
	}
	return errors.Join(errs...)
}
