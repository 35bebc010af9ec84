package room

import "github.com/wfunc/launcher/session"

// Filter selects the sessions a broadcast reaches. A nil Filter selects all.
type Filter func(s *session.Session) bool

// Broadcaster defines the interface for broadcasting messages to a room.
// This is defined here to break the import cycle between room and broadcast.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte, filter Filter) error
}

// SyncsScene selects sessions that opted into scene sync.
func SyncsScene(s *session.Session) bool {
	return s.SyncsScene()
}
