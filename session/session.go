// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/launcher/network"
)

// Session is one connected launcher as the lobby server sees it.
type Session struct {
	ID            string
	Conn          network.Connection
	GameVersion   string
	AutoSyncScene bool
	CreatedAt     time.Time
	roomID        string
	lastActive    time.Time
	handshaked    bool
	mutex         sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Handshake records the client's version and scene sync preference.
func (s *Session) Handshake(gameVersion string, autoSyncScene bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.GameVersion = gameVersion
	s.AutoSyncScene = autoSyncScene
	s.handshaked = true
}

func (s *Session) Handshaked() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.handshaked
}

func (s *Session) Version() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.GameVersion
}

func (s *Session) SyncsScene() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.AutoSyncScene
}

func (s *Session) RoomID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID
}

func (s *Session) SetRoomID(roomID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
}

func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

func (s *Session) SendPayload(msgID uint16, v interface{}) error {
	return s.Conn.SendPayload(msgID, v)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of every session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

// Stale returns sessions idle since before cutoff.
func (m *Manager) Stale(cutoff time.Time) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.LastActive().Before(cutoff) {
			result = append(result, session)
		}
	}
	return result
}
