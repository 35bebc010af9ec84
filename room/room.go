// room/room.go
package room

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/wfunc/launcher/session"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrRoomFull   = errors.New("room is full")
	ErrRoomClosed = errors.New("room is closed")
)

// RoomStatus 表示房间是否还接受新玩家
type RoomStatus int

const (
	StatusOpen RoomStatus = iota
	StatusClosed
)

func (s RoomStatus) String() string {
	if s == StatusOpen {
		return "open"
	}
	return "closed"
}

// Room is a matchmaking session. Only clients of GameVersion may join.
type Room struct {
	ID          string
	Name        string
	GameVersion string
	MaxPlayers  int
	CreatedAt   time.Time
	status      RoomStatus
	players     map[string]*session.Session // sessionID -> session
	broadcaster Broadcaster
	mutex       sync.RWMutex
}

func NewRoom(id, name, gameVersion string, maxPlayers int, broadcaster Broadcaster) *Room {
	return &Room{
		ID:          id,
		Name:        name,
		GameVersion: gameVersion,
		MaxPlayers:  maxPlayers,
		CreatedAt:   time.Now(),
		status:      StatusOpen,
		players:     make(map[string]*session.Session),
		broadcaster: broadcaster,
	}
}

func (r *Room) GetID() string {
	return r.ID
}

// AddPlayer 添加一个玩家到房间
func (r *Room) AddPlayer(s *session.Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status == StatusClosed {
		return ErrRoomClosed
	}
	if len(r.players) >= r.MaxPlayers {
		return ErrRoomFull
	}

	r.players[s.ID] = s
	s.SetRoomID(r.ID)
	return nil
}

// RemovePlayer removes a player and reports how many remain. Removing the
// last player closes the room, so no join can land in it afterwards.
func (r *Room) RemovePlayer(sessionID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	player, exists := r.players[sessionID]
	if !exists {
		return len(r.players)
	}
	player.SetRoomID("")
	delete(r.players, sessionID)
	if len(r.players) == 0 {
		r.status = StatusClosed
	}
	return len(r.players)
}

func (r *Room) GetPlayer(sessionID string) (*session.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	player, exists := r.players[sessionID]
	return player, exists
}

func (r *Room) PlayerCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.players)
}

// GetSessions returns a slice of all sessions in the room (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.players))
	for _, s := range r.players {
		sessions = append(sessions, s)
	}
	return sessions
}

// Joinable reports whether a client of gameVersion could join now.
func (r *Room) Joinable(gameVersion string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.status == StatusOpen && r.GameVersion == gameVersion && len(r.players) < r.MaxPlayers
}

func (r *Room) SetStatus(status RoomStatus) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.status = status
}

func (r *Room) GetStatus() RoomStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.status
}

// Broadcast sends a message to the players in the room selected by filter.
func (r *Room) Broadcast(msgID uint16, data []byte, filter Filter) error {
	return r.broadcaster.BroadcastToRoom(r.ID, msgID, data, filter)
}

// Close 关闭房间，之后不再接受新玩家
func (r *Room) Close() {
	r.SetStatus(StatusClosed)
}

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom 创建一个新房间并添加到管理器
func (m *Manager) CreateRoom(id, name, gameVersion string, maxPlayers int, broadcaster Broadcaster) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.rooms[id]; exists {
		return nil, ErrRoomExists
	}
	for _, r := range m.rooms {
		if r.Name == name {
			return nil, ErrRoomExists
		}
	}

	room := NewRoom(id, name, gameVersion, maxPlayers, broadcaster)
	m.rooms[id] = room
	return room, nil
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		room.Close()
		delete(m.rooms, id)
	}
}

func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// FindAvailableRoom picks a random joinable room for gameVersion, or nil.
func (m *Manager) FindAvailableRoom(gameVersion string) *Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var candidates []*Room
	for _, room := range m.rooms {
		if room.Joinable(gameVersion) {
			candidates = append(candidates, room)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}
