// services/matchmaking_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/launcher/config"
	"github.com/wfunc/launcher/logger"
	"github.com/wfunc/launcher/models"
	"github.com/wfunc/launcher/monitor"
	"github.com/wfunc/launcher/network"
	"github.com/wfunc/launcher/persistence"
	"github.com/wfunc/launcher/room"
	"github.com/wfunc/launcher/session"
)

var (
	ErrNoRandomMatch   = errors.New("no random room available")
	ErrNotInRoom       = errors.New("session is not in a room")
	ErrInvalidCapacity = fmt.Errorf("max players must be between 1 and %d", config.MaxRoomCapacity)
)

// joinAttempts bounds retries when a picked room fills up before the join.
const joinAttempts = 3

// MatchmakingService 负责加入随机房间与创建房间
type MatchmakingService struct {
	rooms       *room.Manager
	broadcaster room.Broadcaster
	store       persistence.Store
	monitor     *monitor.Monitor
}

func NewMatchmakingService(rooms *room.Manager, broadcaster room.Broadcaster, store persistence.Store, mon *monitor.Monitor) *MatchmakingService {
	return &MatchmakingService{
		rooms:       rooms,
		broadcaster: broadcaster,
		store:       store,
		monitor:     mon,
	}
}

// JoinRandom places s in a random open room of its version, taking it out
// of its current room first.
func (m *MatchmakingService) JoinRandom(ctx context.Context, s *session.Session) (*room.Room, error) {
	m.leaveCurrent(ctx, s)

	for i := 0; i < joinAttempts; i++ {
		r := m.rooms.FindAvailableRoom(s.Version())
		if r == nil {
			break
		}
		if err := r.AddPlayer(s); err != nil {
			logger.Log.Debugw("room filled before join", "room_id", r.ID, "error", err)
			continue
		}

		m.monitor.ObserveJoinRandom("joined")
		m.saveRoom(ctx, r)
		return r, nil
	}

	m.monitor.ObserveJoinRandom("no_match")
	return nil, ErrNoRandomMatch
}

// CreateRoom opens a room for s's version and moves s into it. An empty name
// is replaced by a generated one.
func (m *MatchmakingService) CreateRoom(ctx context.Context, s *session.Session, name string, maxPlayers int) (*room.Room, error) {
	if maxPlayers < 1 || maxPlayers > config.MaxRoomCapacity {
		return nil, ErrInvalidCapacity
	}
	m.leaveCurrent(ctx, s)
	if name == "" {
		name = uuid.New().String()
	}

	r, err := m.rooms.CreateRoom(uuid.New().String(), name, s.Version(), maxPlayers, m.broadcaster)
	if err != nil {
		return nil, err
	}
	if err := r.AddPlayer(s); err != nil {
		m.rooms.RemoveRoom(r.ID)
		return nil, err
	}

	m.monitor.IncRoomsCreated()
	m.monitor.SetActiveRooms(m.rooms.Count())
	m.saveRoom(ctx, r)

	logger.Log.Infow("room created", "room_id", r.ID, "name", r.Name, "game_version", r.GameVersion, "max_players", r.MaxPlayers)
	return r, nil
}

// Leave takes s out of its room, closing the room once it is empty.
func (m *MatchmakingService) Leave(ctx context.Context, s *session.Session) error {
	roomID := s.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}

	r, exists := m.rooms.GetRoom(roomID)
	if !exists {
		s.SetRoomID("")
		return nil
	}

	if remaining := r.RemovePlayer(s.ID); remaining > 0 {
		m.saveRoom(ctx, r)
		return nil
	}

	m.rooms.RemoveRoom(r.ID)
	m.monitor.SetActiveRooms(m.rooms.Count())
	if err := m.store.CloseRoom(ctx, r.ID, time.Now()); err != nil {
		logger.Log.Warnw("close room record failed", "room_id", r.ID, "error", err)
	}
	logger.Log.Infow("room closed", "room_id", r.ID)
	return nil
}

// LoadLevel tells every member of s's room that enabled scene sync to load
// level.
func (m *MatchmakingService) LoadLevel(s *session.Session, level string) error {
	r, exists := m.rooms.GetRoom(s.RoomID())
	if !exists {
		return ErrNotInRoom
	}

	data, err := network.Encode(network.LoadLevel{Level: level})
	if err != nil {
		return err
	}
	return r.Broadcast(network.MsgTypeLevelSync, data, room.SyncsScene)
}

func (m *MatchmakingService) leaveCurrent(ctx context.Context, s *session.Session) {
	if s.RoomID() == "" {
		return
	}
	if err := m.Leave(ctx, s); err != nil {
		logger.Log.Warnw("leave before matchmaking failed", "session_id", s.ID, "error", err)
	}
}

func (m *MatchmakingService) OpenRooms(ctx context.Context, gameVersion string) ([]models.RoomInfo, error) {
	return m.store.ListOpenRooms(ctx, gameVersion)
}

func (m *MatchmakingService) saveRoom(ctx context.Context, r *room.Room) {
	info := models.RoomInfo{
		RoomID:      r.ID,
		Name:        r.Name,
		GameVersion: r.GameVersion,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount(),
		CreatedAt:   r.CreatedAt,
	}
	if err := m.store.SaveRoom(ctx, info); err != nil {
		logger.Log.Warnw("save room record failed", "room_id", r.ID, "error", err)
	}
}
