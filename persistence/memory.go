package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/launcher/models"
)

type MemoryStore struct {
	rooms map[string]models.RoomInfo
	mutex sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]models.RoomInfo)}
}

func (s *MemoryStore) SaveRoom(ctx context.Context, info models.RoomInfo) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rooms[info.RoomID] = info
	return nil
}

func (s *MemoryStore) CloseRoom(ctx context.Context, roomID string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	info, exists := s.rooms[roomID]
	if !exists {
		return ErrRecordNotFound
	}
	info.ClosedAt = &at
	info.PlayerCount = 0
	s.rooms[roomID] = info
	return nil
}

func (s *MemoryStore) ListOpenRooms(ctx context.Context, gameVersion string) ([]models.RoomInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []models.RoomInfo
	for _, info := range s.rooms {
		if info.Open() && (gameVersion == "" || info.GameVersion == gameVersion) {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
