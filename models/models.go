// models/models.go
package models

import (
	"time"
)

// RoomInfo 房间记录，服务端每次房间变化时保存
type RoomInfo struct {
	RoomID      string     `json:"room_id"`
	Name        string     `json:"name"`
	GameVersion string     `json:"game_version"`
	MaxPlayers  int        `json:"max_players"`
	PlayerCount int        `json:"player_count"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func (r RoomInfo) Open() bool {
	return r.ClosedAt == nil
}
