// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormRoom 房间模型
type GormRoom struct {
	gorm.Model
	RoomID      string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	GameVersion string `gorm:"index;not null"`
	MaxPlayers  int    `gorm:"not null"`
	PlayerCount int    `gorm:"default:0"`
	OpenedAt    time.Time
	ClosedAt    *time.Time `gorm:"index"`
}

// TableName keeps gorm's schema apart from the raw SQL store's lobby_rooms.
func (GormRoom) TableName() string {
	return "lobby_room_records"
}

func (r GormRoom) Info() RoomInfo {
	return RoomInfo{
		RoomID:      r.RoomID,
		Name:        r.Name,
		GameVersion: r.GameVersion,
		MaxPlayers:  r.MaxPlayers,
		PlayerCount: r.PlayerCount,
		CreatedAt:   r.OpenedAt,
		ClosedAt:    r.ClosedAt,
	}
}
