// persistence/interface.go
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/launcher/config"
	"github.com/wfunc/launcher/models"
)

// Store keeps a record of lobby rooms.
type Store interface {
	// SaveRoom inserts or updates the record for info.RoomID.
	SaveRoom(ctx context.Context, info models.RoomInfo) error
	CloseRoom(ctx context.Context, roomID string, at time.Time) error
	// ListOpenRooms lists rooms not yet closed; an empty gameVersion lists all.
	ListOpenRooms(ctx context.Context, gameVersion string) ([]models.RoomInfo, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

// Open returns the store selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (Store, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "gorm":
		return NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
