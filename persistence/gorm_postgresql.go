// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/launcher/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.GormRoom{}); err != nil {
		return nil, fmt.Errorf("migrate room records: %w", err)
	}

	return &GormPostgreSQL{db: db}, nil
}

func (p *GormPostgreSQL) SaveRoom(ctx context.Context, info models.RoomInfo) error {
	record := models.GormRoom{
		RoomID:      info.RoomID,
		Name:        info.Name,
		GameVersion: info.GameVersion,
		MaxPlayers:  info.MaxPlayers,
		PlayerCount: info.PlayerCount,
		OpenedAt:    info.CreatedAt,
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"player_count", "updated_at"}),
	}).Create(&record).Error
}

func (p *GormPostgreSQL) CloseRoom(ctx context.Context, roomID string, at time.Time) error {
	result := p.db.WithContext(ctx).Model(&models.GormRoom{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{"closed_at": at, "player_count": 0})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) ListOpenRooms(ctx context.Context, gameVersion string) ([]models.RoomInfo, error) {
	query := p.db.WithContext(ctx).Where("closed_at IS NULL")
	if gameVersion != "" {
		query = query.Where("game_version = ?", gameVersion)
	}

	var records []models.GormRoom
	if err := query.Order("opened_at").Find(&records).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]models.RoomInfo, 0, len(records))
	for _, r := range records {
		result = append(result, r.Info())
	}
	return result, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
