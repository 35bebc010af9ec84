// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/wfunc/launcher/models"
)

// roomsTable is owned by the raw SQL store; the gorm store uses its own table.
const roomsTable = "lobby_rooms"

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id SERIAL PRIMARY KEY,
            room_id VARCHAR(64) UNIQUE NOT NULL,
            name VARCHAR(255) NOT NULL,
            game_version VARCHAR(64) NOT NULL,
            max_players INT NOT NULL,
            player_count INT NOT NULL DEFAULT 0,
            opened_at TIMESTAMP NOT NULL,
            closed_at TIMESTAMP NULL,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `, roomsTable))
	if err != nil {
		return fmt.Errorf("create %s: %w", roomsTable, err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_lobby_rooms_version ON lobby_rooms (game_version) WHERE closed_at IS NULL`)
	if err != nil {
		return fmt.Errorf("create %s index: %w", roomsTable, err)
	}
	return nil
}

func (p *PostgreSQL) SaveRoom(ctx context.Context, info models.RoomInfo) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO lobby_rooms (room_id, name, game_version, max_players, player_count, opened_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (room_id) DO UPDATE
        SET player_count = EXCLUDED.player_count, updated_at = CURRENT_TIMESTAMP`,
		info.RoomID, info.Name, info.GameVersion, info.MaxPlayers, info.PlayerCount, info.CreatedAt,
	)
	return err
}

func (p *PostgreSQL) CloseRoom(ctx context.Context, roomID string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
        UPDATE lobby_rooms SET closed_at = $2, player_count = 0, updated_at = CURRENT_TIMESTAMP
        WHERE room_id = $1`, roomID, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) ListOpenRooms(ctx context.Context, gameVersion string) ([]models.RoomInfo, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT room_id, name, game_version, max_players, player_count, opened_at
        FROM lobby_rooms
        WHERE closed_at IS NULL AND ($1 = '' OR game_version = $1)
        ORDER BY opened_at`, gameVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RoomInfo
	for rows.Next() {
		var info models.RoomInfo
		if err := rows.Scan(&info.RoomID, &info.Name, &info.GameVersion, &info.MaxPlayers, &info.PlayerCount, &info.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
