package cache

import (
	"context"
	"time"
)

// Entry 一条缓存记录
type Entry struct {
	GameID      string
	Source      string
	Translation string
	CreatedAt   time.Time
}

// GameStat 单个游戏的缓存统计
type GameStat struct {
	GameID  string
	Entries int64
}

// Store 持久化存储
// Upsert 采用先写者胜语义，已存在的 (game_id, source) 行不会被覆盖。
type Store interface {
	// Load 读取某个游戏的全部译文
	Load(ctx context.Context, gameID string) (map[string]string, error)

	// Entries 按写入时间返回某个游戏的全部记录
	Entries(ctx context.Context, gameID string) ([]Entry, error)

	// Upsert 写入一条译文，已存在时保持原值不变
	Upsert(ctx context.Context, gameID, source, translation string) error

	// DeleteGame 删除某个游戏的全部记录，返回删除行数
	DeleteGame(ctx context.Context, gameID string) (int64, error)

	// PurgeFailures 删除译文以指定前缀开头的记录，返回删除行数
	PurgeFailures(ctx context.Context, prefix string) (int64, error)

	// Stats 返回各游戏的记录数
	Stats(ctx context.Context) ([]GameStat, error)

	Close() error
}
