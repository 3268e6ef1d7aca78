// Package cache 管理按游戏划分的译文缓存。
// 内存中只保留活动作用域的条目，持久化经由 Store 异步完成。
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// persistTimeout 单条异步持久化的时间上限
const persistTimeout = 5 * time.Second

// ScopeStats 活动作用域的命中统计，随作用域切换清零
type ScopeStats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// Cache 当前游戏作用域的译文缓存
type Cache struct {
	logger *zap.Logger
	store  Store

	mu      sync.RWMutex
	gameID  string
	entries map[string]string
	stats   ScopeStats

	persist sync.WaitGroup
}

// New 创建缓存
func New(store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger:  logger,
		store:   store,
		entries: make(map[string]string),
	}
}

// SelectScope 切换活动游戏并载入其全部译文
// 旧作用域的内存条目和命中统计随切换释放。
func (c *Cache) SelectScope(ctx context.Context, gameID string) error {
	entries, err := c.store.Load(ctx, gameID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	prevGame := c.gameID
	prevStats := c.stats
	c.gameID = gameID
	c.entries = entries
	c.stats = ScopeStats{}
	c.mu.Unlock()

	if prevStats.Hits+prevStats.Misses > 0 {
		c.logger.Info("上一作用域命中统计",
			zap.String("game", prevGame),
			zap.Int64("hits", prevStats.Hits),
			zap.Int64("misses", prevStats.Misses))
	}
	c.logger.Info("缓存作用域已切换",
		zap.String("game", gameID),
		zap.Int("entries", len(entries)))
	return nil
}

// ActiveScope 返回当前活动的游戏标识
func (c *Cache) ActiveScope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gameID
}

// Lookup 查询当前作用域内的译文
func (c *Cache) Lookup(source string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	translation, ok := c.entries[source]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return translation, ok
}

// Stats 返回活动作用域的命中统计快照
func (c *Cache) Stats() ScopeStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Size = int64(len(c.entries))
	return s
}

// Store 写入译文，同一原文只有首次写入生效
// gameID 是调用方构造任务时的作用域，与活动作用域不一致时写入被丢弃，
// 防止迟到的旧游戏结果渗入新作用域。返回本次写入是否生效。
// 持久化异步进行，失败只记日志，不影响展示。
func (c *Cache) Store(gameID, source, translation string) bool {
	if strings.TrimSpace(source) == "" {
		return false
	}

	c.mu.Lock()
	if c.gameID != gameID {
		c.mu.Unlock()
		return false
	}
	if _, exists := c.entries[source]; exists {
		c.mu.Unlock()
		return false
	}
	c.entries[source] = translation
	c.mu.Unlock()

	c.persist.Add(1)
	go func() {
		defer c.persist.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := c.store.Upsert(ctx, gameID, source, translation); err != nil {
			c.logger.Warn("缓存持久化失败",
				zap.String("game", gameID),
				zap.Error(err))
		}
	}()
	return true
}

// ClearScope 删除某个游戏的全部缓存，返回删除行数
// 清除的是活动作用域时，内存条目一并清空。
func (c *Cache) ClearScope(ctx context.Context, gameID string) (int64, error) {
	n, err := c.store.DeleteGame(ctx, gameID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.gameID == gameID {
		c.entries = make(map[string]string)
	}
	c.mu.Unlock()

	return n, nil
}

// Len 返回当前作用域的条目数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IsEmpty 判断当前作用域是否没有任何条目
func (c *Cache) IsEmpty() bool {
	return c.Len() == 0
}

// Close 等待进行中的持久化完成后关闭存储
func (c *Cache) Close() error {
	c.persist.Wait()
	return c.store.Close()
}
