package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite 的持久化存储
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore 打开（必要时创建）缓存数据库
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS translations (
		game_id TEXT NOT NULL,
		source TEXT NOT NULL,
		translation TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (game_id, source)
	);`); err != nil {
		return fmt.Errorf("create translations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load 读取某个游戏的全部译文
func (s *SQLiteStore) Load(ctx context.Context, gameID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source, translation FROM translations WHERE game_id = ?`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]string)
	for rows.Next() {
		var source, translation string
		if err := rows.Scan(&source, &translation); err != nil {
			return nil, err
		}
		ret[source] = translation
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Entries 按写入时间返回某个游戏的全部记录
func (s *SQLiteStore) Entries(ctx context.Context, gameID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT game_id, source, translation, created_at
		 FROM translations
		 WHERE game_id = ?
		 ORDER BY created_at ASC`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		if err := rows.Scan(&item.GameID, &item.Source, &item.Translation, &item.CreatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Upsert 写入一条译文，已存在的行保持原值
func (s *SQLiteStore) Upsert(ctx context.Context, gameID, source, translation string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translations (game_id, source, translation, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(game_id, source) DO NOTHING`,
		gameID,
		source,
		translation,
		time.Now().UTC(),
	)
	return err
}

// DeleteGame 删除某个游戏的全部记录
func (s *SQLiteStore) DeleteGame(ctx context.Context, gameID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translations WHERE game_id = ?`, gameID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeFailures 删除译文以指定前缀开头的记录
// SQLite 的 LIKE 只把 % 和 _ 当通配符，前缀里的方括号无需转义。
func (s *SQLiteStore) PurgeFailures(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM translations WHERE translation LIKE ?`,
		prefix+"%",
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats 返回各游戏的记录数
func (s *SQLiteStore) Stats(ctx context.Context) ([]GameStat, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT game_id, COUNT(*) FROM translations GROUP BY game_id ORDER BY game_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]GameStat, 0)
	for rows.Next() {
		var item GameStat
		if err := rows.Scan(&item.GameID, &item.Entries); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
