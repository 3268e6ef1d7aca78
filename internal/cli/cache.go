package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/internal/cache"
	"github.com/nerdneilsfield/go-vntrans/internal/config"
	"github.com/nerdneilsfield/go-vntrans/internal/logger"
	"github.com/nerdneilsfield/go-vntrans/internal/pipeline"
)

var (
	// cache 命令的标志
	searchQuery   string
	searchGame    string
	clearGame     string
	purgeFailures bool
	skipConfirm   bool
)

// NewCacheCommand 创建 cache 命令
func NewCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "View and manage the translation cache",
		Long: `View per-game cache statistics, search cached translations,
clear one game's cache, or purge failure placeholders left behind
by interrupted sessions.

Examples:
  # Show per-game statistics
  vntrans cache

  # Fuzzy-search cached translations of the configured game
  vntrans cache --search 魔法

  # Search inside another game's cache
  vntrans cache --search 魔法 --game-id othergame

  # Delete all cached translations of one game
  vntrans cache --clear mygame

  # Purge failure placeholders
  vntrans cache --purge-failures`,
		RunE: runCacheCommand,
	}

	cacheCmd.Flags().StringVar(&searchQuery, "search", "", "模糊搜索缓存译文")
	cacheCmd.Flags().StringVar(&searchGame, "game-id", "", "搜索的游戏标识（默认取配置中的 game_id）")
	cacheCmd.Flags().StringVar(&clearGame, "clear", "", "清空指定游戏的全部缓存")
	cacheCmd.Flags().BoolVar(&purgeFailures, "purge-failures", false, "清理失败占位符")
	cacheCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "跳过删除确认")

	return cacheCmd
}

// runCacheCommand 执行 cache 命令
func runCacheCommand(cmd *cobra.Command, args []string) error {
	log := logger.NewLogger(debugMode)
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Warn("加载配置失败，使用默认配置", zap.Error(err))
		cfg = config.NewDefaultConfig()
	}

	store, err := cache.NewSQLiteStore(filepath.Join(cfg.CacheDir, cacheDBName))
	if err != nil {
		return fmt.Errorf("打开缓存数据库失败: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := cmd.Context()

	if searchQuery != "" {
		game := searchGame
		if game == "" {
			game = cfg.GameID
		}
		return searchCache(ctx, store, game, searchQuery)
	}

	if clearGame != "" {
		return clearCache(ctx, store, clearGame)
	}

	if purgeFailures {
		purged, err := store.PurgeFailures(ctx, pipeline.FailurePrefix)
		if err != nil {
			return fmt.Errorf("清理失败占位符失败: %w", err)
		}
		fmt.Printf("✅ 已清理 %d 条失败占位符\n", purged)
		return nil
	}

	return showCacheStats(ctx, store)
}

// showCacheStats 按游戏显示缓存统计
func showCacheStats(ctx context.Context, store cache.Store) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("读取缓存统计失败: %w", err)
	}

	title := color.New(color.FgCyan, color.Bold)
	title.Println("💾 翻译缓存统计")

	if len(stats) == 0 {
		fmt.Println("缓存为空。")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"游戏", "条目数"})
	tw.AppendSeparator()

	var total int64
	for _, s := range stats {
		tw.AppendRow(table.Row{s.GameID, s.Entries})
		total += s.Entries
	}
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"合计", total})

	tw.SetStyle(table.StyleLight)
	tw.Render()

	return nil
}

// searchCache 在指定游戏的缓存里模糊搜索原文与译文
func searchCache(ctx context.Context, store cache.Store, gameID, query string) error {
	entries, err := store.Entries(ctx, gameID)
	if err != nil {
		return fmt.Errorf("读取缓存条目失败: %w", err)
	}

	var matched []cache.Entry
	for _, e := range entries {
		if fuzzy.MatchNormalizedFold(query, e.Source) || fuzzy.MatchNormalizedFold(query, e.Translation) {
			matched = append(matched, e)
		}
	}

	if len(matched) == 0 {
		fmt.Printf("游戏 %s 的缓存中没有匹配 %q 的条目。\n", gameID, query)
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"原文", "译文", "时间"})
	tw.AppendSeparator()
	for _, e := range matched {
		tw.AppendRow(table.Row{
			truncate(e.Source, 36),
			truncate(e.Translation, 36),
			e.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()

	fmt.Printf("共 %d 条匹配（游戏: %s）\n", len(matched), gameID)
	return nil
}

// clearCache 清空指定游戏的缓存，默认需要确认
func clearCache(ctx context.Context, store cache.Store, gameID string) error {
	if !skipConfirm {
		fmt.Printf("确定要删除游戏 %s 的全部缓存吗？此操作不可撤销。(y/N): ", gameID)

		var confirmation string
		fmt.Scanln(&confirmation)

		if confirmation != "y" && confirmation != "Y" && confirmation != "yes" {
			fmt.Println("已取消。")
			return nil
		}
	}

	deleted, err := store.DeleteGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("删除缓存失败: %w", err)
	}

	fmt.Printf("✅ 已删除游戏 %s 的 %d 条缓存\n", gameID, deleted)
	return nil
}

// truncate 按字符数截断，超出部分以省略号结尾
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
