package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nerdneilsfield/go-vntrans/internal/cache"
	"github.com/nerdneilsfield/go-vntrans/internal/config"
	"github.com/nerdneilsfield/go-vntrans/internal/glossary"
	"github.com/nerdneilsfield/go-vntrans/internal/hookserv"
	"github.com/nerdneilsfield/go-vntrans/internal/logger"
	"github.com/nerdneilsfield/go-vntrans/internal/pipeline"
	"github.com/nerdneilsfield/go-vntrans/internal/render"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/factory"
)

// warmupTimeout 预热不应拖住启动太久，本地模型加载慢时放弃等待
const warmupTimeout = 30 * time.Second

// cacheDBName 缓存数据库文件名
const cacheDBName = "translations.db"

// runServe 组装并运行桥接服务，直到收到退出信号
func runServe(cmd *cobra.Command) error {
	log := logger.NewLogger(debugMode)
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	if cfg.Debug && !debugMode {
		log = logger.NewLogger(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.NewSQLiteStore(filepath.Join(cfg.CacheDir, cacheDBName))
	if err != nil {
		return fmt.Errorf("打开缓存数据库失败: %w", err)
	}

	// 旧版本可能把失败占位符写进了缓存，启动时清掉
	if purged, err := store.PurgeFailures(ctx, pipeline.FailurePrefix); err != nil {
		log.Warn("清理失败占位符出错", zap.Error(err))
	} else if purged > 0 {
		log.Info("已清理缓存中的失败占位符", zap.Int64("rows", purged))
	}

	memCache := cache.New(store, log)
	if err := memCache.SelectScope(ctx, cfg.GameID); err != nil {
		_ = memCache.Close()
		return fmt.Errorf("加载游戏缓存失败: %w", err)
	}

	gloss, err := glossary.Load(cfg.GlossaryPath)
	if err != nil {
		log.Warn("加载词汇表失败，本次运行不应用术语替换", zap.Error(err))
		gloss = glossary.Empty()
	} else if gloss.Len() > 0 {
		log.Info("词汇表已加载", zap.Int("terms", gloss.Len()))
	}

	backend, err := buildBackend(cfg, log)
	if err != nil {
		_ = memCache.Close()
		return err
	}

	pipe := pipeline.New(pipeline.Config{
		SourceLang:      cfg.SourceLang,
		TargetLang:      cfg.TargetLang,
		PrefetchCount:   cfg.PrefetchCount,
		Debounce:        time.Duration(cfg.DebounceMs) * time.Millisecond,
		EnableTimingLog: cfg.EnableTimingLog,
	}, backend, memCache, pipeline.NewFormatter(gloss), render.NewConsole(os.Stdout), log)

	srv, err := hookserv.NewServer(cfg.ListenPort, cfg.Encoding, pipe, log)
	if err != nil {
		_ = pipe.Close()
		_ = memCache.Close()
		return fmt.Errorf("创建钩子监听失败: %w", err)
	}

	watchConfig(cfg, pipe, log)

	log.Info("vntrans 已启动",
		zap.String("game", cfg.GameID),
		zap.String("engine", cfg.Engine),
		zap.Int("port", cfg.ListenPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		// 预热与收包并行，Ollama 加载模型的半分钟里服务已经可用
		warmup(gctx, backend, log)
		return nil
	})

	err = g.Wait()

	if cerr := pipe.Close(); cerr != nil {
		log.Warn("关闭管线失败", zap.Error(cerr))
	}

	stats := memCache.Stats()
	if cerr := memCache.Close(); cerr != nil {
		log.Warn("关闭缓存失败", zap.Error(cerr))
	}

	log.Info("vntrans 已退出",
		zap.Int64("cache_hits", stats.Hits),
		zap.Int64("cache_misses", stats.Misses))
	return err
}

// applyFlagOverrides 命令行标志覆盖配置文件
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("game") {
		cfg.GameID = gameID
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine = engineName
	}
	if cmd.Flags().Changed("port") {
		cfg.ListenPort = listenPort
	}
	if cmd.Flags().Changed("glossary") {
		cfg.GlossaryPath = glossaryArg
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debugMode
	}
}

// buildBackend 按配置构造翻译引擎
func buildBackend(cfg *config.Config, log *zap.Logger) (backends.Backend, error) {
	base := backends.DefaultBaseConfig()
	base.KeepNames = cfg.KeepOriginalNames

	if ec, ok := cfg.Engines[cfg.Engine]; ok {
		if ec.Key != "" {
			base.APIKey = ec.Key
		}
		if ec.BaseURL != "" {
			base.APIEndpoint = ec.BaseURL
		}
		if ec.Model != "" {
			base.Model = ec.Model
		}
		if ec.Temperature > 0 {
			base.Temperature = float32(ec.Temperature)
		}
		if ec.MaxTokens > 0 {
			base.MaxTokens = ec.MaxTokens
		}
		if ec.TimeoutSeconds > 0 {
			base.Timeout = time.Duration(ec.TimeoutSeconds) * time.Second
		}
		if len(ec.Headers) > 0 {
			base.Headers = ec.Headers
		}
	}

	backend, err := factory.Create(cfg.Engine, base, log)
	if err != nil {
		return nil, fmt.Errorf("创建翻译引擎失败: %w", err)
	}
	return backend, nil
}

// warmup 对支持预热的引擎做一次预热，失败只记日志不影响服务
func warmup(ctx context.Context, backend backends.Backend, log *zap.Logger) {
	w, ok := backend.(backends.Warmer)
	if !ok {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	start := time.Now()
	if err := w.Warmup(wctx); err != nil {
		log.Warn("引擎预热失败",
			zap.String("engine", backend.Name()),
			zap.Error(err))
		return
	}
	log.Info("引擎预热完成",
		zap.String("engine", backend.Name()),
		zap.Duration("elapsed", time.Since(start)))
}

// watchConfig 监听配置文件变更，热切换游戏作用域与翻译引擎
// 改动无法应用时沿用旧配置继续运行。
func watchConfig(current *config.Config, pipe *pipeline.Pipeline, log *zap.Logger) {
	err := config.Watch(cfgFile, log, func(next *config.Config) {
		if next.GameID != current.GameID {
			if err := pipe.SelectGame(context.Background(), next.GameID); err != nil {
				log.Warn("切换游戏失败", zap.Error(err))
			} else {
				current.GameID = next.GameID
			}
		}

		if engineChanged(current, next) {
			backend, err := buildBackend(next, log)
			if err != nil {
				log.Warn("按新配置创建引擎失败，沿用旧引擎", zap.Error(err))
				return
			}
			pipe.SwapBackend(backend)
			current.Engine = next.Engine
			current.Engines = next.Engines
			current.KeepOriginalNames = next.KeepOriginalNames
		}
	})
	if err != nil {
		log.Warn("配置热加载不可用", zap.Error(err))
	}
}

// engineChanged 判断引擎本身或其参数是否发生变化
func engineChanged(old, next *config.Config) bool {
	if old.Engine != next.Engine || old.KeepOriginalNames != next.KeepOriginalNames {
		return true
	}
	return !reflect.DeepEqual(old.Engines[old.Engine], next.Engines[next.Engine])
}
