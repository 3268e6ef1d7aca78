// Package pipeline 实现翻译管线控制器。
//
// 控制器消费来自游戏的"当前句"与"预取列表"事件，在缓存、批量翻译后端
// 和展示面之间做调度：缓存命中立即上屏；未命中先挂占位符，再由短生命
// 周期的后台任务去抖、组批、调用后端。代际计数器是唯一的上屏排序依据，
// 在途集合是唯一的去重依据，两者合起来保证快进的用户永远只看到停留句
// 的译文，且同一句话绝不会被并发请求两次。
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/internal/cache"
	"github.com/nerdneilsfield/go-vntrans/internal/logger"
	"github.com/nerdneilsfield/go-vntrans/internal/render"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
)

// Line 一条对白
type Line struct {
	Speaker string
	Text    string
}

// Config 管线参数
type Config struct {
	SourceLang      string
	TargetLang      string
	PrefetchCount   int           // 单批句子数上限（含当前句）
	Debounce        time.Duration // 快进合并窗口
	PollInterval    time.Duration // 等待他人批次回填时的轮询间隔
	PollTimeout     time.Duration // 轮询总时长上限，超时后自行发起请求
	EnableTimingLog bool
}

func (c *Config) withDefaults() {
	if c.PrefetchCount < 1 {
		c.PrefetchCount = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
}

// Pipeline 翻译管线控制器
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
	cache  *cache.Cache
	format *Formatter
	rend   render.Renderer

	mu           sync.Mutex
	backend      backends.Backend
	generation   uint64
	buffer       []Line
	inFlight     map[string]struct{}
	authNotified bool

	tasks sync.WaitGroup
}

// New 创建管线控制器
func New(cfg Config, backend backends.Backend, store *cache.Cache, format *Formatter, rend render.Renderer, log *zap.Logger) *Pipeline {
	cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger.NewSessionLogger(log, uuid.NewString()),
		cache:    store,
		format:   format,
		rend:     rend,
		backend:  backend,
		inFlight: make(map[string]struct{}),
	}
}

// OnCurrentText 处理一条新的当前句
// 事件路径本身从不碰网络：命中直接上屏，未命中挂占位符后交给后台任务。
func (p *Pipeline) OnCurrentText(speaker, text string, italic bool) {
	start := time.Now()

	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	// 空白行原样上屏
	if strings.TrimSpace(text) == "" {
		p.rend.Display(p.format.FormatPlaceholder(speaker, text))
		return
	}

	if translation, ok := p.cache.Lookup(text); ok {
		p.rend.Display(p.format.FormatDisplay(speaker, translation, italic))
		if p.cfg.EnableTimingLog {
			p.logger.Info("缓存命中",
				zap.Uint64("gen", gen),
				zap.Duration("elapsed", time.Since(start)))
		}
	} else {
		p.rend.Display(p.format.FormatPlaceholder(speaker, TranslatingPlaceholder))

		p.tasks.Add(1)
		go func() {
			defer p.tasks.Done()
			p.runBatch(gen, Line{Speaker: speaker, Text: text}, italic, start, false)
		}()
	}

	// 命中与否都检查前瞻窗口，保持后续句持续在译
	p.spawnPrefetch(gen)
}

// OnPrefetchList 整体替换预取缓冲
// 不做合并，旧列表里消失的句子直接被遗忘。
func (p *Pipeline) OnPrefetchList(items []Line) {
	p.mu.Lock()
	p.buffer = append([]Line(nil), items...)
	p.mu.Unlock()
}

// SelectGame 切换缓存作用域到指定游戏
// 代际随之前进，旧游戏的在途结果既不会上屏也不会写进新作用域。
func (p *Pipeline) SelectGame(ctx context.Context, gameID string) error {
	if err := p.cache.SelectScope(ctx, gameID); err != nil {
		return err
	}

	p.mu.Lock()
	p.generation++
	p.buffer = nil
	p.authNotified = false
	p.mu.Unlock()

	p.logger.Info("已切换游戏", zap.String("game", gameID))
	return nil
}

// SwapBackend 热切换翻译引擎，旧引擎的连接池被关闭
func (p *Pipeline) SwapBackend(backend backends.Backend) {
	p.mu.Lock()
	old := p.backend
	p.backend = backend
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("关闭旧引擎失败", zap.Error(err))
		}
	}
	p.logger.Info("翻译引擎已切换", zap.String("engine", backend.Name()))
}

// Close 等待后台任务收尾并关闭后端
func (p *Pipeline) Close() error {
	p.tasks.Wait()

	p.mu.Lock()
	backend := p.backend
	p.backend = nil
	p.mu.Unlock()

	if backend != nil {
		return backend.Close()
	}
	return nil
}

// Generation 返回当前代际，供观测与测试使用
func (p *Pipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// InFlightCount 返回在途句子数，供观测与测试使用
func (p *Pipeline) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

func (p *Pipeline) spawnPrefetch(gen uint64) {
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		p.runPrefetch(gen)
	}()
}

func (p *Pipeline) currentGen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// runBatch 当前句驱动的批量翻译任务
// skipWait 为真时跳过在途等待，只有轮询超时后的重入会用到。
func (p *Pipeline) runBatch(gen uint64, current Line, italic bool, start time.Time, skipWait bool) {
	scope := p.cache.ActiveScope()

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return // 用户已翻页，静默放弃
	}
	if _, busy := p.inFlight[current.Text]; busy && !skipWait {
		p.mu.Unlock()
		p.waitForFill(gen, current, italic, start)
		return
	}
	batch := p.selectBatchLocked(current.Text)
	backend := p.backend
	p.mu.Unlock()

	// 所有出口都释放在途标记
	defer p.releaseInFlight(batch)

	if !p.sleepDebounce(gen) {
		return
	}

	translations, err := backend.TranslateBatch(context.Background(), batch, p.cfg.SourceLang, p.cfg.TargetLang)
	if err != nil {
		p.handleBatchError(gen, current, err)
		return
	}

	p.fillCache(scope, batch, translations)

	if p.currentGen() != gen {
		return // 结果已入缓存，仅不上屏
	}

	display := translations[0]
	if cached, ok := p.cache.Lookup(current.Text); ok {
		display = cached
	}
	if strings.TrimSpace(display) == "" {
		p.rend.Display(p.format.FormatPlaceholder(current.Speaker, FailurePlaceholder(backends.ErrEmptyResponse)))
		return
	}
	p.rend.Display(p.format.FormatDisplay(current.Speaker, display, italic))

	if p.cfg.EnableTimingLog {
		p.logger.Info("批量翻译完成",
			zap.Uint64("gen", gen),
			zap.Int("batch", len(batch)),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// runPrefetch 纯预取任务，结果只进缓存，从不上屏
func (p *Pipeline) runPrefetch(gen uint64) {
	scope := p.cache.ActiveScope()

	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return
	}
	batch := p.selectPrefetchLocked()
	backend := p.backend
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	defer p.releaseInFlight(batch)

	if !p.sleepDebounce(gen) {
		return
	}

	start := time.Now()
	translations, err := backend.TranslateBatch(context.Background(), batch, p.cfg.SourceLang, p.cfg.TargetLang)
	if err != nil {
		if backends.IsAuthExpired(err) {
			p.notifyAuthExpired()
		}
		p.logger.Warn("预取翻译失败", zap.Error(err))
		return
	}

	p.fillCache(scope, batch, translations)

	if p.cfg.EnableTimingLog {
		p.logger.Info("预取完成",
			zap.Int("batch", len(batch)),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// selectBatchLocked 组装以当前句开头的批次并原子地标记在途
// 调用方必须持有 p.mu。
func (p *Pipeline) selectBatchLocked(currentText string) []string {
	batch := []string{currentText}
	p.inFlight[currentText] = struct{}{}

	for _, item := range p.buffer {
		if len(batch) >= p.cfg.PrefetchCount {
			break
		}
		if !p.wantLocked(item.Text, batch) {
			continue
		}
		p.inFlight[item.Text] = struct{}{}
		batch = append(batch, item.Text)
	}
	return batch
}

// selectPrefetchLocked 在前瞻窗口内找到第一个待译句并从它开始组批
// 调用方必须持有 p.mu。
func (p *Pipeline) selectPrefetchLocked() []string {
	window := p.buffer
	if len(window) > p.cfg.PrefetchCount {
		window = window[:p.cfg.PrefetchCount]
	}

	startIdx := -1
	for i, item := range window {
		if p.wantLocked(item.Text, nil) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil
	}

	var batch []string
	for _, item := range p.buffer[startIdx:] {
		if len(batch) >= p.cfg.PrefetchCount {
			break
		}
		if !p.wantLocked(item.Text, batch) {
			continue
		}
		p.inFlight[item.Text] = struct{}{}
		batch = append(batch, item.Text)
	}
	return batch
}

// wantLocked 判断句子是否还需要翻译：非空、未缓存、不在途、批内不重复
func (p *Pipeline) wantLocked(text string, batch []string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if _, ok := p.cache.Lookup(text); ok {
		return false
	}
	if _, busy := p.inFlight[text]; busy {
		return false
	}
	for _, b := range batch {
		if b == text {
			return false
		}
	}
	return true
}

// sleepDebounce 去抖等待，醒来后代际已前进则返回 false
func (p *Pipeline) sleepDebounce(gen uint64) bool {
	if p.cfg.Debounce > 0 {
		time.Sleep(p.cfg.Debounce)
	}
	return p.currentGen() == gen
}

// waitForFill 当前句已由别的批次在译，轮询等待其回填缓存
func (p *Pipeline) waitForFill(gen uint64, current Line, italic bool, start time.Time) {
	deadline := time.Now().Add(p.cfg.PollTimeout)

	for {
		time.Sleep(p.cfg.PollInterval)

		if p.currentGen() != gen {
			return // 用户已翻页
		}
		if translation, ok := p.cache.Lookup(current.Text); ok {
			p.rend.Display(p.format.FormatDisplay(current.Speaker, translation, italic))
			if p.cfg.EnableTimingLog {
				p.logger.Info("等待回填命中",
					zap.Uint64("gen", gen),
					zap.Duration("elapsed", time.Since(start)))
			}
			return
		}
		if time.Now().After(deadline) {
			break
		}
	}

	// 等待超时，不再无限等下去，自行发起请求
	p.logger.Warn("等待在途批次超时", zap.String("text", current.Text))
	p.runBatch(gen, current, italic, start, true)
}

// fillCache 把成功结果写入缓存，失败占位与空串除外
func (p *Pipeline) fillCache(scope string, batch, translations []string) {
	n := len(batch)
	if len(translations) < n {
		n = len(translations)
	}
	for i := 0; i < n; i++ {
		if strings.TrimSpace(translations[i]) == "" || IsFailure(translations[i]) {
			continue
		}
		p.cache.Store(scope, batch[i], translations[i])
	}
}

func (p *Pipeline) releaseInFlight(batch []string) {
	p.mu.Lock()
	for _, text := range batch {
		delete(p.inFlight, text)
	}
	p.mu.Unlock()
}

func (p *Pipeline) handleBatchError(gen uint64, current Line, err error) {
	if backends.IsAuthExpired(err) {
		p.notifyAuthExpired()
	} else {
		p.logger.Warn("批量翻译失败", zap.Uint64("gen", gen), zap.Error(err))
	}

	if p.currentGen() != gen {
		return
	}
	p.rend.Display(p.format.FormatPlaceholder(current.Speaker, FailurePlaceholder(err)))
}

// notifyAuthExpired 凭证过期的一次性提醒，游戏会话内不重复
func (p *Pipeline) notifyAuthExpired() {
	p.mu.Lock()
	if p.authNotified {
		p.mu.Unlock()
		return
	}
	p.authNotified = true
	p.mu.Unlock()

	p.logger.Error("API 凭证已过期")
	p.rend.Notify("API 凭证已过期", "请在配置中更新密钥后重试，本次会话内不再重复提醒")
}
