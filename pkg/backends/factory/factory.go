// Package factory 根据引擎名称创建对应的后端实例。
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-vntrans/pkg/backends"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/gemini"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/ollama"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/openai"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/openaicompat"
)

// 请求间隔下限，本地引擎比托管服务宽松得多
const (
	hostedMinInterval = 500 * time.Millisecond
	localMinInterval  = 100 * time.Millisecond
)

// Create 根据引擎名称创建后端
func Create(engine string, cfg backends.BaseConfig, logger *zap.Logger) (backends.Backend, error) {
	switch engine {
	case "openai":
		if cfg.MinInterval == 0 {
			cfg.MinInterval = hostedMinInterval
		}
		return openai.New(cfg, logger), nil

	case "ollama":
		if cfg.MinInterval == 0 {
			cfg.MinInterval = localMinInterval
		}
		return ollama.New(cfg, logger), nil

	case "gemini":
		if cfg.MinInterval == 0 {
			cfg.MinInterval = hostedMinInterval
		}
		return gemini.New(cfg, logger), nil

	default:
		if _, ok := openaicompat.Presets[engine]; ok {
			if cfg.MinInterval == 0 {
				cfg.MinInterval = hostedMinInterval
			}
			return openaicompat.New(openaicompat.Config{BaseConfig: cfg, Vendor: engine}, logger), nil
		}
		return nil, fmt.Errorf("unsupported engine: %s (available: %s)",
			engine, strings.Join(SupportedEngines(), ", "))
	}
}

// SupportedEngines 返回全部可用引擎名称，按字典序
func SupportedEngines() []string {
	names := []string{"openai", "ollama", "gemini"}
	for name := range openaicompat.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	for _, name := range SupportedEngines() {
		engine := name
		_ = backends.Register(engine, func(cfg backends.BaseConfig, logger *zap.Logger) (backends.Backend, error) {
			return Create(engine, cfg, logger)
		})
	}
}
