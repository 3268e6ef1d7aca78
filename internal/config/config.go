package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig 单个翻译引擎的配置
type EngineConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Key            string            `mapstructure:"key"`
	Model          string            `mapstructure:"model"`
	Temperature    float64           `mapstructure:"temperature"`
	MaxTokens      int               `mapstructure:"max_tokens"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Headers        map[string]string `mapstructure:"headers"`
}

// Config 全局配置
type Config struct {
	GameID            string                  `mapstructure:"game_id"`             // 当前游戏标识，决定缓存作用域
	Engine            string                  `mapstructure:"engine"`              // 当前使用的翻译引擎
	SourceLang        string                  `mapstructure:"source_lang"`         // 源语言
	TargetLang        string                  `mapstructure:"target_lang"`         // 目标语言
	PrefetchCount     int                     `mapstructure:"prefetch_count"`      // 单批翻译的句子数上限（含当前句）
	DebounceMs        int                     `mapstructure:"debounce_ms"`         // 快进去抖窗口（毫秒）
	KeepOriginalNames bool                    `mapstructure:"keep_original_names"` // 人名保留原文
	EnableTimingLog   bool                    `mapstructure:"enable_timing_log"`   // 记录各阶段耗时
	ListenPort        int                     `mapstructure:"listen_port"`         // 文本钩子推送端口（仅回环）
	Encoding          string                  `mapstructure:"encoding"`            // 钩子推送文本的编码
	CacheDir          string                  `mapstructure:"cache_dir"`           // 缓存数据库目录
	GlossaryPath      string                  `mapstructure:"glossary_path"`       // 术语表路径
	Debug             bool                    `mapstructure:"debug"`
	Engines           map[string]EngineConfig `mapstructure:"engines"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果配置路径已指定，则直接使用
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".vntrans")
		v.SetConfigType("yaml")
	}

	// 读取环境变量
	v.AutomaticEnv()
	v.SetEnvPrefix("VNTRANS")

	// 读取配置文件，找不到时退回默认值
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	config, err := unmarshalConfig(v)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// unmarshalConfig 从已就绪的 viper 实例解出配置
func unmarshalConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// 引擎名可能带点号，逐个子键解析
	enginesRaw := v.GetStringMap("engines")
	if len(enginesRaw) > 0 {
		config.Engines = make(map[string]EngineConfig)
		for engineName := range enginesRaw {
			var engineCfg EngineConfig
			subKey := fmt.Sprintf("engines.%s", engineName)
			if err := v.UnmarshalKey(subKey, &engineCfg); err == nil {
				config.Engines[engineName] = engineCfg
			}
		}
	}

	// 设置缓存目录（如果未设置）
	if config.CacheDir == "" {
		config.CacheDir = getDefaultCacheDir()
	}

	return &config, nil
}

// Validate 校验配置的关键约束
func (c *Config) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("engine 不能为空")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("prefetch_count 必须不小于 1，当前为 %d", c.PrefetchCount)
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms 不能为负数，当前为 %d", c.DebounceMs)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port 超出范围: %d", c.ListenPort)
	}
	switch c.Encoding {
	case "utf-8", "utf8", "shift-jis", "shift_jis", "sjis", "gbk", "gb18030":
	default:
		return fmt.Errorf("不支持的编码: %s", c.Encoding)
	}
	return nil
}

// SaveConfig 将配置保存到文件
func SaveConfig(config *Config, configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("无法确定配置文件路径")
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	// 添加所有配置项
	if err := v.MergeConfigMap(structToMap(config)); err != nil {
		return err
	}

	// 创建父目录（如果不存在）
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return v.WriteConfig()
}

// DefaultConfigPath 返回家目录下的默认配置文件路径
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vntrans.yaml")
}

// NewDefaultConfig 创建一个新的默认配置
func NewDefaultConfig() *Config {
	return &Config{
		GameID:            "default",
		Engine:            "builtin",
		SourceLang:        "Japanese",
		TargetLang:        "Chinese",
		PrefetchCount:     5,
		DebounceMs:        100,
		KeepOriginalNames: true,
		EnableTimingLog:   false,
		ListenPort:        19876,
		Encoding:          "utf-8",
		CacheDir:          getDefaultCacheDir(),
		Engines: map[string]EngineConfig{
			"builtin": {},
			"deepseek": {
				Model:       "deepseek-chat",
				Temperature: 0.3,
			},
			"ollama": {
				BaseURL: "http://localhost:11434",
				Model:   "qwen2.5:7b",
			},
		},
	}
}

// Watch 监听配置文件变更
// 每次成功重载并通过校验后调用 onChange，失败只记日志，运行不中断。
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) error {
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	if configPath == "" {
		return fmt.Errorf("无法确定配置文件路径")
	}
	if _, err := os.Stat(configPath); err != nil {
		return err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("VNTRANS")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("配置文件已变更", zap.String("file", e.Name))

		config, err := unmarshalConfig(v)
		if err != nil {
			logger.Warn("重载配置失败，保持旧配置", zap.Error(err))
			return
		}
		if err := config.Validate(); err != nil {
			logger.Warn("新配置未通过校验，保持旧配置", zap.Error(err))
			return
		}
		onChange(config)
	})
	v.WatchConfig()

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("game_id", "default")
	v.SetDefault("engine", "builtin")
	v.SetDefault("source_lang", "Japanese")
	v.SetDefault("target_lang", "Chinese")
	v.SetDefault("prefetch_count", 5)
	v.SetDefault("debounce_ms", 100)
	v.SetDefault("keep_original_names", true)
	v.SetDefault("enable_timing_log", false)
	v.SetDefault("listen_port", 19876)
	v.SetDefault("encoding", "utf-8")
	v.SetDefault("debug", false)
}

// structToMap 将结构体转换为map
func structToMap(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"game_id":             config.GameID,
		"engine":              config.Engine,
		"source_lang":         config.SourceLang,
		"target_lang":         config.TargetLang,
		"prefetch_count":      config.PrefetchCount,
		"debounce_ms":         config.DebounceMs,
		"keep_original_names": config.KeepOriginalNames,
		"enable_timing_log":   config.EnableTimingLog,
		"listen_port":         config.ListenPort,
		"encoding":            config.Encoding,
		"cache_dir":           config.CacheDir,
		"glossary_path":       config.GlossaryPath,
		"debug":               config.Debug,
		"engines":             config.Engines,
	}
}

// getDefaultCacheDir 返回缓存目录
func getDefaultCacheDir() string {
	// 优先使用系统缓存目录
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		return filepath.Join(cacheDir, "vntrans")
	}

	// 如果无法获取系统缓存目录，使用用户主目录
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(homeDir, ".vntrans", "cache")
	}

	// 最后的兜底方案
	return "./vntrans-cache"
}
