package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-vntrans/internal/config"
)

// initConfig 为真时生成默认配置文件
var initConfig bool

// NewConfigCommand 创建 config 命令
func NewConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration file",
		Long: `Show the effective configuration, or write a default configuration
file to get started.

Examples:
  # Show the effective configuration
  vntrans config

  # Write a default config to ~/.vntrans.yaml
  vntrans config --init

  # Write a default config to a custom path
  vntrans config --init --config ./vntrans.yaml`,
		RunE: runConfigCommand,
	}

	configCmd.Flags().BoolVar(&initConfig, "init", false, "生成默认配置文件")

	return configCmd
}

// runConfigCommand 执行 config 命令
func runConfigCommand(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if initConfig {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("配置文件已存在: %s", path)
		}
		if err := config.SaveConfig(config.NewDefaultConfig(), path); err != nil {
			return fmt.Errorf("写入配置失败: %w", err)
		}
		fmt.Printf("✅ 默认配置已写入: %s\n", path)
		fmt.Println("请编辑该文件，至少为所选引擎填入 API Key。")
		return nil
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	printConfig(cfg, path)
	return nil
}

// printConfig 展示关键配置项，密钥只露首尾
func printConfig(cfg *config.Config, path string) {
	fmt.Println("🔧 当前配置")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("  配置文件: %s\n", path)
	fmt.Printf("  游戏标识: %s\n", cfg.GameID)
	fmt.Printf("  翻译引擎: %s\n", cfg.Engine)
	fmt.Printf("  语言方向: %s -> %s\n", cfg.SourceLang, cfg.TargetLang)
	fmt.Printf("  预取批量: %d\n", cfg.PrefetchCount)
	fmt.Printf("  去抖窗口: %d ms\n", cfg.DebounceMs)
	fmt.Printf("  保留人名: %t\n", cfg.KeepOriginalNames)
	fmt.Printf("  耗时日志: %t\n", cfg.EnableTimingLog)
	fmt.Printf("  监听端口: %d\n", cfg.ListenPort)
	fmt.Printf("  文本编码: %s\n", cfg.Encoding)
	fmt.Printf("  缓存目录: %s\n", cfg.CacheDir)
	if cfg.GlossaryPath != "" {
		fmt.Printf("  词汇表: %s\n", cfg.GlossaryPath)
	} else {
		fmt.Printf("  词汇表: 未设置\n")
	}

	fmt.Println("\n🤖 引擎配置:")
	if len(cfg.Engines) == 0 {
		fmt.Println("  未配置任何引擎")
		return
	}
	for name, ec := range cfg.Engines {
		fmt.Printf("  - %s\n", name)
		if ec.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", ec.BaseURL)
		}
		if ec.Model != "" {
			fmt.Printf("    模型: %s\n", ec.Model)
		}
		if ec.Key != "" {
			fmt.Printf("    API Key: %s\n", maskKey(ec.Key))
		}
		if ec.TimeoutSeconds > 0 {
			fmt.Printf("    超时: %d 秒\n", ec.TimeoutSeconds)
		}
	}
}

// maskKey 遮蔽密钥，只保留首尾各 4 个字符
func maskKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "****" + string(r[len(r)-4:])
}
