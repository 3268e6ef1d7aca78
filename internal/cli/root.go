package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// 命令行标志变量
	cfgFile     string
	debugMode   bool
	gameID      string
	engineName  string
	listenPort  int
	glossaryArg string
)

// NewRootCommand 创建根命令
// 不带子命令直接运行时启动桥接服务本体。
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vntrans [flags]",
		Short: "vntrans 是面向视觉小说的实时对白翻译桥",
		Long: `vntrans 在本机回环端口上接收游戏钩子推送的对白事件，驱动批量翻译管线，
并把译文交给渲染端显示。缓存命中的句子即时上屏；未命中的句子先挂出占位符，
再与预取列表合并成批发往所配置的翻译引擎，结果写入本地缓存供重读时复用。

支持的翻译引擎:
  - builtin: 内置中转服务（默认，无需自备密钥）
  - openai: OpenAI 官方 API
  - deepseek / zhipu / moonshot / xai / alibaba / volcengine / siliconflow:
    各家 OpenAI 兼容接口
  - ollama: Ollama 本地大语言模型
  - gemini: Google Gemini
  - custom: 自定义 OpenAI 兼容端点`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(NewCacheCommand())
	rootCmd.AddCommand(NewEnginesCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// addGlobalFlags 添加全局标志
func addGlobalFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "启用调试模式")

	rootCmd.Flags().StringVar(&gameID, "game", "", "游戏标识，决定缓存作用域")
	rootCmd.Flags().StringVar(&engineName, "engine", "", "翻译引擎 (见 vntrans engines)")
	rootCmd.Flags().IntVar(&listenPort, "port", 0, "钩子监听端口")
	rootCmd.Flags().StringVar(&glossaryArg, "glossary", "", "词汇表文件路径 (TOML)")
}
