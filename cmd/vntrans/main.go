package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/nerdneilsfield/go-vntrans/internal/cli"
	"github.com/nerdneilsfield/go-vntrans/internal/logger"
	"go.uber.org/zap"
)

// Version information
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// 本地开发时从 .env 读取密钥，文件不存在则忽略
	_ = godotenv.Load()

	log := logger.NewLogger(false)
	defer func() {
		_ = log.Sync()
	}()

	rootCmd := cli.NewRootCommand(Version, Commit, BuildDate)

	if err := rootCmd.Execute(); err != nil {
		log.Error("执行命令失败", zap.Error(err))
		os.Exit(1)
	}
}
