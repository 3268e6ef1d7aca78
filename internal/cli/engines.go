package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-vntrans/internal/config"
	"github.com/nerdneilsfield/go-vntrans/pkg/backends/factory"
)

// NewEnginesCommand 创建 engines 命令
func NewEnginesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List supported translation engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			active := ""
			if cfg, err := config.LoadConfig(cfgFile); err == nil {
				active = cfg.Engine
			}

			out := cmd.OutOrStdout()

			title := color.New(color.FgCyan, color.Bold)
			title.Fprintln(out, "支持的翻译引擎:")

			mark := color.New(color.FgGreen, color.Bold)
			for _, engine := range factory.SupportedEngines() {
				if engine == active {
					mark.Fprintf(out, "  * %s (当前)\n", engine)
				} else {
					fmt.Fprintf(out, "  - %s\n", engine)
				}
			}
			return nil
		},
	}
}
