// Package cli 账本运维命令：初始化数据、对账、清理幂等记录、重投消息
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string // text 或 json
}

var validFormats = []string{"text", "json"}

// NewRootCommand walletctl 根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "walletctl",
		Short: "钱包账本运维工具",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("不支持的输出格式 %q，可选 %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/config.yaml", "配置文件路径")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "输出格式 (json|text)")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))

	return cmd
}
