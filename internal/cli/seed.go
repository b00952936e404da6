package cli

import (
	"fmt"
	"io"

	"walletledger/internal/service"

	"github.com/spf13/cobra"
)

// NewSeedCommand 初始化资产类型、金库和演示用户钱包，可重复执行
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "seed",
		Short:         "初始化资产类型和钱包",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLedger(rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			report, err := service.NewBootstrapService(env.store, env.cfg.Ledger.TreasuryUserID, env.logger).
				Seed(cmd.Context(), service.DefaultSeedPlan())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "初始化失败", Err: err}
			}

			return render(cmd.OutOrStdout(), rootOpts, report, func(w io.Writer) {
				fmt.Fprintf(w, "新建资产 %d 个，新建钱包 %d 个\n", len(report.AssetsCreated), len(report.WalletsCreated))
				for _, code := range report.AssetsCreated {
					fmt.Fprintf(w, "  asset  %s\n", code)
				}
				for _, wallet := range report.WalletsCreated {
					fmt.Fprintf(w, "  wallet %s\n", wallet)
				}
			})
		},
	}
}
