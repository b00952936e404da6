package cli

import (
	"fmt"
	"io"

	"walletledger/internal/service"

	"github.com/spf13/cobra"
)

// NewAuditCommand 对账，不通过时退出码为 1
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "audit",
		Short:         "校验余额与流水一致、每笔交易借贷平衡",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLedger(rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			report, err := service.NewAuditService(env.store, env.logger).Verify(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "对账失败", Err: err}
			}

			err = render(cmd.OutOrStdout(), rootOpts, report, func(w io.Writer) {
				fmt.Fprintf(w, "检查钱包 %d 个\n", report.WalletsChecked)
				for _, m := range report.Mismatches {
					fmt.Fprintf(w, "  余额不一致 wallet=%d user=%s balance=%d entries=%d\n", m.WalletID, m.UserID, m.Balance, m.EntrySum)
				}
				for _, m := range report.Negative {
					fmt.Fprintf(w, "  负余额 wallet=%d user=%s balance=%d\n", m.WalletID, m.UserID, m.Balance)
				}
				for _, u := range report.Unbalanced {
					fmt.Fprintf(w, "  交易不平衡 tx=%s entries=%d sum=%d\n", u.TransactionID, u.Entries, u.Sum)
				}
				if report.OK() {
					fmt.Fprintln(w, "对账通过")
				}
			})
			if err != nil {
				return err
			}
			if !report.OK() {
				return &ExitError{Code: ExitFailure, Message: "对账不通过"}
			}
			return nil
		},
	}
}
