package cli

import (
	"fmt"
	"io"
	"time"

	"walletledger/internal/job"

	"github.com/spf13/cobra"
)

type purgeResult struct {
	Before  time.Time `json:"before"`
	Deleted int64     `json:"deleted"`
}

// NewPurgeCommand 手动清理过期幂等记录
// --older-than 未指定时使用 ledger.idempotency_retention_hours
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:           "purge",
		Short:         "删除过期的幂等记录",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLedger(rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			retention := olderThan
			if retention == 0 {
				retention = env.cfg.Ledger.IdempotencyRetention()
			}
			if retention <= 0 {
				return &ExitError{Code: ExitCommandError, Message: "未配置保留时长，请指定 --older-than"}
			}

			purgeJob := job.NewIdempotencyRetentionJob(env.store, nil, env.logger, nil, retention, 0)
			before := time.Now().Add(-retention)
			deleted, err := purgeJob.RunOnce(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "清理失败", Err: err}
			}

			result := purgeResult{Before: before, Deleted: deleted}
			return render(cmd.OutOrStdout(), rootOpts, result, func(w io.Writer) {
				fmt.Fprintf(w, "删除幂等记录 %d 条\n", deleted)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "删除早于该时长的记录，例如 720h")
	return cmd
}
