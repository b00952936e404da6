package cli

import (
	"fmt"
	"io"
	"strconv"

	"walletledger/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewOutboxCommand 查看和重投超过最大重试次数的消息
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "本地消息表运维",
	}
	cmd.AddCommand(newOutboxFailedCommand(rootOpts))
	cmd.AddCommand(newOutboxRequeueCommand(rootOpts))
	return cmd
}

func newOutboxFailedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "failed",
		Short:         "列出投递失败的消息",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openLedger(rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			messages, err := env.store.Outbox().GetFailed(cmd.Context(), limit)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "查询失败消息出错", Err: err}
			}
			if messages == nil {
				messages = []*model.OutboxMessage{}
			}

			return render(cmd.OutOrStdout(), rootOpts, messages, func(w io.Writer) {
				fmt.Fprintf(w, "失败消息 %d 条\n", len(messages))
				for _, m := range messages {
					fmt.Fprintf(w, "  id=%d key=%s topic=%s retry=%d\n", m.ID, m.MessageKey, m.Topic, m.RetryCount)
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "最多返回条数")
	return cmd
}

func newOutboxRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "requeue [id...]",
		Short:         "把失败消息放回待投递队列",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return &ExitError{Code: ExitCommandError, Message: "请指定消息 id 或 --all"}
			}

			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "消息 id 不合法: " + arg}
				}
				ids = append(ids, id)
			}

			env, err := openLedger(rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			outbox := env.store.Outbox()
			if all {
				failed, err := outbox.GetFailed(cmd.Context(), 10000)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "查询失败消息出错", Err: err}
				}
				for _, m := range failed {
					ids = append(ids, m.ID)
				}
			}

			for _, id := range ids {
				if err := outbox.Requeue(cmd.Context(), id); err != nil {
					return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("重投消息 %d 失败", id), Err: err}
				}
			}
			env.logger.Info("失败消息已重新入队", zap.Int64s("ids", ids))

			return render(cmd.OutOrStdout(), rootOpts, map[string]interface{}{"requeued": ids}, func(w io.Writer) {
				fmt.Fprintf(w, "重新入队 %d 条\n", len(ids))
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "重投全部失败消息")
	return cmd
}
