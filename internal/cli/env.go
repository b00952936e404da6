package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"walletledger/internal/config"
	"walletledger/internal/infrastructure/database"
	"walletledger/internal/infrastructure/logging"
	"walletledger/internal/repository"

	"go.uber.org/zap"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // 对账不通过
	ExitCommandError = 2 // 配置错误、数据库不可用等
)

// ExitError 带退出码的错误
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode 非 ExitError 一律按命令错误处理
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// ledgerEnv 一次命令执行期间持有的依赖
type ledgerEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *repository.GormStore
	close  func()
}

func openLedger(opts *RootOptions) (*ledgerEnv, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "加载配置失败", Err: err}
	}
	if cfg.Database.Driver == "memory" {
		return nil, &ExitError{Code: ExitCommandError, Message: "walletctl 需要持久化存储，当前 driver 为 memory"}
	}

	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "初始化日志失败", Err: err}
	}

	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "打开数据库失败", Err: err}
	}

	return &ledgerEnv{
		cfg:    cfg,
		logger: logger,
		store:  repository.NewGormStore(db, cfg.Database.LockTimeout()),
		close: func() {
			_ = database.Close(db)
			_ = logger.Sync()
		},
	}, nil
}

// render json 格式直接输出结构体，text 格式交给 text 回调
func render(w io.Writer, opts *RootOptions, v interface{}, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
