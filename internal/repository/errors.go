package repository

import (
	"errors"
	"fmt"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	pgLockNotAvailable   = "55P03"
	pgDeadlockDetected   = "40P01"
)

// translateLockError 把各数据库的锁等待超时统一成 ErrLockTimeout
//
// 死锁也归到这一类：按 ID 升序加锁后正常不会出现，出现时让调用方用同一个幂等键重试
func translateLockError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgLockNotAvailable || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}

	return err
}
