package service

import (
	"errors"
	"fmt"

	"walletledger/internal/repository"
)

// ErrorKind 业务错误分类，决定对外的状态码和是否可重试
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "INVALID_INPUT"
	KindMissingIdempotencyKey ErrorKind = "MISSING_IDEMPOTENCY_KEY"
	KindForbidden             ErrorKind = "FORBIDDEN"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindInsufficientFunds     ErrorKind = "INSUFFICIENT_FUNDS"
	KindIdempotencyConflict   ErrorKind = "IDEMPOTENCY_CONFLICT"
	KindLockTimeout           ErrorKind = "LOCK_TIMEOUT"
	KindStorageFailure        ErrorKind = "STORAGE_FAILURE"
)

// Error 服务层返回的错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误视为相等，errors.Is(err, ErrNotFound) 不关心具体消息
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, Message: "参数错误"}
	ErrMissingIdempotencyKey = &Error{Kind: KindMissingIdempotencyKey, Message: "缺少 Idempotency-Key 请求头"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "系统账户不允许直接交易"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "资源不存在"}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds, Message: "余额不足"}
	ErrIdempotencyConflict   = &Error{Kind: KindIdempotencyConflict, Message: "Idempotency-Key 已被不同请求使用"}
	ErrLockTimeout           = &Error{Kind: KindLockTimeout, Message: "系统繁忙，请使用相同的 Idempotency-Key 重试"}
	ErrStorageFailure        = &Error{Kind: KindStorageFailure, Message: "存储异常"}
)

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func invalidInput(message string) *Error {
	return newError(KindInvalidInput, message, nil)
}

func notFound(message string) *Error {
	return newError(KindNotFound, message, nil)
}

// KindOf 取错误分类，非 *Error 一律视为存储异常
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// Retryable 调用方能否用同一个 Idempotency-Key 原样重试
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindStorageFailure:
		return true
	default:
		return false
	}
}

// translateStoreError 把存储层哨兵错误映射为业务错误
func translateStoreError(err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrAssetNotFound):
		return newError(KindNotFound, "资产类型不存在", err)
	case errors.Is(err, repository.ErrWalletNotFound):
		return newError(KindNotFound, "钱包不存在", err)
	case errors.Is(err, repository.ErrInsufficientFunds):
		return newError(KindInsufficientFunds, "余额不足", err)
	case errors.Is(err, repository.ErrLockTimeout):
		return newError(KindLockTimeout, ErrLockTimeout.Message, err)
	default:
		return newError(KindStorageFailure, "存储异常", err)
	}
}
