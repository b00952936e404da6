package handler

import (
	"errors"
	"net/http"

	"walletledger/internal/service"
	"walletledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader 调用方生成的幂等键
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader 响应来自幂等重放时为 true
const ReplayedHeader = "Idempotent-Replayed"

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	transactions *service.TransactionService
	queries      *service.QueryService
	logger       *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(transactions *service.TransactionService, queries *service.QueryService, logger *zap.Logger) *Handler {
	return &Handler{
		transactions: transactions,
		queries:      queries,
		logger:       logger,
	}
}

// ============================================================
// 交易接口
// ============================================================

// TransactRequest 交易请求
type TransactRequest struct {
	UserID          string `json:"user_id" binding:"required"`
	Amount          int64  `json:"amount"`                              // 必须为正整数
	TransactionType string `json:"transaction_type" binding:"required"` // TOPUP, BONUS, SPEND
	AssetCode       string `json:"asset_code" binding:"required"`
}

// Transact 执行一笔交易
// POST /api/v1/transact
//
// 【关键点】
// 1. 幂等性：相同 Idempotency-Key + user_id 只会执行一次，重试返回第一次的响应
// 2. 原子性：两条流水、两个余额、幂等记录在同一个事务里提交
// 3. 并发安全：按钱包 ID 升序加行锁，不会死锁
func (h *Handler) Transact(c *gin.Context) {
	var req TransactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.transactions.Submit(c.Request.Context(), &service.SubmitRequest{
		IdempotencyKey:  c.GetHeader(IdempotencyKeyHeader),
		UserID:          req.UserID,
		Amount:          req.Amount,
		TransactionType: req.TransactionType,
		AssetCode:       req.AssetCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if result.Replayed {
		c.Header(ReplayedHeader, "true")
	}
	response.SuccessRaw(c, result.Raw)
}

// ============================================================
// 查询接口
// ============================================================

// GetBalance 查询余额
// GET /api/v1/balance/:user_id?asset_code=GOLD_COIN
func (h *Handler) GetBalance(c *gin.Context) {
	assetCode, ok := c.GetQuery("asset_code")
	if !ok {
		response.ValidationError(c, "asset_code 参数不能为空")
		return
	}

	balance, err := h.queries.GetBalance(c.Request.Context(), c.Param("user_id"), assetCode)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, balance)
}

// ListTransactions 查询流水，按时间倒序
// GET /api/v1/transactions/:user_id?asset_code=GOLD_COIN
func (h *Handler) ListTransactions(c *gin.Context) {
	assetCode, ok := c.GetQuery("asset_code")
	if !ok {
		response.ValidationError(c, "asset_code 参数不能为空")
		return
	}

	history, err := h.queries.ListTransactions(c.Request.Context(), c.Param("user_id"), assetCode)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, history)
}

// fail 按错误分类映射 HTTP 状态码
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := statusOf(service.KindOf(err))

	message := err.Error()
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			message = "服务器内部错误"
		}
	}
	response.Error(c, status, code, message)
}

func statusOf(kind service.ErrorKind) (status, code int) {
	switch kind {
	case service.KindMissingIdempotencyKey:
		return http.StatusBadRequest, response.CodeMissingIdempotencyKey
	case service.KindForbidden:
		return http.StatusBadRequest, response.CodeReservedAccount
	case service.KindInsufficientFunds:
		return http.StatusBadRequest, response.CodeBalanceNotEnough
	case service.KindInvalidInput:
		return http.StatusUnprocessableEntity, response.CodeValidationError
	case service.KindNotFound:
		return http.StatusNotFound, response.CodeNotFound
	case service.KindIdempotencyConflict:
		return http.StatusConflict, response.CodeIdempotencyConflict
	case service.KindLockTimeout:
		return http.StatusServiceUnavailable, response.CodeLockTimeout
	default:
		return http.StatusInternalServerError, response.CodeServerError
	}
}
