package response

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess         = 0
	CodeNotFound        = 404
	CodeValidationError = 422
	CodeServerError     = 500
)

const (
	CodeMissingIdempotencyKey = 1001
	CodeReservedAccount       = 1002
	CodeBalanceNotEnough      = 1003
	CodeIdempotencyConflict   = 1004
	CodeLockTimeout           = 1005
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessRaw data 为已经序列化好的 JSON，原样写入响应
func SuccessRaw(c *gin.Context, data json.RawMessage) {
	Success(c, data)
}

// Error 业务错误，HTTP 状态码和业务码分开传
func Error(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusUnprocessableEntity, CodeValidationError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}
