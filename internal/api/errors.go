package api

import (
	"errors"
	"net/http"

	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusOf 业务错误到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrBadSignature),
		errors.Is(err, service.ErrStaleNonce):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStateConflict),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNotWinner),
		errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrInvalidPayment):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPayoutPending):
		return http.StatusConflict
	case errors.Is(err, service.ErrPayoutFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写出 {"error": ...}。未识别的错误只返回通用文案，详情进日志
func respondError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status := statusOf(err)
	msg := err.Error()
	entry := logger.WithError(err).WithField("op", op)
	if status == http.StatusInternalServerError && !errors.Is(err, service.ErrSettlementIncomplete) {
		entry.Error("请求处理失败")
		msg = "internal server error"
	} else {
		entry.Warn("请求被拒绝")
	}
	c.JSON(status, gin.H{"error": msg})
}

// badRequest 请求体解析失败
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}
