package api

import (
	"net/http"
	"strconv"

	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserHandler 用户资料与全局统计
type UserHandler struct {
	predictionService *service.PredictionService
	statsService      *service.StatsService
	logger            *logrus.Logger
}

// NewUserHandler 创建 UserHandler
func NewUserHandler(predictions *service.PredictionService, stats *service.StatsService, logger *logrus.Logger) *UserHandler {
	return &UserHandler{predictionService: predictions, statsService: stats, logger: logger}
}

// Me 当前登录用户的聚合数据与预测 GET /api/users/me?page=1&page_size=20
func (h *UserHandler) Me(c *gin.Context) {
	s := session(c)
	if s == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	page, pageSize := pagination(c)
	profile, err := h.predictionService.Profile(c.Request.Context(), s.Wallet, page, pageSize)
	if err != nil {
		respondError(c, h.logger, "Me", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        profile.User,
		"predictions": profile.Predictions,
		"total":       profile.Total,
		"isAdmin":     s.Admin,
	})
}

// GetStats 全局统计 GET /api/stats
func (h *UserHandler) GetStats(c *gin.Context) {
	view, err := h.statsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "GetStats", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ReconcileStats 手动触发统计对账（管理员）POST /api/stats/reconcile?repair=true
func (h *UserHandler) ReconcileStats(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.DefaultQuery("repair", "false"))
	report, err := h.statsService.Reconcile(c.Request.Context(), repair)
	if err != nil {
		respondError(c, h.logger, "ReconcileStats", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
