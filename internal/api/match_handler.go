package api

import (
	"errors"
	"net/http"
	"strings"

	"StrikeRate/internal/model"
	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MatchHandler 比赛与市场：创建、锁盘、完赛结算与查询
type MatchHandler struct {
	matchService      *service.MatchService
	settlementService *service.SettlementService
	predictionService *service.PredictionService
	logger            *logrus.Logger
}

// NewMatchHandler 创建 MatchHandler
func NewMatchHandler(matches *service.MatchService, settlement *service.SettlementService, predictions *service.PredictionService, logger *logrus.Logger) *MatchHandler {
	return &MatchHandler{
		matchService:      matches,
		settlementService: settlement,
		predictionService: predictions,
		logger:            logger,
	}
}

// CreateMatchRequest 创建比赛
type CreateMatchRequest struct {
	SignedBody
	Team1     string `json:"team1" binding:"required"`
	Team2     string `json:"team2" binding:"required"`
	MatchType string `json:"matchType" binding:"required"`
	Stadium   string `json:"stadium" binding:"required"`
	MatchTime string `json:"matchTime" binding:"required"`
}

// CreateMatch 创建比赛（管理员）POST /api/matches
func (h *MatchHandler) CreateMatch(c *gin.Context) {
	var req CreateMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	detail, err := h.matchService.CreateMatch(c.Request.Context(), service.CreateMatchRequest{
		Team1:     req.Team1,
		Team2:     req.Team2,
		MatchType: model.MatchType(strings.ToUpper(req.MatchType)),
		Stadium:   req.Stadium,
		MatchTime: req.MatchTime,
		Signed:    req.fields(),
	})
	if err != nil {
		respondError(c, h.logger, "CreateMatch", err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// ListMatches 比赛列表 GET /api/matches?status=UPCOMING&page=1&page_size=20
func (h *MatchHandler) ListMatches(c *gin.Context) {
	page, pageSize := pagination(c)
	status := model.MatchStatus(strings.ToUpper(c.Query("status")))
	list, total, err := h.matchService.ListMatches(c.Request.Context(), status, page, pageSize)
	if err != nil {
		respondError(c, h.logger, "ListMatches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list, "total": total, "page": page, "page_size": pageSize})
}

// GetMatch 比赛详情（含市场与结果）GET /api/matches/:id
func (h *MatchHandler) GetMatch(c *gin.Context) {
	detail, err := h.matchService.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "GetMatch", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CreateMarketRequest 追加市场
type CreateMarketRequest struct {
	SignedBody
	MatchID    string `json:"matchId" binding:"required"`
	MarketType string `json:"marketType" binding:"required"`
}

// CreateMarket 为比赛追加市场（管理员）POST /api/markets
func (h *MatchHandler) CreateMarket(c *gin.Context) {
	var req CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	market, err := h.matchService.CreateMarket(c.Request.Context(), service.CreateMarketRequest{
		MatchID:    req.MatchID,
		MarketType: model.MarketType(strings.ToUpper(req.MarketType)),
		Signed:     req.fields(),
	})
	if err != nil {
		respondError(c, h.logger, "CreateMarket", err)
		return
	}
	c.JSON(http.StatusCreated, market)
}

// LockMatchRequest 锁盘
type LockMatchRequest struct {
	SignedBody
	MatchID string `json:"matchId" binding:"required"`
}

// LockMatch 锁盘（管理员）POST /api/matches/lock
func (h *MatchHandler) LockMatch(c *gin.Context) {
	var req LockMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.matchService.LockMatch(c.Request.Context(), service.LockMatchRequest{
		MatchID: req.MatchID,
		Signed:  req.fields(),
	})
	if err != nil {
		respondError(c, h.logger, "LockMatch", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matchId": req.MatchID, "status": model.MatchStatusLocked})
}

// CompleteMatchRequest 完赛，比分字段平铺在请求体中
type CompleteMatchRequest struct {
	SignedBody
	ScoreBody
	MatchID string `json:"matchId" binding:"required"`
}

// CompleteMatch 录入结果并结算（管理员）POST /api/matches/complete
// 部分市场结算失败时返回 500 与各市场结果，比赛保持 LOCKED，可用新 nonce 重试
func (h *MatchHandler) CompleteMatch(c *gin.Context) {
	var req CompleteMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.settlementService.Complete(c.Request.Context(), service.CompleteRequest{
		MatchID: req.MatchID,
		Final:   req.score(),
		Signed:  req.fields(),
	})
	if errors.Is(err, service.ErrSettlementIncomplete) && result != nil {
		h.logger.WithError(err).WithField("match_id", req.MatchID).Error("部分市场结算失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "markets": result.Markets})
		return
	}
	if err != nil {
		respondError(c, h.logger, "CompleteMatch", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListPredictions 比赛下的全部预测 GET /api/matches/:id/predictions
func (h *MatchHandler) ListPredictions(c *gin.Context) {
	list, err := h.predictionService.ListByMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ListPredictions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list, "total": len(list)})
}

// ListSettlements 比赛各市场的结算记录 GET /api/matches/:id/settlements
func (h *MatchHandler) ListSettlements(c *gin.Context) {
	list, err := h.settlementService.ListSettlements(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ListSettlements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}
