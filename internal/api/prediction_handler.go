package api

import (
	"net/http"

	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PredictionHandler 两阶段下注与领奖
type PredictionHandler struct {
	predictionService *service.PredictionService
	claimService      *service.ClaimService
	logger            *logrus.Logger
}

// NewPredictionHandler 创建 PredictionHandler
func NewPredictionHandler(predictions *service.PredictionService, claims *service.ClaimService, logger *logrus.Logger) *PredictionHandler {
	return &PredictionHandler{predictionService: predictions, claimService: claims, logger: logger}
}

// CreatePredictionRequest 第一阶段：签名的预测内容
type CreatePredictionRequest struct {
	SignedBody
	ScoreBody
	MatchID  string `json:"matchId" binding:"required"`
	MarketID string `json:"marketId"`
}

// CreatePrediction 第一阶段，返回支付信息 POST /api/predictions
func (h *PredictionHandler) CreatePrediction(c *gin.Context) {
	var req CreatePredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	desc, err := h.predictionService.Prepare(c.Request.Context(), service.PredictionRequest{
		MatchID:   req.MatchID,
		MarketID:  req.MarketID,
		Predicted: req.score(),
		Signed:    req.fields(),
	})
	if err != nil {
		respondError(c, h.logger, "CreatePrediction", err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// ConfirmPredictionRequest 第二阶段：支付交易哈希
type ConfirmPredictionRequest struct {
	ScoreBody
	MatchID       string `json:"matchId" binding:"required"`
	MarketID      string `json:"marketId"`
	WalletAddress string `json:"walletAddress" binding:"required"`
	PaymentTxHash string `json:"paymentTxHash" binding:"required"`
}

// ConfirmPrediction 校验链上支付并写入预测 POST /api/predictions/confirm
func (h *PredictionHandler) ConfirmPrediction(c *gin.Context) {
	var req ConfirmPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pred, err := h.predictionService.Confirm(c.Request.Context(), service.ConfirmRequest{
		MatchID:       req.MatchID,
		MarketID:      req.MarketID,
		Actor:         req.WalletAddress,
		Predicted:     req.score(),
		PaymentTxHash: req.PaymentTxHash,
	})
	if err != nil {
		respondError(c, h.logger, "ConfirmPrediction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictionId": pred.ID, "prediction": pred})
}

// ClaimPrizeRequest 领奖
type ClaimPrizeRequest struct {
	SignedBody
	MatchID      string `json:"matchId" binding:"required"`
	PredictionID string `json:"predictionId" binding:"required"`
}

// ClaimPrize 领奖并返回派奖交易 POST /api/predictions/claim
// 派奖交易尚未确认时返回 409，可稍后用新 nonce 重试
func (h *PredictionHandler) ClaimPrize(c *gin.Context) {
	var req ClaimPrizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.claimService.Claim(c.Request.Context(), service.ClaimRequest{
		MatchID:      req.MatchID,
		PredictionID: req.PredictionID,
		Signed:       req.fields(),
	})
	if err != nil {
		respondError(c, h.logger, "ClaimPrize", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
