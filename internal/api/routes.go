package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers 路由依赖
type Handlers struct {
	Auth       *AuthHandler
	Match      *MatchHandler
	Prediction *PredictionHandler
	User       *UserHandler
	Session    gin.HandlerFunc // RequireSession
	Metrics    http.Handler    // 为 nil 时不挂载 /metrics
}

// RegisterRoutes 注册全部 API 路由
func RegisterRoutes(r *gin.Engine, h Handlers) {
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	g := r.Group("/api")
	g.POST("/prepare", h.Auth.Prepare)
	g.POST("/auth/sign-in", h.Auth.SignIn)
	g.POST("/auth/register", h.Auth.Register)

	// 比赛与市场
	g.POST("/matches", h.Match.CreateMatch)
	g.GET("/matches", h.Match.ListMatches)
	g.GET("/matches/:id", h.Match.GetMatch)
	g.GET("/matches/:id/predictions", h.Match.ListPredictions)
	g.GET("/matches/:id/settlements", h.Match.ListSettlements)
	g.POST("/matches/lock", h.Match.LockMatch)
	g.POST("/matches/complete", h.Match.CompleteMatch)
	g.POST("/markets", h.Match.CreateMarket)

	// 下注与领奖
	g.POST("/predictions", h.Prediction.CreatePrediction)
	g.POST("/predictions/confirm", h.Prediction.ConfirmPrediction)
	g.POST("/predictions/claim", h.Prediction.ClaimPrize)

	g.GET("/stats", h.User.GetStats)

	if h.Session != nil {
		g.GET("/users/me", h.Session, h.User.Me)
		g.POST("/stats/reconcile", h.Session, RequireAdmin(), h.User.ReconcileStats)
	}
}
