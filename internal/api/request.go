package api

import (
	"strconv"

	"StrikeRate/internal/model"
	"StrikeRate/internal/service"

	"github.com/gin-gonic/gin"
)

// SignedBody 所有签名请求共有的字段。message 可省略，由服务端重建
type SignedBody struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	Nonce         *int64 `json:"nonce" binding:"required"`
	Message       string `json:"message"`
	Signature     string `json:"signature" binding:"required"`
}

func (b SignedBody) fields() service.SignedFields {
	return service.SignedFields{
		Actor:     b.WalletAddress,
		Nonce:     *b.Nonce,
		Message:   b.Message,
		Signature: b.Signature,
	}
}

// ScoreBody 四个比分字段（0 为合法值）
type ScoreBody struct {
	Team1Score   *int `json:"team1Score" binding:"required"`
	Team1Wickets *int `json:"team1Wickets" binding:"required"`
	Team2Score   *int `json:"team2Score" binding:"required"`
	Team2Wickets *int `json:"team2Wickets" binding:"required"`
}

func (b ScoreBody) score() model.FinalScore {
	return model.FinalScore{
		Team1Score:   *b.Team1Score,
		Team1Wickets: *b.Team1Wickets,
		Team2Score:   *b.Team2Score,
		Team2Wickets: *b.Team2Wickets,
	}
}

// pagination 读取 page / page_size，非法值回退为默认
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
