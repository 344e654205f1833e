package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prediction 对应 predictions 表
// (market_id, user_id) 唯一：每个用户在每个市场只能下一注
type Prediction struct {
	ID            string              `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	MatchID       string              `gorm:"column:match_id;type:varchar(64);index;not null" json:"matchId"`
	MarketID      string              `gorm:"column:market_id;type:varchar(64);not null;uniqueIndex:uq_prediction_market_user" json:"marketId"`
	UserID        string              `gorm:"column:user_id;type:varchar(64);not null;index;uniqueIndex:uq_prediction_market_user" json:"userId"`
	Team1Score    int                 `gorm:"column:team1_score;not null" json:"team1Score"`
	Team1Wickets  int                 `gorm:"column:team1_wickets;not null" json:"team1Wickets"`
	Team2Score    int                 `gorm:"column:team2_score;not null" json:"team2Score"`
	Team2Wickets  int                 `gorm:"column:team2_wickets;not null" json:"team2Wickets"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(18,6);not null" json:"amount"`
	IsWinner      bool                `gorm:"column:is_winner;not null;default:false" json:"isWinner"`
	AmountWon     decimal.NullDecimal `gorm:"column:amount_won;type:numeric(18,6)" json:"amountWon"`
	HasClaimed    bool                `gorm:"column:has_claimed;not null;default:false" json:"hasClaimed"`
	PointsEarned  *float64            `gorm:"column:points_earned" json:"pointsEarned"`
	PaymentTxHash string              `gorm:"column:payment_tx_hash;type:varchar(128);uniqueIndex;not null" json:"paymentTxHash"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Prediction) TableName() string { return "predictions" }

// Predicted 预测的四个数字
func (p *Prediction) Predicted() FinalScore {
	return FinalScore{
		Team1Score:   p.Team1Score,
		Team1Wickets: p.Team1Wickets,
		Team2Score:   p.Team2Score,
		Team2Wickets: p.Team2Wickets,
	}
}

// PrizeOwed 已结算未领取时应付金额，其余情况为 0
func (p *Prediction) PrizeOwed() decimal.Decimal {
	if !p.IsWinner || p.HasClaimed || !p.AmountWon.Valid {
		return decimal.Zero
	}
	return p.AmountWon.Decimal
}

// PredictionIntent 第一阶段签名通过后的待支付意向，第二阶段必须与之一致
type PredictionIntent struct {
	ID           string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	MatchID      string          `gorm:"column:match_id;type:varchar(64);not null" json:"matchId"`
	MarketID     string          `gorm:"column:market_id;type:varchar(64);not null;index:idx_intent_market_user" json:"marketId"`
	UserID       string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_intent_market_user" json:"userId"`
	Team1Score   int             `gorm:"column:team1_score;not null" json:"team1Score"`
	Team1Wickets int             `gorm:"column:team1_wickets;not null" json:"team1Wickets"`
	Team2Score   int             `gorm:"column:team2_score;not null" json:"team2Score"`
	Team2Wickets int             `gorm:"column:team2_wickets;not null" json:"team2Wickets"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(18,6);not null" json:"amount"`
	Recipient    string          `gorm:"column:recipient;type:varchar(64)" json:"recipient"`
	ExpiresAt    time.Time       `gorm:"column:expires_at;index;not null" json:"expiresAt"`
	Consumed     bool            `gorm:"column:consumed;not null;default:false" json:"consumed"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (PredictionIntent) TableName() string { return "prediction_intents" }

// Predicted 意向中的预测内容
func (i *PredictionIntent) Predicted() FinalScore {
	return FinalScore{
		Team1Score:   i.Team1Score,
		Team1Wickets: i.Team1Wickets,
		Team2Score:   i.Team2Score,
		Team2Wickets: i.Team2Wickets,
	}
}
