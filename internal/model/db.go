package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 对应 users 表，钱包地址即主键；聚合字段只做增量更新
type User struct {
	WalletAddress    string          `gorm:"column:wallet_address;primaryKey;type:varchar(64)" json:"walletAddress"`
	TotalPredictions int64           `gorm:"column:total_predictions;not null;default:0" json:"totalPredictions"`
	TotalWins        int64           `gorm:"column:total_wins;not null;default:0" json:"totalWins"`
	TotalAmountWon   decimal.Decimal `gorm:"column:total_amount_won;type:numeric(18,6);not null;default:0" json:"totalAmountWon"`
	TotalPoints      float64         `gorm:"column:total_points;not null;default:0" json:"totalPoints"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// NonceRecord 每个钱包一条，签名动作成功后 +1
type NonceRecord struct {
	WalletAddress string    `gorm:"column:wallet_address;primaryKey;type:varchar(64)" json:"walletAddress"`
	Nonce         int64     `gorm:"column:nonce;not null;default:0" json:"nonce"`
	LastActivity  string    `gorm:"column:last_activity;type:varchar(32)" json:"lastActivity"`
	LastUpdated   time.Time `gorm:"column:last_updated" json:"lastUpdated"`
}

// StatsID 全局统计单行主键
const StatsID = "global"

// Stats 全局统计，单行；各计数只通过增量表达式修改
type Stats struct {
	ID                     string          `gorm:"column:id;primaryKey;type:varchar(16)"`
	MatchesTotal           int64           `gorm:"column:matches_total;not null;default:0"`
	MatchesUpcoming        int64           `gorm:"column:matches_upcoming;not null;default:0"`
	MatchesLive            int64           `gorm:"column:matches_live;not null;default:0"`
	MatchesCompleted       int64           `gorm:"column:matches_completed;not null;default:0"`
	MatchesAbandoned       int64           `gorm:"column:matches_abandoned;not null;default:0"`
	PredictionsTotal       int64           `gorm:"column:predictions_total;not null;default:0"`
	PredictionsTotalAmount decimal.Decimal `gorm:"column:predictions_total_amount;type:numeric(18,6);not null;default:0"`
	UsersTotal             int64           `gorm:"column:users_total;not null;default:0"`
	WinningsTotal          decimal.Decimal `gorm:"column:winnings_total;type:numeric(18,6);not null;default:0"`
	WinningsTotalClaims    int64           `gorm:"column:winnings_total_claims;not null;default:0"`
	WinningsPendingClaims  decimal.Decimal `gorm:"column:winnings_pending_claims;type:numeric(18,6);not null;default:0"`
	LastUpdated            time.Time       `gorm:"column:last_updated"`
}

func (User) TableName() string        { return "users" }
func (NonceRecord) TableName() string { return "nonces" }
func (Stats) TableName() string       { return "stats" }

// AllModels 按依赖顺序返回需要迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&NonceRecord{},
		&Stats{},
		&Match{},
		&Market{},
		&Prediction{},
		&PredictionIntent{},
		&MarketSettlement{},
		&PrizeClaim{},
		&PaymentEvent{},
	}
}
