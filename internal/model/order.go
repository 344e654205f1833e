package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SettlementStatus 单个市场的结算状态
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "PENDING"
	SettlementSettled SettlementStatus = "SETTLED"
	SettlementFailed  SettlementStatus = "FAILED"
)

// MarketSettlement 对应 market_settlements 表，每个市场一行，作为可续跑结算的幂等键。
// FinalResult 记录首次登记时的比赛结果快照，重试时必须一致。
type MarketSettlement struct {
	ID              uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	MarketID        string           `gorm:"column:market_id;type:varchar(64);uniqueIndex;not null" json:"marketId"`
	MatchID         string           `gorm:"column:match_id;type:varchar(64);index;not null" json:"matchId"`
	Status          SettlementStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	FinalResult     datatypes.JSON   `gorm:"column:final_result;not null" json:"finalResult"`
	HighestScore    float64          `gorm:"column:highest_score;not null;default:0" json:"highestScore"`
	PrizePool       decimal.Decimal  `gorm:"column:prize_pool;type:numeric(18,6);not null;default:0" json:"prizePool"`
	PrizePerWinner  decimal.Decimal  `gorm:"column:prize_per_winner;type:numeric(18,6);not null;default:0" json:"prizePerWinner"`
	WinnerCount     int              `gorm:"column:winner_count;not null;default:0" json:"winnerCount"`
	PredictionCount int              `gorm:"column:prediction_count;not null;default:0" json:"predictionCount"`
	Error           string           `gorm:"column:error;type:text" json:"error,omitempty"`
	SettledAt       *time.Time       `gorm:"column:settled_at" json:"settledAt,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (MarketSettlement) TableName() string { return "market_settlements" }

// ClaimStatus 领奖状态
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "PENDING"
	ClaimConfirmed ClaimStatus = "CONFIRMED"
	ClaimFailed    ClaimStatus = "FAILED"
)

// PrizeClaim 对应 prize_claims 表，prediction_id 唯一，同时作为派奖幂等键。
// PayoutTxHash 在等待回执之前落库，进程中断后可据此查询而非重复派奖。
type PrizeClaim struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	PredictionID string          `gorm:"column:prediction_id;type:varchar(64);uniqueIndex;not null" json:"predictionId"`
	UserID       string          `gorm:"column:user_id;type:varchar(64);index;not null" json:"userId"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(18,6);not null" json:"amount"`
	Status       ClaimStatus     `gorm:"column:status;type:varchar(16);not null" json:"status"`
	PayoutTxHash string          `gorm:"column:payout_tx_hash;type:varchar(128)" json:"payoutTxHash,omitempty"`
	Attempts     int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LeaseUntil   *time.Time      `gorm:"column:lease_until" json:"-"`
	Error        string          `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (PrizeClaim) TableName() string { return "prize_claims" }

// PaymentEvent 对应 payment_events 表，记录转入收款地址的 USDC 转账。
// 监听器先落库（processed=false），确认下注时回写 prediction_id 与 processed。
type PaymentEvent struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	TxHash       string          `gorm:"column:tx_hash;type:varchar(128);uniqueIndex;not null" json:"txHash"`
	FromWallet   string          `gorm:"column:from_wallet;type:varchar(64);index;not null" json:"fromWallet"`
	ToWallet     string          `gorm:"column:to_wallet;type:varchar(64);not null" json:"toWallet"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(18,6);not null" json:"amount"`
	BlockNumber  *int64          `gorm:"column:block_number" json:"blockNumber,omitempty"`
	EventData    datatypes.JSON  `gorm:"column:event_data" json:"-"`
	Processed    bool            `gorm:"column:processed;not null;default:false" json:"processed"`
	PredictionID *string         `gorm:"column:prediction_id;type:varchar(64)" json:"predictionId,omitempty"`
	ProcessedAt  *time.Time      `gorm:"column:processed_at" json:"processedAt,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
