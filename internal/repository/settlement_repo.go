package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SettlementSummary 市场结算完成时落库的汇总
type SettlementSummary struct {
	HighestScore    float64
	PrizePool       decimal.Decimal
	PrizePerWinner  decimal.Decimal
	WinnerCount     int
	PredictionCount int
}

// SettlementRepository 市场结算记录
type SettlementRepository interface {
	CreateSettlement(ctx context.Context, s *model.MarketSettlement) error
	GetByMarket(ctx context.Context, marketID string) (*model.MarketSettlement, error)
	ListByMatch(ctx context.Context, matchID string) ([]*model.MarketSettlement, error)
	ResetToPending(ctx context.Context, marketID string) error
	MarkSettled(ctx context.Context, marketID string, sum SettlementSummary) error
	MarkFailed(ctx context.Context, marketID, reason string) error
}

// ClaimRepository 领奖记录
type ClaimRepository interface {
	CreateClaim(ctx context.Context, c *model.PrizeClaim) error
	GetClaim(ctx context.Context, predictionID string) (*model.PrizeClaim, error)
	StartAttempt(ctx context.Context, predictionID string, leaseUntil time.Time) error
	SetPayoutTx(ctx context.Context, predictionID, txHash string) error
	MarkClaimConfirmed(ctx context.Context, predictionID, txHash string) error
	MarkClaimFailed(ctx context.Context, predictionID, reason string) error
}

type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository 创建结算仓储
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

// NewClaimRepository 创建领奖仓储
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) CreateSettlement(ctx context.Context, s *model.MarketSettlement) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *settlementRepository) GetByMarket(ctx context.Context, marketID string) (*model.MarketSettlement, error) {
	var s model.MarketSettlement
	if err := r.db.WithContext(ctx).Where("market_id = ?", marketID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settlementRepository) ListByMatch(ctx context.Context, matchID string) ([]*model.MarketSettlement, error) {
	var list []*model.MarketSettlement
	err := r.db.WithContext(ctx).Where("match_id = ?", matchID).Order("id ASC").Find(&list).Error
	return list, err
}

// ResetToPending FAILED 的市场在重试时重新登记
func (r *settlementRepository) ResetToPending(ctx context.Context, marketID string) error {
	return r.db.WithContext(ctx).Model(&model.MarketSettlement{}).
		Where("market_id = ? AND status = ?", marketID, model.SettlementFailed).
		Updates(map[string]interface{}{
			"status":     model.SettlementPending,
			"error":      "",
			"updated_at": time.Now(),
		}).Error
}

// MarkSettled 条件更新：已 SETTLED 的记录不会被覆盖
func (r *settlementRepository) MarkSettled(ctx context.Context, marketID string, sum SettlementSummary) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.MarketSettlement{}).
		Where("market_id = ? AND status <> ?", marketID, model.SettlementSettled).
		Updates(map[string]interface{}{
			"status":           model.SettlementSettled,
			"highest_score":    sum.HighestScore,
			"prize_pool":       sum.PrizePool,
			"prize_per_winner": sum.PrizePerWinner,
			"winner_count":     sum.WinnerCount,
			"prediction_count": sum.PredictionCount,
			"error":            "",
			"settled_at":       now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *settlementRepository) MarkFailed(ctx context.Context, marketID, reason string) error {
	return r.db.WithContext(ctx).Model(&model.MarketSettlement{}).
		Where("market_id = ? AND status <> ?", marketID, model.SettlementSettled).
		Updates(map[string]interface{}{
			"status":     model.SettlementFailed,
			"error":      reason,
			"updated_at": time.Now(),
		}).Error
}

func (r *settlementRepository) CreateClaim(ctx context.Context, c *model.PrizeClaim) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *settlementRepository) GetClaim(ctx context.Context, predictionID string) (*model.PrizeClaim, error) {
	var c model.PrizeClaim
	if err := r.db.WithContext(ctx).Where("prediction_id = ?", predictionID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// StartAttempt 进入 PENDING 并占用到 leaseUntil，已确认的记录不受影响
func (r *settlementRepository) StartAttempt(ctx context.Context, predictionID string, leaseUntil time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.PrizeClaim{}).
		Where("prediction_id = ? AND status <> ?", predictionID, model.ClaimConfirmed).
		Updates(map[string]interface{}{
			"status":      model.ClaimPending,
			"attempts":    gorm.Expr("attempts + ?", 1),
			"lease_until": leaseUntil,
			"error":       "",
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *settlementRepository) SetPayoutTx(ctx context.Context, predictionID, txHash string) error {
	return r.db.WithContext(ctx).Model(&model.PrizeClaim{}).
		Where("prediction_id = ?", predictionID).
		Updates(map[string]interface{}{"payout_tx_hash": txHash, "updated_at": time.Now()}).Error
}

func (r *settlementRepository) MarkClaimConfirmed(ctx context.Context, predictionID, txHash string) error {
	return r.db.WithContext(ctx).Model(&model.PrizeClaim{}).
		Where("prediction_id = ?", predictionID).
		Updates(map[string]interface{}{
			"status":         model.ClaimConfirmed,
			"payout_tx_hash": txHash,
			"lease_until":    nil,
			"error":          "",
			"updated_at":     time.Now(),
		}).Error
}

func (r *settlementRepository) MarkClaimFailed(ctx context.Context, predictionID, reason string) error {
	return r.db.WithContext(ctx).Model(&model.PrizeClaim{}).
		Where("prediction_id = ? AND status <> ?", predictionID, model.ClaimConfirmed).
		Updates(map[string]interface{}{
			"status":      model.ClaimFailed,
			"lease_until": nil,
			"error":       reason,
			"updated_at":  time.Now(),
		}).Error
}
