package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEventRepository 入账转账记录
type PaymentEventRepository interface {
	SavePaymentEvent(ctx context.Context, ev *model.PaymentEvent) error
	GetByTxHash(ctx context.Context, txHash string) (*model.PaymentEvent, error)
	MarkProcessed(ctx context.Context, txHash, predictionID string) error
	ListUnprocessed(ctx context.Context, limit int) ([]*model.PaymentEvent, error)
}

type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository 创建入账记录仓储
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

// SavePaymentEvent 幂等：tx_hash 已存在时忽略
func (r *paymentEventRepository) SavePaymentEvent(ctx context.Context, ev *model.PaymentEvent) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(ev).Error
}

func (r *paymentEventRepository) GetByTxHash(ctx context.Context, txHash string) (*model.PaymentEvent, error) {
	var ev model.PaymentEvent
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// MarkProcessed 条件更新：一笔转账只能对应一条预测
func (r *paymentEventRepository) MarkProcessed(ctx context.Context, txHash, predictionID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.PaymentEvent{}).
		Where("tx_hash = ? AND processed = ?", txHash, false).
		Updates(map[string]interface{}{
			"processed":     true,
			"prediction_id": predictionID,
			"processed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *paymentEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]*model.PaymentEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []*model.PaymentEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id ASC").Limit(limit).Find(&list).Error
	return list, err
}
