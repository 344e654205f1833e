package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NonceRepository 签名 nonce 持久化
type NonceRepository interface {
	Get(ctx context.Context, wallet string) (*model.NonceRecord, error)
	GetForUpdate(ctx context.Context, wallet string) (*model.NonceRecord, error)
	EnsureNonce(ctx context.Context, wallet, activity string) (*model.NonceRecord, error)
	Advance(ctx context.Context, wallet string, expected int64, activity string) error
}

type nonceRepository struct {
	db *gorm.DB
}

// NewNonceRepository 创建 nonce 仓储
func NewNonceRepository(db *gorm.DB) NonceRepository {
	return &nonceRepository{db: db}
}

func (r *nonceRepository) Get(ctx context.Context, wallet string) (*model.NonceRecord, error) {
	var rec model.NonceRecord
	if err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *nonceRepository) GetForUpdate(ctx context.Context, wallet string) (*model.NonceRecord, error) {
	var rec model.NonceRecord
	if err := forUpdate(r.db.WithContext(ctx)).Where("wallet_address = ?", wallet).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// EnsureNonce 不存在则以 0 创建，返回当前记录
func (r *nonceRepository) EnsureNonce(ctx context.Context, wallet, activity string) (*model.NonceRecord, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&model.NonceRecord{
		WalletAddress: wallet,
		Nonce:         0,
		LastActivity:  activity,
		LastUpdated:   time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, wallet)
}

// Advance 条件自增：仅当当前值等于 expected 时 +1
func (r *nonceRepository) Advance(ctx context.Context, wallet string, expected int64, activity string) error {
	res := r.db.WithContext(ctx).Model(&model.NonceRecord{}).
		Where("wallet_address = ? AND nonce = ?", wallet, expected).
		Updates(map[string]interface{}{
			"nonce":         gorm.Expr("nonce + ?", 1),
			"last_activity": activity,
			"last_updated":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
