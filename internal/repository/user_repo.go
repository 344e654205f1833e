package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserDelta 用户聚合字段的增量
type UserDelta struct {
	Predictions int64
	Wins        int64
	AmountWon   decimal.Decimal
	Points      float64
}

// IsZero 无需写库
func (d UserDelta) IsZero() bool {
	return d.Predictions == 0 && d.Wins == 0 && d.AmountWon.IsZero() && d.Points == 0
}

// UserRepository 用户持久化
type UserRepository interface {
	EnsureUser(ctx context.Context, wallet string) (created bool, err error)
	GetUser(ctx context.Context, wallet string) (*model.User, error)
	ApplyDelta(ctx context.Context, wallet string, d UserDelta) error
	CountUsers(ctx context.Context) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// EnsureUser 不存在则创建；created 表示本次新建
func (r *userRepository) EnsureUser(ctx context.Context, wallet string) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&model.User{WalletAddress: wallet})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userRepository) GetUser(ctx context.Context, wallet string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ApplyDelta 对聚合字段做加法更新；用户不存在返回 gorm.ErrRecordNotFound
func (r *userRepository) ApplyDelta(ctx context.Context, wallet string, d UserDelta) error {
	if d.IsZero() {
		return nil
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if d.Predictions != 0 {
		updates["total_predictions"] = gorm.Expr("total_predictions + ?", d.Predictions)
	}
	if d.Wins != 0 {
		updates["total_wins"] = gorm.Expr("total_wins + ?", d.Wins)
	}
	if !d.AmountWon.IsZero() {
		updates["total_amount_won"] = gorm.Expr("total_amount_won + ?", d.AmountWon)
	}
	if d.Points != 0 {
		updates["total_points"] = gorm.Expr("total_points + ?", d.Points)
	}
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("wallet_address = ?", wallet).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error
	return n, err
}
