package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PredictionOutcome 结算后写回单条预测的字段
type PredictionOutcome struct {
	PredictionID string
	Points       float64
	IsWinner     bool
	AmountWon    decimal.Decimal
}

// PredictionRepository 预测持久化
type PredictionRepository interface {
	CreatePrediction(ctx context.Context, p *model.Prediction) error
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	GetPredictionForUpdate(ctx context.Context, id string) (*model.Prediction, error)
	ExistsForMarketUser(ctx context.Context, marketID, userID string) (bool, error)
	ListByMarket(ctx context.Context, marketID string) ([]*model.Prediction, error)
	ListByMatch(ctx context.Context, matchID string) ([]*model.Prediction, error)
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.Prediction, int64, error)
	StampOutcomes(ctx context.Context, outcomes []PredictionOutcome) error
	MarkClaimed(ctx context.Context, id string) error
	Totals(ctx context.Context) (count int64, amount decimal.Decimal, err error)
	WinningTotals(ctx context.Context) (claimed decimal.Decimal, claims int64, pending decimal.Decimal, err error)
}

// PredictionIntentRepository 第一阶段下注意向
type PredictionIntentRepository interface {
	ReplaceIntent(ctx context.Context, intent *model.PredictionIntent) error
	GetLiveIntent(ctx context.Context, marketID, userID string, now time.Time) (*model.PredictionIntent, error)
	ConsumeIntent(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type predictionRepository struct {
	db *gorm.DB
}

// NewPredictionRepository 创建预测仓储
func NewPredictionRepository(db *gorm.DB) PredictionRepository {
	return &predictionRepository{db: db}
}

// NewPredictionIntentRepository 创建下注意向仓储
func NewPredictionIntentRepository(db *gorm.DB) PredictionIntentRepository {
	return &predictionRepository{db: db}
}

func (r *predictionRepository) CreatePrediction(ctx context.Context, p *model.Prediction) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *predictionRepository) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	var p model.Prediction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *predictionRepository) GetPredictionForUpdate(ctx context.Context, id string) (*model.Prediction, error) {
	var p model.Prediction
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *predictionRepository) ExistsForMarketUser(ctx context.Context, marketID, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Prediction{}).
		Where("market_id = ? AND user_id = ?", marketID, userID).Count(&n).Error
	return n > 0, err
}

func (r *predictionRepository) ListByMarket(ctx context.Context, marketID string) ([]*model.Prediction, error) {
	var list []*model.Prediction
	err := r.db.WithContext(ctx).Where("market_id = ?", marketID).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *predictionRepository) ListByMatch(ctx context.Context, matchID string) ([]*model.Prediction, error) {
	var list []*model.Prediction
	err := r.db.WithContext(ctx).Where("match_id = ?", matchID).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *predictionRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.Prediction, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&model.Prediction{}).Where("user_id = ?", userID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.Prediction
	err := db.Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

// StampOutcomes 写回一批结算结果；同一结果重复写入结果不变
func (r *predictionRepository) StampOutcomes(ctx context.Context, outcomes []PredictionOutcome) error {
	now := time.Now()
	for _, o := range outcomes {
		res := r.db.WithContext(ctx).Model(&model.Prediction{}).
			Where("id = ?", o.PredictionID).
			Updates(map[string]interface{}{
				"points_earned": o.Points,
				"is_winner":     o.IsWinner,
				"amount_won":    o.AmountWon,
				"has_claimed":   false,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// MarkClaimed 条件更新：仅赢家且未领取时置为已领取
func (r *predictionRepository) MarkClaimed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.Prediction{}).
		Where("id = ? AND is_winner = ? AND has_claimed = ?", id, true, false).
		Updates(map[string]interface{}{"has_claimed": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *predictionRepository) Totals(ctx context.Context) (int64, decimal.Decimal, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Prediction{}).Count(&count).Error; err != nil {
		return 0, decimal.Zero, err
	}
	amount, err := sumColumn(ctx, r.db, "amount", "1 = 1")
	return count, amount, err
}

// WinningTotals 已领取金额、已领取笔数、待领取金额
func (r *predictionRepository) WinningTotals(ctx context.Context) (decimal.Decimal, int64, decimal.Decimal, error) {
	claimed, err := sumColumn(ctx, r.db, "amount_won", "is_winner = ? AND has_claimed = ?", true, true)
	if err != nil {
		return decimal.Zero, 0, decimal.Zero, err
	}
	var claims int64
	if err := r.db.WithContext(ctx).Model(&model.Prediction{}).
		Where("is_winner = ? AND has_claimed = ?", true, true).Count(&claims).Error; err != nil {
		return decimal.Zero, 0, decimal.Zero, err
	}
	pending, err := sumColumn(ctx, r.db, "amount_won", "is_winner = ? AND has_claimed = ?", true, false)
	return claimed, claims, pending, err
}

func sumColumn(ctx context.Context, db *gorm.DB, column, where string, args ...interface{}) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := db.WithContext(ctx).Model(&model.Prediction{}).
		Select("SUM("+column+")").Where(where, args...).Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// ReplaceIntent 同一用户同一市场只保留最新一条未消费意向
func (r *predictionRepository) ReplaceIntent(ctx context.Context, intent *model.PredictionIntent) error {
	err := r.db.WithContext(ctx).
		Where("market_id = ? AND user_id = ? AND consumed = ?", intent.MarketID, intent.UserID, false).
		Delete(&model.PredictionIntent{}).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *predictionRepository) GetLiveIntent(ctx context.Context, marketID, userID string, now time.Time) (*model.PredictionIntent, error) {
	var intent model.PredictionIntent
	err := r.db.WithContext(ctx).
		Where("market_id = ? AND user_id = ? AND consumed = ? AND expires_at > ?", marketID, userID, false, now).
		Order("created_at DESC").First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *predictionRepository) ConsumeIntent(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&model.PredictionIntent{}).
		Where("id = ? AND consumed = ?", id, false).
		Update("consumed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *predictionRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("consumed = ? AND expires_at <= ?", false, before).
		Delete(&model.PredictionIntent{})
	return res.RowsAffected, res.Error
}
