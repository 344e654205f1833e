package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsRepository 全局统计单行
type StatsRepository interface {
	Ensure(ctx context.Context) error
	Get(ctx context.Context) (*model.Stats, error)
	Increment(ctx context.Context, increments map[string]interface{}) error
	Overwrite(ctx context.Context, s *model.Stats) error
}

type statsRepository struct {
	db *gorm.DB
}

// NewStatsRepository 创建统计仓储
func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

// Ensure 单行不存在则创建
func (r *statsRepository) Ensure(ctx context.Context) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model.Stats{ID: model.StatsID, LastUpdated: time.Now()}).Error
}

func (r *statsRepository) Get(ctx context.Context) (*model.Stats, error) {
	var s model.Stats
	if err := r.db.WithContext(ctx).Where("id = ?", model.StatsID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Increment 列 = 列 + 增量，多个并发事务互不覆盖
func (r *statsRepository) Increment(ctx context.Context, increments map[string]interface{}) error {
	if len(increments) == 0 {
		return nil
	}
	if err := r.Ensure(ctx); err != nil {
		return err
	}
	updates := make(map[string]interface{}, len(increments)+1)
	for col, v := range increments {
		updates[col] = gorm.Expr(col+" + ?", v)
	}
	updates["last_updated"] = time.Now()
	return r.db.WithContext(ctx).Model(&model.Stats{}).Where("id = ?", model.StatsID).Updates(updates).Error
}

// Overwrite 对账修复时整行覆盖
func (r *statsRepository) Overwrite(ctx context.Context, s *model.Stats) error {
	s.ID = model.StatsID
	s.LastUpdated = time.Now()
	return r.db.WithContext(ctx).Save(s).Error
}
