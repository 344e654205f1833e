package repository

import (
	"context"
	"time"

	"StrikeRate/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchFilter 比赛列表筛选
type MatchFilter struct {
	Status model.MatchStatus
}

// MatchRepository 比赛与市场持久化
type MatchRepository interface {
	CreateMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	GetMatchForUpdate(ctx context.Context, id string) (*model.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter, page, pageSize int) ([]*model.Match, int64, error)
	TransitionStatus(ctx context.Context, id string, from, to model.MatchStatus) error
	CompleteMatch(ctx context.Context, id string, final model.FinalScore) error
	AddToPool(ctx context.Context, id string, amount decimal.Decimal) error
	CountByStatus(ctx context.Context) (map[model.MatchStatus]int64, error)

	CreateMarket(ctx context.Context, mk *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error)
	GetDefaultMarket(ctx context.Context, matchID string) (*model.Market, error)
	ListMarketsByMatch(ctx context.Context, matchID string) ([]*model.Market, error)
	ListMarketsByMatches(ctx context.Context, matchIDs []string) ([]*model.Market, error)
	AddToMarketPool(ctx context.Context, id string, amount decimal.Decimal) error
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository 创建比赛仓储。db 可以是事务句柄
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

// forUpdate 在支持的方言上追加行锁
func forUpdate(db *gorm.DB) *gorm.DB {
	if lockingDialects[db.Dialector.Name()] {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (r *matchRepository) CreateMatch(ctx context.Context, m *model.Match) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *matchRepository) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	var m model.Match
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *matchRepository) GetMatchForUpdate(ctx context.Context, id string) (*model.Match, error) {
	var m model.Match
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *matchRepository) ListMatches(ctx context.Context, filter MatchFilter, page, pageSize int) ([]*model.Match, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&model.Match{})
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.Match
	err := db.Order("match_time ASC, id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error
	return list, total, err
}

// TransitionStatus 条件更新：仅当当前状态为 from 时改为 to
func (r *matchRepository) TransitionStatus(ctx context.Context, id string, from, to model.MatchStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// CompleteMatch LOCKED → COMPLETED 并写入比赛结果
func (r *matchRepository) CompleteMatch(ctx context.Context, id string, final model.FinalScore) error {
	res := r.db.WithContext(ctx).Model(&model.Match{}).
		Where("id = ? AND status = ?", id, model.MatchStatusLocked).
		Updates(map[string]interface{}{
			"status":        model.MatchStatusCompleted,
			"team1_score":   final.Team1Score,
			"team1_wickets": final.Team1Wickets,
			"team2_score":   final.Team2Score,
			"team2_wickets": final.Team2Wickets,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *matchRepository) AddToPool(ctx context.Context, id string, amount decimal.Decimal) error {
	return addToPool(ctx, r.db, &model.Match{}, id, amount)
}

func (r *matchRepository) CountByStatus(ctx context.Context) (map[model.MatchStatus]int64, error) {
	var rows []struct {
		Status model.MatchStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&model.Match{}).
		Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.MatchStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *matchRepository) CreateMarket(ctx context.Context, mk *model.Market) error {
	return r.db.WithContext(ctx).Create(mk).Error
}

func (r *matchRepository) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var mk model.Market
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&mk).Error; err != nil {
		return nil, err
	}
	return &mk, nil
}

func (r *matchRepository) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	var mk model.Market
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&mk).Error; err != nil {
		return nil, err
	}
	return &mk, nil
}

// GetDefaultMarket 比赛创建时自动生成的 SCORE 市场
func (r *matchRepository) GetDefaultMarket(ctx context.Context, matchID string) (*model.Market, error) {
	var mk model.Market
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND market_type = ?", matchID, model.MarketTypeScore).
		Order("created_at ASC, id ASC").First(&mk).Error
	if err != nil {
		return nil, err
	}
	return &mk, nil
}

func (r *matchRepository) ListMarketsByMatch(ctx context.Context, matchID string) ([]*model.Market, error) {
	var list []*model.Market
	err := r.db.WithContext(ctx).Where("match_id = ?", matchID).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *matchRepository) ListMarketsByMatches(ctx context.Context, matchIDs []string) ([]*model.Market, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}
	var list []*model.Market
	err := r.db.WithContext(ctx).Where("match_id IN ?", matchIDs).Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *matchRepository) AddToMarketPool(ctx context.Context, id string, amount decimal.Decimal) error {
	return addToPool(ctx, r.db, &model.Market{}, id, amount)
}

// addToPool 奖池与下注数的增量更新（match、market 共用）
func addToPool(ctx context.Context, db *gorm.DB, m interface{}, id string, amount decimal.Decimal) error {
	res := db.WithContext(ctx).Model(m).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_pool":        gorm.Expr("total_pool + ?", amount),
			"total_predictions": gorm.Expr("total_predictions + ?", 1),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
