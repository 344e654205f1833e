package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MatchCounts 比赛计数
type MatchCounts struct {
	Total     int64 `json:"total"`
	Upcoming  int64 `json:"upcoming"`
	Live      int64 `json:"live"`
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
}

// PredictionCounts 下注计数
type PredictionCounts struct {
	Total       int64           `json:"total"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// UserCounts 用户计数
type UserCounts struct {
	Total int64 `json:"total"`
}

// WinningCounts 奖金计数
type WinningCounts struct {
	Total         decimal.Decimal `json:"total"`
	TotalClaims   int64           `json:"totalClaims"`
	PendingClaims decimal.Decimal `json:"pendingClaims"`
}

// StatsView 全局统计的对外结构
type StatsView struct {
	Matches     MatchCounts      `json:"matches"`
	Predictions PredictionCounts `json:"predictions"`
	Users       UserCounts       `json:"users"`
	Winnings    WinningCounts    `json:"winnings"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// StatsDelta 与业务写入同事务提交的统计增量，未设置的字段不写
type StatsDelta struct {
	Matches     MatchCounts
	Predictions PredictionCounts
	Users       UserCounts
	Winnings    WinningCounts
}

func (d StatsDelta) increments() map[string]interface{} {
	inc := make(map[string]interface{})
	addInt := func(col string, v int64) {
		if v != 0 {
			inc[col] = v
		}
	}
	addDec := func(col string, v decimal.Decimal) {
		if !v.IsZero() {
			inc[col] = v
		}
	}
	addInt("matches_total", d.Matches.Total)
	addInt("matches_upcoming", d.Matches.Upcoming)
	addInt("matches_live", d.Matches.Live)
	addInt("matches_completed", d.Matches.Completed)
	addInt("matches_abandoned", d.Matches.Abandoned)
	addInt("predictions_total", d.Predictions.Total)
	addDec("predictions_total_amount", d.Predictions.TotalAmount)
	addInt("users_total", d.Users.Total)
	addDec("winnings_total", d.Winnings.Total)
	addInt("winnings_total_claims", d.Winnings.TotalClaims)
	addDec("winnings_pending_claims", d.Winnings.PendingClaims)
	return inc
}

// ApplyStatsDelta 在调用方事务内对统计做加法更新
func ApplyStatsDelta(ctx context.Context, tx *gorm.DB, d StatsDelta) error {
	if err := repository.NewStatsRepository(tx).Increment(ctx, d.increments()); err != nil {
		return fmt.Errorf("apply stats delta: %w", err)
	}
	return nil
}

func statsView(s *model.Stats) *StatsView {
	return &StatsView{
		Matches: MatchCounts{
			Total:     s.MatchesTotal,
			Upcoming:  s.MatchesUpcoming,
			Live:      s.MatchesLive,
			Completed: s.MatchesCompleted,
			Abandoned: s.MatchesAbandoned,
		},
		Predictions: PredictionCounts{Total: s.PredictionsTotal, TotalAmount: s.PredictionsTotalAmount},
		Users:       UserCounts{Total: s.UsersTotal},
		Winnings: WinningCounts{
			Total:         s.WinningsTotal,
			TotalClaims:   s.WinningsTotalClaims,
			PendingClaims: s.WinningsPendingClaims,
		},
		LastUpdated: s.LastUpdated,
	}
}

// ReconcileReport 对账结果，Drift 为 字段 → "存储值 != 重算值"
type ReconcileReport struct {
	Drift    map[string]string `json:"drift"`
	Repaired bool              `json:"repaired"`
}

// StatsService 全局统计读取与对账
type StatsService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewStatsService 创建 StatsService
func NewStatsService(db *gorm.DB, logger *logrus.Logger, m *metrics.Metrics) *StatsService {
	return &StatsService{db: db, logger: logger, metrics: m}
}

// Get 读取全局统计，尚未建档时返回全零
func (s *StatsService) Get(ctx context.Context) (*StatsView, error) {
	st, err := repository.NewStatsRepository(s.db).Get(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return statsView(&model.Stats{ID: model.StatsID}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return statsView(st), nil
}

// Reconcile 由明细表重算统计并与存储值比较；repair 为 true 时用重算值覆盖。
// matches.abandoned 没有对应的明细状态，保持存储值。
func (s *StatsService) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	report := &ReconcileReport{Drift: make(map[string]string)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		statsRepo := repository.NewStatsRepository(tx)
		if err := statsRepo.Ensure(ctx); err != nil {
			return err
		}
		stored, err := statsRepo.Get(ctx)
		if err != nil {
			return err
		}
		expected, err := s.recompute(ctx, tx, stored)
		if err != nil {
			return err
		}

		compare := func(field string, have, want decimal.Decimal) {
			diff := have.Sub(want).Abs()
			if s.metrics != nil {
				s.metrics.StatsDrift.WithLabelValues(field).Set(diff.InexactFloat64())
			}
			if !diff.IsZero() {
				report.Drift[field] = fmt.Sprintf("%s != %s", have.String(), want.String())
			}
		}
		i := decimal.NewFromInt
		compare("matches.total", i(stored.MatchesTotal), i(expected.MatchesTotal))
		compare("matches.upcoming", i(stored.MatchesUpcoming), i(expected.MatchesUpcoming))
		compare("matches.live", i(stored.MatchesLive), i(expected.MatchesLive))
		compare("matches.completed", i(stored.MatchesCompleted), i(expected.MatchesCompleted))
		compare("predictions.total", i(stored.PredictionsTotal), i(expected.PredictionsTotal))
		compare("predictions.totalAmount", stored.PredictionsTotalAmount, expected.PredictionsTotalAmount)
		compare("users.total", i(stored.UsersTotal), i(expected.UsersTotal))
		compare("winnings.total", stored.WinningsTotal, expected.WinningsTotal)
		compare("winnings.totalClaims", i(stored.WinningsTotalClaims), i(expected.WinningsTotalClaims))
		compare("winnings.pendingClaims", stored.WinningsPendingClaims, expected.WinningsPendingClaims)

		if len(report.Drift) == 0 || !repair {
			return nil
		}
		if err := statsRepo.Overwrite(ctx, expected); err != nil {
			return err
		}
		report.Repaired = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile stats: %w", err)
	}
	if len(report.Drift) > 0 {
		s.logger.WithFields(logrus.Fields{"drift": report.Drift, "repaired": report.Repaired}).Warn("全局统计与明细不一致")
	} else {
		s.logger.Debug("全局统计对账一致")
	}
	return report, nil
}

func (s *StatsService) recompute(ctx context.Context, tx *gorm.DB, stored *model.Stats) (*model.Stats, error) {
	byStatus, err := repository.NewMatchRepository(tx).CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	var matchesTotal int64
	for _, n := range byStatus {
		matchesTotal += n
	}
	predRepo := repository.NewPredictionRepository(tx)
	predTotal, predAmount, err := predRepo.Totals(ctx)
	if err != nil {
		return nil, err
	}
	claimed, claims, pending, err := predRepo.WinningTotals(ctx)
	if err != nil {
		return nil, err
	}
	users, err := repository.NewUserRepository(tx).CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Stats{
		ID:                     model.StatsID,
		MatchesTotal:           matchesTotal,
		MatchesUpcoming:        byStatus[model.MatchStatusUpcoming],
		MatchesLive:            byStatus[model.MatchStatusLocked],
		MatchesCompleted:       byStatus[model.MatchStatusCompleted],
		MatchesAbandoned:       stored.MatchesAbandoned,
		PredictionsTotal:       predTotal,
		PredictionsTotalAmount: predAmount,
		UsersTotal:             users,
		WinningsTotal:          claimed,
		WinningsTotalClaims:    claims,
		WinningsPendingClaims:  pending,
	}, nil
}
