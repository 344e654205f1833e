package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"
	"StrikeRate/internal/scoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// allowedTransitions 唯一合法的状态迁移：不跳步、不回退
var allowedTransitions = map[model.MatchStatus]model.MatchStatus{
	model.MatchStatusUpcoming: model.MatchStatusLocked,
	model.MatchStatusLocked:   model.MatchStatusCompleted,
}

// CanTransition from → to 是否合法
func CanTransition(from, to model.MatchStatus) bool {
	next, ok := allowedTransitions[from]
	return ok && next == to
}

// requireStatus 当前状态不符时返回 ErrStateConflict
func requireStatus(m *model.Match, want model.MatchStatus) error {
	if m.Status != want {
		return fmt.Errorf("match %s is %s, expected %s: %w", m.ID, m.Status, want, ErrStateConflict)
	}
	return nil
}

// CreateMatchRequest 创建比赛
type CreateMatchRequest struct {
	Team1     string
	Team2     string
	MatchType model.MatchType
	Stadium   string
	MatchTime string // RFC3339，原样参与签名
	Signed    SignedFields
}

// CreateMarketRequest 为比赛追加市场
type CreateMarketRequest struct {
	MatchID    string
	MarketType model.MarketType
	Signed     SignedFields
}

// LockMatchRequest 锁盘
type LockMatchRequest struct {
	MatchID string
	Signed  SignedFields
}

// MatchDetail 比赛详情（含结果与市场）
type MatchDetail struct {
	*model.Match
	FinalScore *model.FinalScore `json:"finalScore,omitempty"`
	Markets    []*model.Market   `json:"markets"`
}

// MatchService 比赛生命周期：创建、加市场、锁盘与查询
type MatchService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	verifier *auth.Verifier
	scorers  *scoring.Registry
	metrics  *metrics.Metrics
}

// NewMatchService 创建 MatchService
func NewMatchService(db *gorm.DB, logger *logrus.Logger, verifier *auth.Verifier, scorers *scoring.Registry, m *metrics.Metrics) *MatchService {
	return &MatchService{db: db, logger: logger, verifier: verifier, scorers: scorers, metrics: m}
}

// CreateMatch 管理员创建比赛，同时生成默认 SCORE 市场
func (s *MatchService) CreateMatch(ctx context.Context, req CreateMatchRequest) (*MatchDetail, error) {
	team1, team2 := strings.TrimSpace(req.Team1), strings.TrimSpace(req.Team2)
	if team1 == "" || team2 == "" || strings.EqualFold(team1, team2) {
		return nil, fmt.Errorf("two distinct team names are required: %w", ErrInvalidInput)
	}
	if req.MatchType != model.MatchTypeT20 && req.MatchType != model.MatchTypeODI {
		return nil, fmt.Errorf("unsupported match type %q: %w", req.MatchType, ErrInvalidInput)
	}
	matchTime, err := time.Parse(time.RFC3339, req.MatchTime)
	if err != nil {
		return nil, fmt.Errorf("matchTime must be RFC3339: %w", ErrInvalidInput)
	}

	match := &model.Match{
		ID:         uuid.NewString(),
		Team1:      team1,
		Team2:      team2,
		MatchType:  req.MatchType,
		MatchSport: model.MatchSportCricket,
		MatchTime:  matchTime.UTC(),
		Stadium:    strings.TrimSpace(req.Stadium),
		Status:     model.MatchStatusUpcoming,
		TotalPool:  decimal.Zero,
	}
	market := &model.Market{
		ID:         uuid.NewString(),
		MatchID:    match.ID,
		MarketType: model.MarketTypeScore,
		MatchSport: model.MatchSportCricket,
		TotalPool:  decimal.Zero,
	}
	params := auth.Params{
		Team1:     req.Team1,
		Team2:     req.Team2,
		MatchType: string(req.MatchType),
		Stadium:   req.Stadium,
		MatchTime: req.MatchTime,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.verify(ctx, tx, req.Signed.action(auth.ActionCreateMatch, params)); err != nil {
			return err
		}
		matches := repository.NewMatchRepository(tx)
		if err := matches.CreateMatch(ctx, match); err != nil {
			return fmt.Errorf("create match: %w", err)
		}
		if err := matches.CreateMarket(ctx, market); err != nil {
			return fmt.Errorf("create default market: %w", err)
		}
		return ApplyStatsDelta(ctx, tx, StatsDelta{Matches: MatchCounts{Total: 1, Upcoming: 1}})
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"match_id": match.ID, "teams": team1 + " vs " + team2}).Info("比赛已创建")
	return &MatchDetail{Match: match, Markets: []*model.Market{market}}, nil
}

// CreateMarket 管理员为未开赛的比赛追加市场
func (s *MatchService) CreateMarket(ctx context.Context, req CreateMarketRequest) (*model.Market, error) {
	if _, ok := s.scorers.Get(req.MarketType); !ok {
		return nil, fmt.Errorf("unsupported market type %q: %w", req.MarketType, ErrInvalidInput)
	}
	market := &model.Market{
		ID:         uuid.NewString(),
		MatchID:    req.MatchID,
		MarketType: req.MarketType,
		TotalPool:  decimal.Zero,
	}
	params := auth.Params{MatchID: req.MatchID, MarketType: string(req.MarketType)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.verify(ctx, tx, req.Signed.action(auth.ActionCreateMarket, params)); err != nil {
			return err
		}
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatchForUpdate(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusUpcoming); err != nil {
			return err
		}
		market.MatchSport = m.MatchSport
		return matches.CreateMarket(ctx, market)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"match_id": req.MatchID, "market_id": market.ID, "market_type": market.MarketType}).Info("市场已创建")
	return market, nil
}

// LockMatch UPCOMING → LOCKED，状态检查与写入在同一事务内并持有行锁
func (s *MatchService) LockMatch(ctx context.Context, req LockMatchRequest) error {
	params := auth.Params{MatchID: req.MatchID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.verify(ctx, tx, req.Signed.action(auth.ActionLockMatch, params)); err != nil {
			return err
		}
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatchForUpdate(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if !CanTransition(m.Status, model.MatchStatusLocked) {
			return fmt.Errorf("match %s is %s, cannot lock: %w", m.ID, m.Status, ErrStateConflict)
		}
		if err := matches.TransitionStatus(ctx, m.ID, model.MatchStatusUpcoming, model.MatchStatusLocked); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return fmt.Errorf("match %s changed concurrently: %w", m.ID, ErrStateConflict)
			}
			return err
		}
		return ApplyStatsDelta(ctx, tx, StatsDelta{Matches: MatchCounts{Upcoming: -1, Live: 1}})
	})
	if err != nil {
		return err
	}
	s.logger.WithField("match_id", req.MatchID).Info("比赛已锁盘")
	return nil
}

// GetMatch 比赛详情
func (s *MatchService) GetMatch(ctx context.Context, id string) (*MatchDetail, error) {
	matches := repository.NewMatchRepository(s.db)
	m, err := matches.GetMatch(ctx, id)
	if err != nil {
		return nil, notFound(err, "match")
	}
	markets, err := matches.ListMarketsByMatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return &MatchDetail{Match: m, FinalScore: m.FinalScore(), Markets: markets}, nil
}

// ListMatches 比赛列表，status 为空表示全部
func (s *MatchService) ListMatches(ctx context.Context, status model.MatchStatus, page, pageSize int) ([]*MatchDetail, int64, error) {
	matches := repository.NewMatchRepository(s.db)
	list, total, err := matches.ListMatches(ctx, repository.MatchFilter{Status: status}, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list matches: %w", err)
	}
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	markets, err := matches.ListMarketsByMatches(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}
	byMatch := make(map[string][]*model.Market, len(list))
	for _, mk := range markets {
		byMatch[mk.MatchID] = append(byMatch[mk.MatchID], mk)
	}
	out := make([]*MatchDetail, 0, len(list))
	for _, m := range list {
		out = append(out, &MatchDetail{Match: m, FinalScore: m.FinalScore(), Markets: byMatch[m.ID]})
	}
	return out, total, nil
}

// verify 校验签名并记录指标
func (s *MatchService) verify(ctx context.Context, tx *gorm.DB, sa auth.SignedAction) error {
	return verifyAction(ctx, tx, s.verifier, s.metrics, sa)
}

func verifyAction(ctx context.Context, tx *gorm.DB, v *auth.Verifier, m *metrics.Metrics, sa auth.SignedAction) error {
	err := v.Verify(ctx, tx, sa)
	if m != nil {
		result := "ok"
		switch {
		case errors.Is(err, ErrStaleNonce):
			result = "stale_nonce"
		case errors.Is(err, ErrBadSignature):
			result = "bad_signature"
		case errors.Is(err, ErrUnauthorized):
			result = "unauthorized"
		case err != nil:
			result = "error"
		}
		m.SignedAction(string(sa.Action), result)
	}
	return err
}
