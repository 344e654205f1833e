package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"
	"StrikeRate/internal/scoring"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// usdcPlaces 金额保留到稳定币最小单位
const usdcPlaces = 6

// CompleteRequest 完赛结算请求
type CompleteRequest struct {
	MatchID string
	Final   model.FinalScore
	Signed  SignedFields
}

// MarketResult 单个市场的结算结果
type MarketResult struct {
	MarketID        string                 `json:"marketId"`
	MarketType      model.MarketType       `json:"marketType"`
	Status          model.SettlementStatus `json:"status"`
	PredictionCount int                    `json:"predictionCount"`
	WinnerCount     int                    `json:"winnerCount"`
	HighestScore    float64                `json:"highestScore"`
	PrizePool       decimal.Decimal        `json:"prizePool"`
	PrizePerWinner  decimal.Decimal        `json:"prizePerWinner"`
	Error           string                 `json:"error,omitempty"`
}

// CompleteResult 完赛结果；WinnerCount 与 PrizePool 为所有市场之和，
// HighestScore 与 PrizePerWinner 取默认 SCORE 市场
type CompleteResult struct {
	MatchID        string          `json:"matchId"`
	WinnerCount    int             `json:"winnerCount"`
	PrizePool      decimal.Decimal `json:"prizePool"`
	PrizePerWinner decimal.Decimal `json:"prizePerWinner"`
	HighestScore   float64         `json:"highestScore"`
	Markets        []MarketResult  `json:"markets"`
}

// SettlementService 完赛结算：逐市场打分、选出赢家、分配奖池，全部市场结算后才置为 COMPLETED
type SettlementService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	verifier   *auth.Verifier
	scorers    *scoring.Registry
	metrics    *metrics.Metrics
	batchSize  int
	prizeShare decimal.Decimal
}

// NewSettlementService 创建 SettlementService。prizeShare 为奖池占比（如 0.9）
func NewSettlementService(db *gorm.DB, logger *logrus.Logger, verifier *auth.Verifier, scorers *scoring.Registry, m *metrics.Metrics, batchSize int, prizeShare decimal.Decimal) *SettlementService {
	if batchSize <= 0 {
		batchSize = 400
	}
	return &SettlementService{
		db:         db,
		logger:     logger,
		verifier:   verifier,
		scorers:    scorers,
		metrics:    m,
		batchSize:  batchSize,
		prizeShare: prizeShare,
	}
}

// Complete 完赛并结算。
//  1. 校验签名并消费 nonce，锁定比赛行，要求 LOCKED，为每个市场登记 PENDING 结算记录
//  2. 每个市场单独一个事务结算，已 SETTLED 的跳过；失败的标记 FAILED，其余市场继续
//  3. 全部市场 SETTLED 后置为 COMPLETED；否则返回 ErrSettlementIncomplete，比赛保持 LOCKED 可重试
func (s *SettlementService) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if !req.Final.Valid() {
		return nil, fmt.Errorf("runs must be >= 0 and wickets within 0..%d: %w", model.MaxWickets, ErrInvalidInput)
	}
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveSettlement(start)
	}
	snapshot, err := json.Marshal(req.Final)
	if err != nil {
		return nil, err
	}
	params := auth.Params{
		MatchID:      req.MatchID,
		Team1Score:   req.Final.Team1Score,
		Team1Wickets: req.Final.Team1Wickets,
		Team2Score:   req.Final.Team2Score,
		Team2Wickets: req.Final.Team2Wickets,
	}

	var markets []*model.Market
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := verifyAction(ctx, tx, s.verifier, s.metrics, req.Signed.action(auth.ActionCompleteMatch, params)); err != nil {
			return err
		}
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatchForUpdate(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusLocked); err != nil {
			return err
		}
		if markets, err = matches.ListMarketsByMatch(ctx, m.ID); err != nil {
			return fmt.Errorf("list markets: %w", err)
		}
		return s.registerSettlements(ctx, tx, m.ID, markets, req.Final, snapshot)
	})
	if err != nil {
		return nil, err
	}

	result := &CompleteResult{MatchID: req.MatchID, PrizePool: decimal.Zero, PrizePerWinner: decimal.Zero}
	incomplete := false
	for _, mk := range markets {
		res, err := s.settleMarket(ctx, mk, req.Final)
		if err != nil {
			incomplete = true
			s.logger.WithError(err).WithFields(logrus.Fields{"match_id": req.MatchID, "market_id": mk.ID}).Error("市场结算失败")
			if ferr := repository.NewSettlementRepository(s.db).MarkFailed(ctx, mk.ID, err.Error()); ferr != nil {
				s.logger.WithError(ferr).WithField("market_id", mk.ID).Error("记录市场结算失败状态失败")
			}
			res = MarketResult{
				MarketID:       mk.ID,
				MarketType:     mk.MarketType,
				Status:         model.SettlementFailed,
				PrizePool:      decimal.Zero,
				PrizePerWinner: decimal.Zero,
				Error:          "market settlement failed",
			}
			s.countMarket("failed")
		}
		result.Markets = append(result.Markets, res)
	}
	result.summarize()
	if incomplete {
		return result, fmt.Errorf("match %s left LOCKED: %w", req.MatchID, ErrSettlementIncomplete)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatchForUpdate(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusLocked); err != nil {
			return err
		}
		if err := matches.CompleteMatch(ctx, m.ID, req.Final); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return fmt.Errorf("match %s changed concurrently: %w", m.ID, ErrStateConflict)
			}
			return err
		}
		return ApplyStatsDelta(ctx, tx, StatsDelta{Matches: MatchCounts{Live: -1, Completed: 1}})
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"match_id":     req.MatchID,
		"markets":      len(markets),
		"winner_count": result.WinnerCount,
		"prize_pool":   result.PrizePool.String(),
		"elapsed":      time.Since(start).String(),
	}).Info("比赛结算完成")
	return result, nil
}

// registerSettlements 为每个市场登记 PENDING 记录；已有记录的结果快照必须一致
func (s *SettlementService) registerSettlements(ctx context.Context, tx *gorm.DB, matchID string, markets []*model.Market, final model.FinalScore, snapshot []byte) error {
	settlements := repository.NewSettlementRepository(tx)
	for _, mk := range markets {
		existing, err := settlements.GetByMarket(ctx, mk.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = settlements.CreateSettlement(ctx, &model.MarketSettlement{
				MarketID:       mk.ID,
				MatchID:        matchID,
				Status:         model.SettlementPending,
				FinalResult:    datatypes.JSON(snapshot),
				PrizePool:      decimal.Zero,
				PrizePerWinner: decimal.Zero,
			})
			if err != nil {
				return fmt.Errorf("register settlement for market %s: %w", mk.ID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("load settlement for market %s: %w", mk.ID, err)
		}
		var recorded model.FinalScore
		if err := json.Unmarshal(existing.FinalResult, &recorded); err != nil {
			return fmt.Errorf("decode settlement snapshot for market %s: %w", mk.ID, err)
		}
		if recorded != final {
			return fmt.Errorf("market %s is being settled with a different result: %w", mk.ID, ErrStateConflict)
		}
		if existing.Status == model.SettlementFailed {
			if err := settlements.ResetToPending(ctx, mk.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// settleMarket 单个市场在一个事务内结算：锁市场行，已 SETTLED 则直接返回记录
func (s *SettlementService) settleMarket(ctx context.Context, mk *model.Market, final model.FinalScore) (MarketResult, error) {
	var res MarketResult
	scored := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		market, err := repository.NewMatchRepository(tx).GetMarketForUpdate(ctx, mk.ID)
		if err != nil {
			return notFound(err, "market")
		}
		settlements := repository.NewSettlementRepository(tx)
		rec, err := settlements.GetByMarket(ctx, market.ID)
		if err != nil {
			return notFound(err, "market settlement")
		}
		if rec.Status == model.SettlementSettled {
			res = resultFromRecord(market, rec)
			return nil
		}
		score, ok := s.scorers.Get(market.MarketType)
		if !ok {
			return fmt.Errorf("no scorer for market type %q", market.MarketType)
		}

		predRepo := repository.NewPredictionRepository(tx)
		preds, err := predRepo.ListByMarket(ctx, market.ID)
		if err != nil {
			return fmt.Errorf("list predictions: %w", err)
		}
		entries := make([]scoredPrediction, 0, len(preds))
		for _, p := range preds {
			entries = append(entries, scoredPrediction{prediction: p, points: score(p.Predicted(), final)})
		}
		outcome := decideWinners(entries, market.TotalPool, s.prizeShare)

		for i, batch := range chunk(outcome.Outcomes, s.batchSize) {
			if err := predRepo.StampOutcomes(ctx, batch); err != nil {
				return fmt.Errorf("stamp predictions batch %d: %w", i, err)
			}
		}
		users := repository.NewUserRepository(tx)
		for _, batch := range chunk(outcome.wallets(), s.batchSize) {
			for _, wallet := range batch {
				if err := users.ApplyDelta(ctx, wallet, outcome.UserDeltas[wallet]); err != nil {
					return fmt.Errorf("apply user delta %s: %w", wallet, err)
				}
			}
		}
		if outcome.Owed.IsPositive() {
			if err := ApplyStatsDelta(ctx, tx, StatsDelta{Winnings: WinningCounts{PendingClaims: outcome.Owed}}); err != nil {
				return err
			}
		}
		summary := repository.SettlementSummary{
			HighestScore:    outcome.HighestScore,
			PrizePool:       outcome.PrizePool,
			PrizePerWinner:  outcome.PrizePerWinner,
			WinnerCount:     outcome.Winners,
			PredictionCount: len(entries),
		}
		if err := settlements.MarkSettled(ctx, market.ID, summary); err != nil {
			return fmt.Errorf("mark market settled: %w", err)
		}
		scored = len(entries)
		res = MarketResult{
			MarketID:        market.ID,
			MarketType:      market.MarketType,
			Status:          model.SettlementSettled,
			PredictionCount: len(entries),
			WinnerCount:     outcome.Winners,
			HighestScore:    outcome.HighestScore,
			PrizePool:       outcome.PrizePool,
			PrizePerWinner:  outcome.PrizePerWinner,
		}
		return nil
	})
	if err != nil {
		return MarketResult{}, err
	}
	if scored > 0 && s.metrics != nil {
		s.metrics.PredictionsScored.Add(float64(scored))
	}
	s.countMarket("settled")
	return res, nil
}

// ListSettlements 比赛各市场的结算记录
func (s *SettlementService) ListSettlements(ctx context.Context, matchID string) ([]*model.MarketSettlement, error) {
	if _, err := repository.NewMatchRepository(s.db).GetMatch(ctx, matchID); err != nil {
		return nil, notFound(err, "match")
	}
	return repository.NewSettlementRepository(s.db).ListByMatch(ctx, matchID)
}

func (s *SettlementService) countMarket(result string) {
	if s.metrics != nil {
		s.metrics.MarketsSettled.WithLabelValues(result).Inc()
	}
}

func resultFromRecord(mk *model.Market, rec *model.MarketSettlement) MarketResult {
	return MarketResult{
		MarketID:        mk.ID,
		MarketType:      mk.MarketType,
		Status:          rec.Status,
		PredictionCount: rec.PredictionCount,
		WinnerCount:     rec.WinnerCount,
		HighestScore:    rec.HighestScore,
		PrizePool:       rec.PrizePool,
		PrizePerWinner:  rec.PrizePerWinner,
	}
}

func (r *CompleteResult) summarize() {
	primary := false
	for _, m := range r.Markets {
		if m.Status != model.SettlementSettled {
			continue
		}
		r.WinnerCount += m.WinnerCount
		r.PrizePool = r.PrizePool.Add(m.PrizePool)
		if !primary && m.MarketType == model.MarketTypeScore {
			r.HighestScore = m.HighestScore
			r.PrizePerWinner = m.PrizePerWinner
			primary = true
		}
	}
}

type scoredPrediction struct {
	prediction *model.Prediction
	points     float64
}

// marketOutcome 单个市场的结算计算结果
type marketOutcome struct {
	HighestScore   float64
	PrizePool      decimal.Decimal
	PrizePerWinner decimal.Decimal
	Owed           decimal.Decimal
	Winners        int
	Outcomes       []repository.PredictionOutcome
	UserDeltas     map[string]repository.UserDelta
}

// wallets 按地址排序，保证多个结算事务以相同顺序更新用户行
func (o marketOutcome) wallets() []string {
	out := make([]string, 0, len(o.UserDeltas))
	for w := range o.UserDeltas {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// decideWinners 最高分者获胜，并列平分；奖池为 totalPool*share，
// 每人奖金截断到 6 位小数，Owed 为实际应付总额
func decideWinners(entries []scoredPrediction, totalPool, share decimal.Decimal) marketOutcome {
	out := marketOutcome{
		PrizePool:      decimal.Zero,
		PrizePerWinner: decimal.Zero,
		Owed:           decimal.Zero,
		UserDeltas:     make(map[string]repository.UserDelta),
	}
	if len(entries) == 0 {
		return out
	}
	out.HighestScore = entries[0].points
	for _, e := range entries[1:] {
		if e.points > out.HighestScore {
			out.HighestScore = e.points
		}
	}
	for _, e := range entries {
		if e.points == out.HighestScore {
			out.Winners++
		}
	}
	out.PrizePool = totalPool.Mul(share).Truncate(usdcPlaces)
	out.PrizePerWinner, _ = out.PrizePool.QuoRem(decimal.NewFromInt(int64(out.Winners)), usdcPlaces)
	out.Owed = out.PrizePerWinner.Mul(decimal.NewFromInt(int64(out.Winners)))

	out.Outcomes = make([]repository.PredictionOutcome, 0, len(entries))
	for _, e := range entries {
		winner := e.points == out.HighestScore
		won := decimal.Zero
		if winner {
			won = out.PrizePerWinner
		}
		out.Outcomes = append(out.Outcomes, repository.PredictionOutcome{
			PredictionID: e.prediction.ID,
			Points:       e.points,
			IsWinner:     winner,
			AmountWon:    won,
		})
		d := out.UserDeltas[e.prediction.UserID]
		d.Points = scoring.Round3(d.Points + e.points)
		if winner {
			d.Wins++
			d.AmountWon = d.AmountWon.Add(won)
		}
		out.UserDeltas[e.prediction.UserID] = d
	}
	return out
}
