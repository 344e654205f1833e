package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/interfaces"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PredictionRequest 第一阶段：签名的下注请求
type PredictionRequest struct {
	MatchID   string
	MarketID  string // 为空时使用默认 SCORE 市场
	Predicted model.FinalScore
	Signed    SignedFields
}

// PaymentDescriptor 第一阶段返回给客户端的支付信息
type PaymentDescriptor struct {
	RequiresPayment bool            `json:"requiresPayment"`
	Amount          decimal.Decimal `json:"amount"`
	Recipient       string          `json:"recipient"`
	IntentID        string          `json:"intentId"`
	MarketID        string          `json:"marketId"`
	ExpiresAt       time.Time       `json:"expiresAt"`
}

// ConfirmRequest 第二阶段：携带支付交易哈希确认下注
type ConfirmRequest struct {
	MatchID       string
	MarketID      string
	Actor         string
	Predicted     model.FinalScore
	PaymentTxHash string
}

// PaymentObservation 链上监听到的一笔入账
type PaymentObservation struct {
	TxHash      string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber int64
	RawData     map[string]interface{}
}

// PredictionService 下注账本：两阶段下注、入账记录与查询
type PredictionService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	verifier  *auth.Verifier
	rail      interfaces.PaymentRail
	metrics   *metrics.Metrics
	stake     decimal.Decimal
	intentTTL time.Duration
}

// NewPredictionService 创建 PredictionService
func NewPredictionService(db *gorm.DB, logger *logrus.Logger, verifier *auth.Verifier, rail interfaces.PaymentRail, m *metrics.Metrics, stake decimal.Decimal, intentTTL time.Duration) *PredictionService {
	if intentTTL <= 0 {
		intentTTL = 15 * time.Minute
	}
	return &PredictionService{
		db:        db,
		logger:    logger,
		verifier:  verifier,
		rail:      rail,
		metrics:   m,
		stake:     stake,
		intentTTL: intentTTL,
	}
}

// Stake 每笔下注金额
func (s *PredictionService) Stake() decimal.Decimal { return s.stake }

// resolveMarket 找到比赛下的目标市场
func resolveMarket(ctx context.Context, matches repository.MatchRepository, matchID, marketID string) (*model.Market, error) {
	if marketID == "" {
		mk, err := matches.GetDefaultMarket(ctx, matchID)
		if err != nil {
			return nil, notFound(err, "market")
		}
		return mk, nil
	}
	mk, err := matches.GetMarket(ctx, marketID)
	if err != nil {
		return nil, notFound(err, "market")
	}
	if mk.MatchID != matchID {
		return nil, fmt.Errorf("market %s does not belong to match %s: %w", marketID, matchID, ErrInvalidInput)
	}
	return mk, nil
}

// Prepare 校验签名、消费 nonce 并登记待支付意向
func (s *PredictionService) Prepare(ctx context.Context, req PredictionRequest) (*PaymentDescriptor, error) {
	if !req.Predicted.Valid() {
		return nil, fmt.Errorf("runs must be >= 0 and wickets within 0..%d: %w", model.MaxWickets, ErrInvalidInput)
	}
	wallet, ok := auth.NormalizeAddress(req.Signed.Actor)
	if !ok {
		return nil, fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	params := auth.Params{
		MatchID:      req.MatchID,
		Team1Score:   req.Predicted.Team1Score,
		Team1Wickets: req.Predicted.Team1Wickets,
		Team2Score:   req.Predicted.Team2Score,
		Team2Wickets: req.Predicted.Team2Wickets,
	}

	var desc *PaymentDescriptor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := verifyAction(ctx, tx, s.verifier, s.metrics, req.Signed.action(auth.ActionCreatePrediction, params)); err != nil {
			return err
		}
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatch(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusUpcoming); err != nil {
			return err
		}
		mk, err := resolveMarket(ctx, matches, m.ID, req.MarketID)
		if err != nil {
			return err
		}
		exists, err := repository.NewPredictionRepository(tx).ExistsForMarketUser(ctx, mk.ID, wallet)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("wallet already has a prediction in market %s: %w", mk.ID, ErrStateConflict)
		}
		intent := &model.PredictionIntent{
			ID:           uuid.NewString(),
			MatchID:      m.ID,
			MarketID:     mk.ID,
			UserID:       wallet,
			Team1Score:   req.Predicted.Team1Score,
			Team1Wickets: req.Predicted.Team1Wickets,
			Team2Score:   req.Predicted.Team2Score,
			Team2Wickets: req.Predicted.Team2Wickets,
			Amount:       s.stake,
			Recipient:    s.rail.Treasury(),
			ExpiresAt:    time.Now().Add(s.intentTTL),
		}
		if err := repository.NewPredictionIntentRepository(tx).ReplaceIntent(ctx, intent); err != nil {
			return fmt.Errorf("save prediction intent: %w", err)
		}
		desc = &PaymentDescriptor{
			RequiresPayment: true,
			Amount:          s.stake,
			Recipient:       intent.Recipient,
			IntentID:        intent.ID,
			MarketID:        mk.ID,
			ExpiresAt:       intent.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// Confirm 校验链上支付后写入预测，并在同一事务内更新奖池、用户与全局统计
func (s *PredictionService) Confirm(ctx context.Context, req ConfirmRequest) (*model.Prediction, error) {
	wallet, ok := auth.NormalizeAddress(req.Actor)
	if !ok {
		return nil, fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	txHash := strings.ToLower(strings.TrimSpace(req.PaymentTxHash))
	if txHash == "" {
		return nil, fmt.Errorf("payment transaction hash is required: %w", ErrInvalidInput)
	}
	if !req.Predicted.Valid() {
		return nil, fmt.Errorf("runs must be >= 0 and wickets within 0..%d: %w", model.MaxWickets, ErrInvalidInput)
	}

	// 先做只读检查，避免无效请求触达链上节点
	matches := repository.NewMatchRepository(s.db)
	m, err := matches.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, notFound(err, "match")
	}
	if err := requireStatus(m, model.MatchStatusUpcoming); err != nil {
		return nil, err
	}
	mk, err := resolveMarket(ctx, matches, m.ID, req.MarketID)
	if err != nil {
		return nil, err
	}
	intent, err := repository.NewPredictionIntentRepository(s.db).GetLiveIntent(ctx, mk.ID, wallet, time.Now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no signed prediction request pending for this market: %w", ErrInvalidInput)
		}
		return nil, err
	}
	if intent.Predicted() != req.Predicted {
		return nil, fmt.Errorf("prediction differs from the signed request: %w", ErrInvalidInput)
	}
	if ev, err := repository.NewPaymentEventRepository(s.db).GetByTxHash(ctx, txHash); err == nil && ev.Processed {
		return nil, fmt.Errorf("payment already used: %w", ErrInvalidPayment)
	}

	receipt, err := s.rail.VerifyPayment(ctx, txHash, wallet, intent.Amount)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"wallet": wallet, "tx_hash": txHash}).Warn("支付校验失败")
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidPayment)
	}

	pred := &model.Prediction{
		ID:            uuid.NewString(),
		MatchID:       m.ID,
		MarketID:      mk.ID,
		UserID:        wallet,
		Team1Score:    req.Predicted.Team1Score,
		Team1Wickets:  req.Predicted.Team1Wickets,
		Team2Score:    req.Predicted.Team2Score,
		Team2Wickets:  req.Predicted.Team2Wickets,
		Amount:        intent.Amount,
		PaymentTxHash: txHash,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matches := repository.NewMatchRepository(tx)
		m, err := matches.GetMatchForUpdate(ctx, req.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusUpcoming); err != nil {
			return err
		}
		predRepo := repository.NewPredictionRepository(tx)
		exists, err := predRepo.ExistsForMarketUser(ctx, mk.ID, wallet)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("wallet already has a prediction in market %s: %w", mk.ID, ErrStateConflict)
		}
		if err := repository.NewPredictionIntentRepository(tx).ConsumeIntent(ctx, intent.ID); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return fmt.Errorf("prediction request already used: %w", ErrStateConflict)
			}
			return err
		}

		payments := repository.NewPaymentEventRepository(tx)
		if err := payments.SavePaymentEvent(ctx, paymentEvent(receipt, txHash)); err != nil {
			return fmt.Errorf("save payment event: %w", err)
		}
		if err := payments.MarkProcessed(ctx, txHash, pred.ID); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return fmt.Errorf("payment already used: %w", ErrInvalidPayment)
			}
			return err
		}
		if err := predRepo.CreatePrediction(ctx, pred); err != nil {
			return fmt.Errorf("create prediction: %w", err)
		}
		if err := matches.AddToMarketPool(ctx, mk.ID, pred.Amount); err != nil {
			return fmt.Errorf("update market pool: %w", err)
		}
		if err := matches.AddToPool(ctx, m.ID, pred.Amount); err != nil {
			return fmt.Errorf("update match pool: %w", err)
		}
		users := repository.NewUserRepository(tx)
		created, err := users.EnsureUser(ctx, wallet)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		if err := users.ApplyDelta(ctx, wallet, repository.UserDelta{Predictions: 1}); err != nil {
			return fmt.Errorf("update user totals: %w", err)
		}
		delta := StatsDelta{Predictions: PredictionCounts{Total: 1, TotalAmount: pred.Amount}}
		if created {
			delta.Users.Total = 1
		}
		return ApplyStatsDelta(ctx, tx, delta)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PredictionsCreated.Inc()
		s.metrics.AddStake(pred.Amount)
	}
	s.logger.WithFields(logrus.Fields{
		"prediction_id": pred.ID,
		"match_id":      pred.MatchID,
		"market_id":     pred.MarketID,
		"wallet":        wallet,
		"tx_hash":       txHash,
	}).Info("下注已确认")
	return pred, nil
}

func paymentEvent(r *interfaces.PaymentReceipt, txHash string) *model.PaymentEvent {
	ev := &model.PaymentEvent{
		TxHash:     txHash,
		FromWallet: r.From,
		ToWallet:   r.To,
		Amount:     r.Amount,
	}
	if r.BlockNumber > 0 {
		bn := r.BlockNumber
		ev.BlockNumber = &bn
	}
	if r.RawData != nil {
		ev.EventData = rawJSON(r.RawData)
	}
	return ev
}

func rawJSON(v map[string]interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// RecordPayment 监听器回调：记录转入收款地址的转账（tx_hash 幂等）
func (s *PredictionService) RecordPayment(ctx context.Context, obs *PaymentObservation) error {
	if obs == nil || obs.TxHash == "" {
		return nil
	}
	txHash := strings.ToLower(obs.TxHash)
	ev := paymentEvent(&interfaces.PaymentReceipt{
		TxHash:      txHash,
		From:        obs.From,
		To:          obs.To,
		Amount:      obs.Amount,
		BlockNumber: obs.BlockNumber,
		RawData:     obs.RawData,
	}, txHash)
	if err := repository.NewPaymentEventRepository(s.db).SavePaymentEvent(ctx, ev); err != nil {
		return fmt.Errorf("save payment event: %w", err)
	}
	if s.metrics != nil {
		s.metrics.PaymentEvents.Inc()
	}
	return nil
}

// PurgeExpiredIntents 清理过期未支付的意向
func (s *PredictionService) PurgeExpiredIntents(ctx context.Context) (int64, error) {
	return repository.NewPredictionIntentRepository(s.db).PurgeExpired(ctx, time.Now())
}

// ListByMatch 比赛的全部预测
func (s *PredictionService) ListByMatch(ctx context.Context, matchID string) ([]*model.Prediction, error) {
	if _, err := repository.NewMatchRepository(s.db).GetMatch(ctx, matchID); err != nil {
		return nil, notFound(err, "match")
	}
	return repository.NewPredictionRepository(s.db).ListByMatch(ctx, matchID)
}

// UserProfile 用户聚合与预测
type UserProfile struct {
	User        *model.User         `json:"user"`
	Predictions []*model.Prediction `json:"predictions"`
	Total       int64               `json:"total"`
}

// Profile 用户的聚合数据与预测列表
func (s *PredictionService) Profile(ctx context.Context, wallet string, page, pageSize int) (*UserProfile, error) {
	addr, ok := auth.NormalizeAddress(wallet)
	if !ok {
		return nil, fmt.Errorf("invalid wallet address: %w", ErrInvalidInput)
	}
	u, err := repository.NewUserRepository(s.db).GetUser(ctx, addr)
	if err != nil {
		return nil, notFound(err, "user")
	}
	list, total, err := repository.NewPredictionRepository(s.db).ListByUser(ctx, addr, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return &UserProfile{User: u, Predictions: list, Total: total}, nil
}
