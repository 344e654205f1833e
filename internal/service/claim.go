package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/interfaces"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ClaimRequest 领奖请求
type ClaimRequest struct {
	MatchID      string
	PredictionID string
	Signed       SignedFields
}

// ClaimResult 领奖结果
type ClaimResult struct {
	PredictionID string          `json:"predictionId"`
	Amount       decimal.Decimal `json:"amount"`
	TxHash       string          `json:"txSignature"`
}

// ClaimService 领奖：校验资格、派奖、确认后标记已领取（只此一次）
type ClaimService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	verifier *auth.Verifier
	rail     interfaces.PaymentRail
	metrics  *metrics.Metrics
	leaseTTL time.Duration
}

// NewClaimService 创建 ClaimService
func NewClaimService(db *gorm.DB, logger *logrus.Logger, verifier *auth.Verifier, rail interfaces.PaymentRail, m *metrics.Metrics, leaseTTL time.Duration) *ClaimService {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	return &ClaimService{db: db, logger: logger, verifier: verifier, rail: rail, metrics: m, leaseTTL: leaseTTL}
}

// ClaimAmount 签名文本中使用的金额（服务端数据）
func ClaimAmount(p *model.Prediction) string {
	if !p.AmountWon.Valid {
		return "0"
	}
	return p.AmountWon.Decimal.String()
}

// PrepareParams 领奖签名所需参数，金额取自库内预测
func (s *ClaimService) PrepareParams(ctx context.Context, predictionID string) (auth.Params, error) {
	p, err := repository.NewPredictionRepository(s.db).GetPrediction(ctx, predictionID)
	if err != nil {
		return auth.Params{}, notFound(err, "prediction")
	}
	return auth.Params{MatchID: p.MatchID, PredictionID: p.ID, Amount: ClaimAmount(p)}, nil
}

// Claim 领奖。
//  1. 事务 A：锁预测行，校验归属、签名与 nonce、比赛已完赛、赢家且未领取，登记/刷新 PENDING 领奖记录
//  2. 派奖：之前的派奖交易若已确认则不再发送；仍在途则返回 ErrPayoutPending；失败则重新发送
//  3. 事务 B：条件更新 has_claimed，领奖记录 CONFIRMED，更新全局统计
func (s *ClaimService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	var (
		pred  *model.Prediction
		claim *model.PrizeClaim
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repository.NewPredictionRepository(tx).GetPredictionForUpdate(ctx, req.PredictionID)
		if err != nil {
			return notFound(err, "prediction")
		}
		if req.MatchID != "" && p.MatchID != req.MatchID {
			return fmt.Errorf("prediction %s %w in match %s", p.ID, ErrNotFound, req.MatchID)
		}
		owner, ok := auth.NormalizeAddress(req.Signed.Actor)
		if !ok || owner != p.UserID {
			return fmt.Errorf("prediction belongs to another wallet: %w", ErrUnauthorized)
		}
		params := auth.Params{MatchID: p.MatchID, PredictionID: p.ID, Amount: ClaimAmount(p)}
		if err := verifyAction(ctx, tx, s.verifier, s.metrics, req.Signed.action(auth.ActionClaimPrize, params)); err != nil {
			return err
		}
		m, err := repository.NewMatchRepository(tx).GetMatch(ctx, p.MatchID)
		if err != nil {
			return notFound(err, "match")
		}
		if err := requireStatus(m, model.MatchStatusCompleted); err != nil {
			return err
		}
		if p.HasClaimed {
			return ErrAlreadyClaimed
		}
		if !p.IsWinner || !p.PrizeOwed().IsPositive() {
			return ErrNotWinner
		}

		claims := repository.NewClaimRepository(tx)
		leaseUntil := time.Now().Add(s.leaseTTL)
		c, err := claims.GetClaim(ctx, p.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c = &model.PrizeClaim{
				PredictionID: p.ID,
				UserID:       p.UserID,
				Amount:       p.PrizeOwed(),
				Status:       model.ClaimPending,
				Attempts:     1,
				LeaseUntil:   &leaseUntil,
			}
			if err := claims.CreateClaim(ctx, c); err != nil {
				return fmt.Errorf("create claim: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load claim: %w", err)
		case c.Status == model.ClaimConfirmed:
			return ErrAlreadyClaimed
		case c.Status == model.ClaimPending && c.LeaseUntil != nil && c.LeaseUntil.After(time.Now()):
			return fmt.Errorf("claim for prediction %s is in progress: %w", p.ID, ErrPayoutPending)
		default:
			if err := claims.StartAttempt(ctx, p.ID, leaseUntil); err != nil {
				return fmt.Errorf("start claim attempt: %w", err)
			}
		}
		pred, claim = p, c
		return nil
	})
	if err != nil {
		s.countClaim(err)
		return nil, err
	}

	amount := pred.PrizeOwed()
	log := s.logger.WithFields(logrus.Fields{"prediction_id": pred.ID, "wallet": pred.UserID, "amount": amount.String()})
	txHash, err := s.payout(ctx, pred, amount, claim.PayoutTxHash, log)
	if err != nil {
		s.countClaim(err)
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewPredictionRepository(tx).MarkClaimed(ctx, pred.ID); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return ErrAlreadyClaimed
			}
			return fmt.Errorf("mark claimed: %w", err)
		}
		if err := repository.NewClaimRepository(tx).MarkClaimConfirmed(ctx, pred.ID, txHash); err != nil {
			return fmt.Errorf("confirm claim: %w", err)
		}
		return ApplyStatsDelta(ctx, tx, StatsDelta{Winnings: WinningCounts{
			Total:         amount,
			TotalClaims:   1,
			PendingClaims: amount.Neg(),
		}})
	})
	if err != nil {
		log.WithError(err).WithField("tx_hash", txHash).Error("派奖已上链但标记领取失败，重试时将复用该交易")
		s.countClaim(err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Claims.WithLabelValues("confirmed").Inc()
		s.metrics.AddPayout(amount)
	}
	log.WithField("tx_hash", txHash).Info("领奖完成")
	return &ClaimResult{PredictionID: pred.ID, Amount: amount, TxHash: txHash}, nil
}

// payout 发送或复用派奖交易，返回已确认的交易哈希
func (s *ClaimService) payout(ctx context.Context, pred *model.Prediction, amount decimal.Decimal, previous string, log *logrus.Entry) (string, error) {
	claims := repository.NewClaimRepository(s.db)
	if previous != "" {
		st, err := s.rail.PayoutStatus(ctx, previous)
		if err != nil {
			return "", s.failClaim(ctx, pred.ID, fmt.Errorf("query payout %s: %v: %w", previous, err, ErrPayoutFailed))
		}
		switch st {
		case interfaces.PayoutConfirmed:
			log.WithField("tx_hash", previous).Info("复用已确认的派奖交易")
			return previous, nil
		case interfaces.PayoutPending:
			return "", fmt.Errorf("payout %s: %w", previous, ErrPayoutPending)
		}
		log.WithFields(logrus.Fields{"tx_hash": previous, "status": st}).Warn("之前的派奖交易未成功，重新派奖")
	}

	txHash, err := s.rail.SendPayout(ctx, pred.UserID, amount, pred.ID)
	if err != nil {
		return "", s.failClaim(ctx, pred.ID, fmt.Errorf("send payout: %v: %w", err, ErrPayoutFailed))
	}
	if err := claims.SetPayoutTx(ctx, pred.ID, txHash); err != nil {
		log.WithError(err).WithField("tx_hash", txHash).Error("记录派奖交易哈希失败")
	}
	if err := s.rail.WaitPayout(ctx, txHash); err != nil {
		if errors.Is(err, interfaces.ErrPayoutReverted) {
			return "", s.failClaim(ctx, pred.ID, fmt.Errorf("payout %s reverted: %w", txHash, ErrPayoutFailed))
		}
		log.WithError(err).WithField("tx_hash", txHash).Warn("派奖交易尚未确认")
		return "", fmt.Errorf("payout %s: %w", txHash, ErrPayoutPending)
	}
	return txHash, nil
}

// failClaim 记录失败原因，has_claimed 保持 false 以便重试
func (s *ClaimService) failClaim(ctx context.Context, predictionID string, cause error) error {
	if err := repository.NewClaimRepository(s.db).MarkClaimFailed(ctx, predictionID, cause.Error()); err != nil {
		s.logger.WithError(err).WithField("prediction_id", predictionID).Error("记录领奖失败状态失败")
	}
	s.logger.WithError(cause).WithField("prediction_id", predictionID).Warn("派奖失败")
	return cause
}

func (s *ClaimService) countClaim(err error) {
	if s.metrics == nil {
		return
	}
	result := "error"
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		result = "already_claimed"
	case errors.Is(err, ErrNotWinner):
		result = "not_winner"
	case errors.Is(err, ErrPayoutPending):
		result = "pending"
	case errors.Is(err, ErrPayoutFailed):
		result = "payout_failed"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBadSignature), errors.Is(err, ErrStaleNonce):
		result = "rejected"
	}
	s.metrics.Claims.WithLabelValues(result).Inc()
}
