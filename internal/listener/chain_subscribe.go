// Package listener 订阅转入收款地址的 USDC 转账并落库
package listener

import (
	"context"
	"fmt"
	"time"

	"StrikeRate/internal/chain"
	"StrikeRate/internal/config"
	"StrikeRate/internal/service"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// LogSubscriber 日志订阅，*ethclient.Client 满足该接口
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// PaymentRecorder 入账回调，由 PredictionService 实现
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, obs *service.PaymentObservation) error
}

// ChainSubscriber 订阅 token 合约上 to = treasury 的 Transfer 事件
type ChainSubscriber struct {
	cfg      *config.ChainConfig
	client   LogSubscriber
	recorder PaymentRecorder
	logger   *logrus.Logger
	retry    time.Duration
}

// NewChainSubscriber 创建订阅器（传入已连接的客户端，便于测试）
func NewChainSubscriber(cfg *config.ChainConfig, client LogSubscriber, recorder PaymentRecorder, logger *logrus.Logger) *ChainSubscriber {
	return &ChainSubscriber{cfg: cfg, client: client, recorder: recorder, logger: logger, retry: 5 * time.Second}
}

// FilterQuery Transfer(from, to = treasury)
func (s *ChainSubscriber) FilterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(s.cfg.TokenAddress)},
		Topics: [][]common.Hash{
			{chain.TransferTopic},
			nil,
			{common.BytesToHash(common.HexToAddress(s.cfg.TreasuryAddress).Bytes())},
		},
	}
}

// Run 阻塞直到 ctx 结束；订阅断开后按间隔重连
func (s *ChainSubscriber) Run(ctx context.Context) error {
	if s.client == nil || s.cfg.TokenAddress == "" || s.cfg.TreasuryAddress == "" {
		s.logger.Info("ChainSubscriber: ws_url、token_address 或 treasury_address 未配置，跳过订阅")
		<-ctx.Done()
		return nil
	}
	for {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.WithError(err).WithField("retry_in", s.retry.String()).Warn("ChainSubscriber 订阅中断，准备重连")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

func (s *ChainSubscriber) subscribe(ctx context.Context) error {
	ch := make(chan types.Log, 64)
	sub, err := s.client.SubscribeFilterLogs(ctx, s.FilterQuery(), ch)
	if err != nil {
		return fmt.Errorf("SubscribeFilterLogs: %w", err)
	}
	defer sub.Unsubscribe()
	s.logger.WithField("treasury", s.cfg.TreasuryAddress).Info("ChainSubscriber 已订阅 USDC 入账")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}
			return err
		case vLog := <-ch:
			if err := s.HandleLog(ctx, vLog); err != nil {
				s.logger.WithError(err).WithField("tx_hash", vLog.TxHash.Hex()).Warn("handleLog failed")
			}
		}
	}
}

// HandleLog 解析一条 Transfer 日志并记录；重组移除的日志忽略
func (s *ChainSubscriber) HandleLog(ctx context.Context, vLog types.Log) error {
	if vLog.Removed {
		s.logger.WithField("tx_hash", vLog.TxHash.Hex()).Warn("转账日志因链重组被移除")
		return nil
	}
	t, err := chain.ParseTransfer(vLog)
	if err != nil {
		return err
	}
	if t.To != common.HexToAddress(s.cfg.TreasuryAddress) {
		return nil
	}
	obs := &service.PaymentObservation{
		TxHash:      vLog.TxHash.Hex(),
		From:        t.From.Hex(),
		To:          t.To.Hex(),
		Amount:      chain.FromUnits(t.Value),
		BlockNumber: int64(vLog.BlockNumber),
		RawData: map[string]interface{}{
			"blockHash": vLog.BlockHash.Hex(),
			"logIndex":  vLog.Index,
			"value":     t.Value.String(),
		},
	}
	if err := s.recorder.RecordPayment(ctx, obs); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"tx_hash": obs.TxHash, "from": obs.From, "amount": obs.Amount.String()}).Info("USDC 入账已记录")
	return nil
}
