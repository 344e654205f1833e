package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"StrikeRate/internal/config"
	"StrikeRate/internal/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Backend USDCRail 用到的节点方法，*ethclient.Client 满足该接口
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// USDCRail 基于 ERC-20 转账的收款与派奖通道
type USDCRail struct {
	backend       Backend
	token         common.Address
	treasury      common.Address
	key           *ecdsa.PrivateKey
	executor      common.Address
	chainID       *big.Int
	confirmations uint64
	gasLimit      uint64
	pollInterval  time.Duration
	waitTimeout   time.Duration
	logger        *logrus.Logger

	// 派奖账户的 nonce 分配需要串行
	sendMu sync.Mutex
}

var _ interfaces.PaymentRail = (*USDCRail)(nil)

// NewUSDCRail 创建通道；chain_id 为 0 时从节点读取
func NewUSDCRail(ctx context.Context, backend Backend, cfg *config.ChainConfig, logger *logrus.Logger) (*USDCRail, error) {
	if !common.IsHexAddress(cfg.TokenAddress) || !common.IsHexAddress(cfg.TreasuryAddress) {
		return nil, fmt.Errorf("token_address 与 treasury_address 必须为合法地址")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.ExecutorPrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode executor key: %w", err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = backend.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}
	r := &USDCRail{
		backend:       backend,
		token:         common.HexToAddress(cfg.TokenAddress),
		treasury:      common.HexToAddress(cfg.TreasuryAddress),
		key:           key,
		executor:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:       chainID,
		confirmations: cfg.Confirmations,
		gasLimit:      cfg.GasLimit,
		pollInterval:  cfg.PollInterval,
		waitTimeout:   cfg.WaitTimeout,
		logger:        logger,
	}
	if r.gasLimit == 0 {
		r.gasLimit = 100000
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 2 * time.Second
	}
	if r.waitTimeout <= 0 {
		r.waitTimeout = time.Minute
	}
	logger.WithFields(logrus.Fields{
		"chain_id": chainID.String(),
		"token":    r.token.Hex(),
		"treasury": r.treasury.Hex(),
		"executor": r.executor.Hex(),
	}).Info("USDC 通道已就绪")
	return r, nil
}

func (r *USDCRail) Treasury() string { return r.treasury.Hex() }

func parseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("malformed transaction hash %q", s)
	}
	if _, err := hexutil.Decode(s); err != nil {
		return common.Hash{}, fmt.Errorf("malformed transaction hash %q", s)
	}
	return common.HexToHash(s), nil
}

// VerifyPayment 读取回执，要求执行成功、确认数足够，且包含 from → treasury 的 USDC 转账
func (r *USDCRail) VerifyPayment(ctx context.Context, txHash, from string, minAmount decimal.Decimal) (*interfaces.PaymentReceipt, error) {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, interfaces.ErrPaymentNotFound)
	}
	if !common.IsHexAddress(from) {
		return nil, fmt.Errorf("invalid payer %q: %w", from, interfaces.ErrPaymentMismatch)
	}
	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, interfaces.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transaction receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("payment transaction reverted: %w", interfaces.ErrPaymentMismatch)
	}
	if r.confirmations > 1 && receipt.BlockNumber != nil {
		head, err := r.backend.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("block number: %w", err)
		}
		if head+1 < receipt.BlockNumber.Uint64()+r.confirmations {
			return nil, interfaces.ErrPaymentUnconfirmed
		}
	}
	t, err := findTransfer(receipt.Logs, r.token, common.HexToAddress(from), r.treasury, ToUnits(minAmount))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, interfaces.ErrPaymentMismatch)
	}
	var block int64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Int64()
	}
	return &interfaces.PaymentReceipt{
		TxHash:      hash.Hex(),
		From:        t.From.Hex(),
		To:          t.To.Hex(),
		Amount:      FromUnits(t.Value),
		BlockNumber: block,
		RawData: map[string]interface{}{
			"token":     r.token.Hex(),
			"blockHash": receipt.BlockHash.Hex(),
			"logIndex":  t.LogIndex,
			"value":     t.Value.String(),
		},
	}, nil
}

// SendPayout 由派奖账户调用 token.transfer(to, amount)，发出后立即返回交易哈希
func (r *USDCRail) SendPayout(ctx context.Context, to string, amount decimal.Decimal, idempotencyKey string) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	units := ToUnits(amount)
	if units.Sign() <= 0 {
		return "", fmt.Errorf("amount 必须大于 0")
	}
	data, err := packTransfer(common.HexToAddress(to), units)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	nonce, err := r.backend.PendingNonceAt(ctx, r.executor)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      r.gasLimit,
		To:       &r.token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	hash := signed.Hash().Hex()
	r.logger.WithFields(logrus.Fields{
		"tx_hash": hash,
		"to":      to,
		"amount":  amount.String(),
		"key":     idempotencyKey,
		"nonce":   nonce,
	}).Info("派奖交易已发出")
	return hash, nil
}

// PayoutStatus 有回执时按执行结果返回；无回执但节点仍持有交易时为 PENDING；节点不认识该交易为 UNKNOWN
func (r *USDCRail) PayoutStatus(ctx context.Context, txHash string) (interfaces.PayoutStatus, error) {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return interfaces.PayoutUnknown, nil
	}
	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return interfaces.PayoutConfirmed, nil
		}
		return interfaces.PayoutFailed, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return interfaces.PayoutUnknown, fmt.Errorf("transaction receipt: %w", err)
	}
	_, _, err = r.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return interfaces.PayoutUnknown, nil
	}
	if err != nil {
		return interfaces.PayoutUnknown, fmt.Errorf("transaction by hash: %w", err)
	}
	return interfaces.PayoutPending, nil
}

// WaitPayout 轮询回执直到成功、revert 或超时，避免链上 revert 但后端标记为已领取
func (r *USDCRail) WaitPayout(ctx context.Context, txHash string) error {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt.Status == types.ReceiptStatusSuccessful:
			return nil
		case err == nil:
			return fmt.Errorf("tx %s: %w", txHash, interfaces.ErrPayoutReverted)
		case !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			r.logger.WithError(err).WithField("tx_hash", txHash).Debug("查询派奖回执失败，稍后重试")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("tx %s: %w", txHash, interfaces.ErrPayoutTimeout)
		case <-time.After(r.pollInterval):
		}
	}
}

// DisabledRail 未配置链上参数时使用：收款校验与派奖一律失败
type DisabledRail struct {
	treasury string
}

var _ interfaces.PaymentRail = DisabledRail{}

// NewDisabledRail treasury 可为空
func NewDisabledRail(treasury string) DisabledRail { return DisabledRail{treasury: treasury} }

func (d DisabledRail) Treasury() string { return d.treasury }

func (DisabledRail) VerifyPayment(context.Context, string, string, decimal.Decimal) (*interfaces.PaymentReceipt, error) {
	return nil, interfaces.ErrRailDisabled
}

func (DisabledRail) SendPayout(context.Context, string, decimal.Decimal, string) (string, error) {
	return "", interfaces.ErrRailDisabled
}

func (DisabledRail) PayoutStatus(context.Context, string) (interfaces.PayoutStatus, error) {
	return interfaces.PayoutUnknown, interfaces.ErrRailDisabled
}

func (DisabledRail) WaitPayout(context.Context, string) error {
	return interfaces.ErrRailDisabled
}
