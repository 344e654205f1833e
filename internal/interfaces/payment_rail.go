package interfaces

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrRailDisabled 未配置链上通道
	ErrRailDisabled = errors.New("payment rail is not configured")
	// ErrPaymentNotFound 找不到该笔转账或尚未上链
	ErrPaymentNotFound = errors.New("payment transaction not found")
	// ErrPaymentUnconfirmed 确认数不足
	ErrPaymentUnconfirmed = errors.New("payment transaction not yet confirmed")
	// ErrPaymentMismatch 转账存在但付款人、收款人或金额不符
	ErrPaymentMismatch = errors.New("payment does not match the expected transfer")
	// ErrPayoutReverted 派奖交易上链但执行失败
	ErrPayoutReverted = errors.New("payout transaction reverted")
	// ErrPayoutTimeout 等待派奖回执超时，结果未知
	ErrPayoutTimeout = errors.New("timed out waiting for payout receipt")
)

// PayoutStatus 派奖交易状态
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutConfirmed PayoutStatus = "CONFIRMED"
	PayoutFailed    PayoutStatus = "FAILED"
	PayoutUnknown   PayoutStatus = "UNKNOWN"
)

// PaymentReceipt 已校验的入账转账
type PaymentReceipt struct {
	TxHash      string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber int64
	RawData     map[string]interface{}
}

// PaymentRail 稳定币收款与派奖通道
type PaymentRail interface {
	// Treasury 下注收款地址
	Treasury() string
	// VerifyPayment 校验 txHash 是否为 from → Treasury 且金额不低于 minAmount 的已确认转账
	VerifyPayment(ctx context.Context, txHash, from string, minAmount decimal.Decimal) (*PaymentReceipt, error)
	// SendPayout 发起派奖并返回交易哈希，不等待上链；idempotencyKey 用于日志与排查
	SendPayout(ctx context.Context, to string, amount decimal.Decimal, idempotencyKey string) (string, error)
	// PayoutStatus 查询之前发出的派奖交易
	PayoutStatus(ctx context.Context, txHash string) (PayoutStatus, error)
	// WaitPayout 等待派奖交易确认，失败返回 ErrPayoutReverted 或 ErrPayoutTimeout
	WaitPayout(ctx context.Context, txHash string) error
}
