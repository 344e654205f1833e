package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"StrikeRate/internal/interfaces"

	"github.com/shopspring/decimal"
)

// Payout 假通道记录的一次派奖
type Payout struct {
	To     string
	Amount decimal.Decimal
	Key    string
	TxHash string
}

// FakeRail 内存实现的 PaymentRail
type FakeRail struct {
	mu       sync.Mutex
	treasury string
	payments map[string]interfaces.PaymentReceipt
	statuses map[string]interfaces.PayoutStatus
	payouts  []Payout

	// SendErr 非空时 SendPayout 直接失败
	SendErr error
	// WaitErr 非空时 WaitPayout 返回该错误
	WaitErr error
	// NextStatus 新发出交易的状态，默认 CONFIRMED
	NextStatus interfaces.PayoutStatus
}

// NewFakeRail 创建假通道
func NewFakeRail(treasury string) *FakeRail {
	return &FakeRail{
		treasury:   treasury,
		payments:   make(map[string]interfaces.PaymentReceipt),
		statuses:   make(map[string]interfaces.PayoutStatus),
		NextStatus: interfaces.PayoutConfirmed,
	}
}

// AddPayment 登记一笔 from → treasury 的已确认转账
func (f *FakeRail) AddPayment(txHash, from string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[txHash] = interfaces.PaymentReceipt{
		TxHash: txHash,
		From:   from,
		To:     f.treasury,
		Amount: amount,
	}
}

// SetStatus 修改某笔派奖的链上状态
func (f *FakeRail) SetStatus(txHash string, st interfaces.PayoutStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[txHash] = st
}

// Payouts 已发出的派奖
func (f *FakeRail) Payouts() []Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Payout(nil), f.payouts...)
}

func (f *FakeRail) Treasury() string { return f.treasury }

func (f *FakeRail) VerifyPayment(_ context.Context, txHash, from string, minAmount decimal.Decimal) (*interfaces.PaymentReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[txHash]
	if !ok {
		return nil, interfaces.ErrPaymentNotFound
	}
	if !strings.EqualFold(p.From, from) || p.Amount.LessThan(minAmount) {
		return nil, interfaces.ErrPaymentMismatch
	}
	return &p, nil
}

func (f *FakeRail) SendPayout(_ context.Context, to string, amount decimal.Decimal, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	hash := fmt.Sprintf("0xpayout%04d", len(f.payouts)+1)
	f.payouts = append(f.payouts, Payout{To: to, Amount: amount, Key: key, TxHash: hash})
	f.statuses[hash] = f.NextStatus
	return hash, nil
}

func (f *FakeRail) PayoutStatus(_ context.Context, txHash string) (interfaces.PayoutStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[txHash]
	if !ok {
		return interfaces.PayoutUnknown, nil
	}
	return st, nil
}

func (f *FakeRail) WaitPayout(_ context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WaitErr != nil {
		return f.WaitErr
	}
	switch f.statuses[txHash] {
	case interfaces.PayoutFailed:
		return interfaces.ErrPayoutReverted
	case interfaces.PayoutPending:
		return interfaces.ErrPayoutTimeout
	}
	return nil
}
