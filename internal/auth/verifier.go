// Package auth 签名动作校验：服务端生成待签名文本，校验 personal_sign 签名与钱包 nonce。
package auth

import (
	"context"
	"errors"
	"fmt"

	"StrikeRate/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadSignature = errors.New("bad signature")
	ErrStaleNonce   = errors.New("stale nonce")
)

// SignedAction 一次需要校验的签名请求。
// Message 为客户端回传的文本，可为空；非空时必须与服务端重建的文本完全一致。
type SignedAction struct {
	Actor     string
	Action    Action
	Params    Params
	Nonce     int64
	Message   string
	Signature string
}

// Verifier 签名与 nonce 校验器
type Verifier struct {
	admin  common.Address
	logger *logrus.Logger
}

// NewVerifier 创建校验器，adminWallet 为管理员钱包地址
func NewVerifier(adminWallet string, logger *logrus.Logger) *Verifier {
	return &Verifier{admin: common.HexToAddress(adminWallet), logger: logger}
}

// IsAdmin 是否为管理员钱包
func (v *Verifier) IsAdmin(wallet string) bool {
	addr, ok := NormalizeAddress(wallet)
	return ok && addr == v.admin.Hex()
}

// Prepare 返回当前 nonce 与待签名文本；首次使用的钱包以 0 建档
func (v *Verifier) Prepare(ctx context.Context, db *gorm.DB, actor string, action Action, params Params) (int64, string, error) {
	wallet, ok := NormalizeAddress(actor)
	if !ok {
		return 0, "", fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	rec, err := repository.NewNonceRepository(db).EnsureNonce(ctx, wallet, "PREPARE")
	if err != nil {
		return 0, "", fmt.Errorf("load nonce: %w", err)
	}
	return rec.Nonce, BuildMessage(action, params, rec.Nonce), nil
}

// Verify 在调用方事务 tx 内校验并消费 nonce。
// 校验失败时不写库；调用方事务回滚时 nonce 也随之回滚。
func (v *Verifier) Verify(ctx context.Context, tx *gorm.DB, sa SignedAction) error {
	wallet, ok := NormalizeAddress(sa.Actor)
	if !ok {
		return fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	if IsPrivileged(sa.Action) && wallet != v.admin.Hex() {
		v.logger.WithFields(logrus.Fields{"wallet": wallet, "action": sa.Action}).Warn("非管理员尝试执行管理动作")
		return ErrUnauthorized
	}

	nonces := repository.NewNonceRepository(tx)
	rec, err := nonces.GetForUpdate(ctx, wallet)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if sa.Action != ActionSignIn {
			return ErrStaleNonce
		}
		if rec, err = nonces.EnsureNonce(ctx, wallet, string(sa.Action)); err != nil {
			return fmt.Errorf("create nonce: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	if rec.Nonce != sa.Nonce {
		return ErrStaleNonce
	}

	expected := BuildMessage(sa.Action, sa.Params, rec.Nonce)
	if sa.Message != "" && sa.Message != expected {
		v.logger.WithFields(logrus.Fields{"wallet": wallet, "action": sa.Action}).Warn("客户端回传的签名文本与服务端不一致")
		return ErrBadSignature
	}
	if !VerifySignature(common.HexToAddress(wallet), expected, sa.Signature) {
		return ErrBadSignature
	}

	if err := nonces.Advance(ctx, wallet, rec.Nonce, string(sa.Action)); err != nil {
		if errors.Is(err, repository.ErrNoRowsAffected) {
			return ErrStaleNonce
		}
		return fmt.Errorf("advance nonce: %w", err)
	}
	return nil
}
