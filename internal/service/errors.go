package service

import (
	"errors"
	"fmt"

	"StrikeRate/internal/auth"

	"gorm.io/gorm"
)

var (
	ErrUnauthorized = auth.ErrUnauthorized
	ErrBadSignature = auth.ErrBadSignature
	ErrStaleNonce   = auth.ErrStaleNonce

	ErrNotFound             = errors.New("not found")
	ErrStateConflict        = errors.New("state conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotWinner            = errors.New("not a winner")
	ErrAlreadyClaimed       = errors.New("already claimed")
	ErrInvalidPayment       = errors.New("invalid payment")
	ErrPayoutFailed         = errors.New("payout failed")
	ErrPayoutPending        = errors.New("payout pending confirmation")
	ErrSettlementIncomplete = errors.New("settlement incomplete")
)

// notFound 将 gorm.ErrRecordNotFound 转为 ErrNotFound，其它错误原样包装
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
