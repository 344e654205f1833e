// Package testutil 测试辅助：内存 sqlite、测试钱包、假支付通道
package testutil

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/model"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB 每个测试一个独立的内存库，已完成迁移。
// 只有一个连接：事务内的代码必须使用事务句柄。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

// NewLogger 静默日志
func NewLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Wallet 测试钱包
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address string
}

// NewWallet 随机生成钱包
func NewWallet(t testing.TB) Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// Sign personal_sign 签名
func (w Wallet) Sign(t testing.TB, message string) string {
	t.Helper()
	sig, err := auth.SignMessage(w.Key, message)
	require.NoError(t, err)
	return sig
}

// SignAction 按当前 nonce 构造签名请求
func (w Wallet) SignAction(t testing.TB, action auth.Action, params auth.Params, nonce int64) auth.SignedAction {
	t.Helper()
	return auth.SignedAction{
		Actor:     w.Address,
		Action:    action,
		Params:    params,
		Nonce:     nonce,
		Signature: w.Sign(t, auth.BuildMessage(action, params, nonce)),
	}
}
