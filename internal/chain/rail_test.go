package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"StrikeRate/internal/config"
	"StrikeRate/internal/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr    = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeBackend struct {
	mu       sync.Mutex
	chainID  *big.Int
	head     uint64
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
	pending  map[common.Hash]*types.Transaction
	sent     []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(84532),
		receipts: make(map[common.Hash]*types.Receipt),
		pending:  make(map[common.Hash]*types.Transaction),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.pending[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	f.sent = append(f.sent, tx)
	f.pending[tx.Hash()] = tx
	return nil
}

func (f *fakeBackend) setReceipt(h common.Hash, status uint64, block int64, logs ...*types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[h] = &types.Receipt{TxHash: h, Status: status, BlockNumber: big.NewInt(block), Logs: logs}
}

func transferLog(token, from, to common.Address, units int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(big.NewInt(units).Bytes(), 32),
		Index:   4,
	}
}

func newRail(t *testing.T, b *fakeBackend, confirmations uint64) (*USDCRail, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	r, err := NewUSDCRail(context.Background(), b, &config.ChainConfig{
		TokenAddress:       tokenAddr.Hex(),
		TreasuryAddress:    treasuryAddr.Hex(),
		ExecutorPrivateKey: "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		Confirmations:      confirmations,
		GasLimit:           90000,
		PollInterval:       5 * time.Millisecond,
		WaitTimeout:        50 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	return r, crypto.PubkeyToAddress(key.PublicKey)
}

func TestUnitsConversion(t *testing.T) {
	assert.Equal(t, "3600000", ToUnits(decimal.RequireFromString("3.6")).String())
	assert.Equal(t, "1234567", ToUnits(decimal.RequireFromString("1.2345678")).String())
	assert.Equal(t, "0", ToUnits(decimal.Zero).String())
	assert.Equal(t, "1.5", FromUnits(big.NewInt(1500000)).String())
	assert.True(t, FromUnits(nil).IsZero())
}

func TestParseTransfer(t *testing.T) {
	l := transferLog(tokenAddr, payerAddr, treasuryAddr, 2_000_000)
	tr, err := ParseTransfer(*l)
	require.NoError(t, err)
	assert.Equal(t, payerAddr, tr.From)
	assert.Equal(t, treasuryAddr, tr.To)
	assert.Equal(t, int64(2_000_000), tr.Value.Int64())
	assert.Equal(t, uint(4), tr.LogIndex)

	approval := *l
	approval.Topics = []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")), l.Topics[1], l.Topics[2]}
	_, err = ParseTransfer(approval)
	assert.Error(t, err)
}

func TestVerifyPayment(t *testing.T) {
	b := newFakeBackend()
	r, _ := newRail(t, b, 3)
	stake := decimal.RequireFromString("2")
	h := common.HexToHash("0x01")
	b.setReceipt(h, types.ReceiptStatusSuccessful, 10, transferLog(tokenAddr, payerAddr, treasuryAddr, 2_000_000))

	b.head = 11
	_, err := r.VerifyPayment(context.Background(), h.Hex(), payerAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentUnconfirmed)

	b.head = 12
	receipt, err := r.VerifyPayment(context.Background(), h.Hex(), payerAddr.Hex(), stake)
	require.NoError(t, err)
	assert.Equal(t, payerAddr.Hex(), receipt.From)
	assert.Equal(t, treasuryAddr.Hex(), receipt.To)
	assert.True(t, receipt.Amount.Equal(stake))
	assert.Equal(t, int64(10), receipt.BlockNumber)

	_, err = r.VerifyPayment(context.Background(), h.Hex(), treasuryAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentMismatch)

	_, err = r.VerifyPayment(context.Background(), h.Hex(), payerAddr.Hex(), decimal.RequireFromString("2.5"))
	assert.ErrorIs(t, err, interfaces.ErrPaymentMismatch)

	other := common.HexToHash("0x02")
	b.setReceipt(other, types.ReceiptStatusSuccessful, 10, transferLog(payerAddr, payerAddr, treasuryAddr, 2_000_000))
	_, err = r.VerifyPayment(context.Background(), other.Hex(), payerAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentMismatch, "transfer emitted by a different contract")

	reverted := common.HexToHash("0x03")
	b.setReceipt(reverted, types.ReceiptStatusFailed, 10)
	_, err = r.VerifyPayment(context.Background(), reverted.Hex(), payerAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentMismatch)

	_, err = r.VerifyPayment(context.Background(), common.HexToHash("0x04").Hex(), payerAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentNotFound)
	_, err = r.VerifyPayment(context.Background(), "0xnothex", payerAddr.Hex(), stake)
	assert.ErrorIs(t, err, interfaces.ErrPaymentNotFound)
}

func TestSendPayoutSignsTransfer(t *testing.T) {
	b := newFakeBackend()
	b.nonce = 7
	r, executor := newRail(t, b, 1)
	winner := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	hash, err := r.SendPayout(context.Background(), winner.Hex(), decimal.RequireFromString("13.5"), "prediction-1")
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(90000), tx.Gas())
	assert.Equal(t, tokenAddr, *tx.To())

	sender, err := types.Sender(types.NewEIP155Signer(b.chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, executor, sender)

	method := parsedERC20.Methods["transfer"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, winner, args[0])
	assert.Equal(t, "13500000", args[1].(*big.Int).String())

	_, err = r.SendPayout(context.Background(), winner.Hex(), decimal.Zero, "prediction-2")
	assert.Error(t, err)
	_, err = r.SendPayout(context.Background(), "nobody", decimal.RequireFromString("1"), "prediction-3")
	assert.Error(t, err)
}

func TestPayoutStatus(t *testing.T) {
	b := newFakeBackend()
	r, _ := newRail(t, b, 1)
	ctx := context.Background()

	hash, err := r.SendPayout(ctx, payerAddr.Hex(), decimal.RequireFromString("1"), "k")
	require.NoError(t, err)
	st, err := r.PayoutStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.PayoutPending, st)

	b.setReceipt(common.HexToHash(hash), types.ReceiptStatusSuccessful, 20)
	st, err = r.PayoutStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, interfaces.PayoutConfirmed, st)

	failed := common.HexToHash("0x0f")
	b.setReceipt(failed, types.ReceiptStatusFailed, 20)
	st, err = r.PayoutStatus(ctx, failed.Hex())
	require.NoError(t, err)
	assert.Equal(t, interfaces.PayoutFailed, st)

	st, err = r.PayoutStatus(ctx, common.HexToHash("0xdead").Hex())
	require.NoError(t, err)
	assert.Equal(t, interfaces.PayoutUnknown, st)
}

func TestWaitPayout(t *testing.T) {
	b := newFakeBackend()
	r, _ := newRail(t, b, 1)
	ctx := context.Background()

	ok := common.HexToHash("0x10")
	b.setReceipt(ok, types.ReceiptStatusSuccessful, 5)
	assert.NoError(t, r.WaitPayout(ctx, ok.Hex()))

	reverted := common.HexToHash("0x11")
	b.setReceipt(reverted, types.ReceiptStatusFailed, 5)
	assert.ErrorIs(t, r.WaitPayout(ctx, reverted.Hex()), interfaces.ErrPayoutReverted)

	assert.ErrorIs(t, r.WaitPayout(ctx, common.HexToHash("0x12").Hex()), interfaces.ErrPayoutTimeout)
}

func TestNewUSDCRailValidatesConfig(t *testing.T) {
	b := newFakeBackend()
	_, err := NewUSDCRail(context.Background(), b, &config.ChainConfig{TokenAddress: "x", TreasuryAddress: treasuryAddr.Hex()}, logrus.New())
	assert.Error(t, err)
	_, err = NewUSDCRail(context.Background(), b, &config.ChainConfig{
		TokenAddress:       tokenAddr.Hex(),
		TreasuryAddress:    treasuryAddr.Hex(),
		ExecutorPrivateKey: "0x1234",
	}, logrus.New())
	assert.Error(t, err)
}

func TestDisabledRail(t *testing.T) {
	d := NewDisabledRail(treasuryAddr.Hex())
	assert.Equal(t, treasuryAddr.Hex(), d.Treasury())
	_, err := d.VerifyPayment(context.Background(), "0x01", payerAddr.Hex(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, interfaces.ErrRailDisabled)
	_, err = d.SendPayout(context.Background(), payerAddr.Hex(), decimal.NewFromInt(1), "k")
	assert.ErrorIs(t, err, interfaces.ErrRailDisabled)
}
