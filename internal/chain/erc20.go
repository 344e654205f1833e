// Package chain USDC（ERC-20）收款校验与派奖
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// USDCDecimals 链上最小单位精度
const USDCDecimals = 6

// ERC-20 最小 ABI
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// TransferTopic Transfer(address indexed from, address indexed to, uint256 value)
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Transfer 解析后的 Transfer 事件
type Transfer struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

var errNotTransfer = errors.New("log is not an ERC-20 Transfer")

// ParseTransfer 解析 Transfer 日志：topic1 = from，topic2 = to，data = value
func ParseTransfer(l types.Log) (*Transfer, error) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return nil, errNotTransfer
	}
	if len(l.Data) != 32 {
		return nil, fmt.Errorf("transfer data length %d: %w", len(l.Data), errNotTransfer)
	}
	return &Transfer{
		Token:       l.Address,
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(l.Data),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// ToUnits 金额转链上最小单位，超出 6 位的小数截断
func ToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(USDCDecimals).Truncate(0).BigInt()
}

// FromUnits 链上最小单位转金额
func FromUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -USDCDecimals)
}

// packTransfer 编码 transfer(to, amount) 调用数据
func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return parsedERC20.Pack("transfer", to, amount)
}

// findTransfer 在回执日志中找 token 合约上 from → to 且金额不低于 min 的转账
func findTransfer(logs []*types.Log, token, from, to common.Address, min *big.Int) (*Transfer, error) {
	var short *Transfer
	for _, l := range logs {
		if l == nil || l.Address != token {
			continue
		}
		t, err := ParseTransfer(*l)
		if err != nil || t.From != from || t.To != to {
			continue
		}
		if t.Value.Cmp(min) >= 0 {
			return t, nil
		}
		short = t
	}
	if short != nil {
		return nil, fmt.Errorf("transferred %s USDC, need %s", FromUnits(short.Value), FromUnits(min))
	}
	return nil, fmt.Errorf("no USDC transfer from %s to %s", from.Hex(), to.Hex())
}
