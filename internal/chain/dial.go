package chain

import (
	"context"
	"fmt"

	"StrikeRate/internal/config"
	"StrikeRate/internal/utils/httpclient"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Dial 通过 HTTP RPC 连接节点，复用带代理与超时的 HTTP 客户端
func Dial(ctx context.Context, cfg *config.ChainConfig, logger *logrus.Logger) (*ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url 必填")
	}
	c, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpclient.NewHTTPClient(cfg, logger)))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return ethclient.NewClient(c), nil
}

// DialSubscriber 订阅日志需要 WebSocket；未配置 ws_url 时返回 nil
func DialSubscriber(ctx context.Context, cfg *config.ChainConfig) (*ethclient.Client, error) {
	if cfg.WSURL == "" {
		return nil, nil
	}
	c, err := ethclient.DialContext(ctx, cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial ws rpc: %w", err)
	}
	return c, nil
}
