package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 全局配置结构体（与 config/config.yaml 一一对应）
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`     // 服务器配置
	Database   DatabaseConfig   `mapstructure:"database"`   // PostgreSQL 配置
	Log        LogConfig        `mapstructure:"log"`        // 日志配置
	Auth       AuthConfig       `mapstructure:"auth"`       // 管理员钱包与会话
	Prediction PredictionConfig `mapstructure:"prediction"` // 下注参数
	Settlement SettlementConfig `mapstructure:"settlement"` // 结算参数
	Claim      ClaimConfig      `mapstructure:"claim"`      // 领奖参数
	Chain      ChainConfig      `mapstructure:"chain"`      // 链上 USDC 支付通道
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`  // 统计对账任务
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`            // 服务端口
	Mode           string        `mapstructure:"mode"`            // Gin运行模式：debug/release/test
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // 单请求超时
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN（URL 形式）
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
	LogSQL          bool          `mapstructure:"log_sql"`           // 是否打印 SQL
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug/info/warn/error
	Format     string `mapstructure:"format"`      // text/json
	File       string `mapstructure:"file"`        // 为空则只输出到 stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单文件大小上限
	MaxBackups int    `mapstructure:"max_backups"` // 保留文件数
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	AdminWallet string        `mapstructure:"admin_wallet"` // 管理员钱包地址
	JWTSecret   string        `mapstructure:"jwt_secret"`   // 会话 token 签名密钥
	TokenTTL    time.Duration `mapstructure:"token_ttl"`    // 会话有效期
	CookieName  string        `mapstructure:"cookie_name"`
}

// PredictionConfig 下注配置
type PredictionConfig struct {
	Stake     string        `mapstructure:"stake"`      // 每笔下注金额（USDC）
	IntentTTL time.Duration `mapstructure:"intent_ttl"` // 待支付意向有效期
}

// SettlementConfig 结算配置
type SettlementConfig struct {
	BatchSize  int    `mapstructure:"batch_size"`  // 单批写入上限
	PrizeShare string `mapstructure:"prize_share"` // 奖池占比，如 0.9
}

// ClaimConfig 领奖配置
type ClaimConfig struct {
	LeaseTTL time.Duration `mapstructure:"lease_ttl"` // 进行中的领奖占用时长
}

// ChainConfig 链配置（USDC 收款与派奖）
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`              // HTTP RPC
	WSURL              string        `mapstructure:"ws_url"`               // 订阅用 WebSocket RPC，可空
	ChainID            int64         `mapstructure:"chain_id"`             // 0 表示从节点读取
	TokenAddress       string        `mapstructure:"token_address"`        // USDC 合约地址
	TreasuryAddress    string        `mapstructure:"treasury_address"`     // 收款地址
	ExecutorPrivateKey string        `mapstructure:"executor_private_key"` // 派奖账户私钥
	Confirmations      uint64        `mapstructure:"confirmations"`        // 入账所需确认数
	GasLimit           uint64        `mapstructure:"gas_limit"`
	PollInterval       time.Duration `mapstructure:"poll_interval"` // 等待回执的轮询间隔
	WaitTimeout        time.Duration `mapstructure:"wait_timeout"`  // 等待回执的超时
	Timeout            int           `mapstructure:"timeout"`       // RPC 请求超时（秒）
	Proxy              string        `mapstructure:"proxy"`         // 代理地址
}

// Enabled 是否已配置链上通道
func (c *ChainConfig) Enabled() bool {
	return c.RPCURL != "" && c.TokenAddress != "" && c.TreasuryAddress != ""
}

// ReconcileConfig 统计对账任务配置
type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Repair   bool          `mapstructure:"repair"` // 发现偏差时是否覆盖
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录读取 config.yaml
func LoadConfigFrom(dir string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.cookie_name", "strikerate_session")
	v.SetDefault("prediction.stake", "2")
	v.SetDefault("prediction.intent_ttl", 15*time.Minute)
	v.SetDefault("settlement.batch_size", 400)
	v.SetDefault("settlement.prize_share", "0.9")
	v.SetDefault("claim.lease_ttl", 2*time.Minute)
	v.SetDefault("chain.confirmations", 1)
	v.SetDefault("chain.gas_limit", 100000)
	v.SetDefault("chain.poll_interval", 2*time.Second)
	v.SetDefault("chain.wait_timeout", 60*time.Second)
	v.SetDefault("chain.timeout", 15)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", 10*time.Minute)
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ADMIN_WALLET_ADDRESS"); v != "" {
		cfg.Auth.AdminWallet = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_EXECUTOR_PRIVATE_KEY"); v != "" {
		cfg.Chain.ExecutorPrivateKey = v
	}
}

// Validate 校验启动必需的配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.AdminWallet) == "" {
		return fmt.Errorf("auth.admin_wallet 未配置（或设置 ADMIN_WALLET_ADDRESS）")
	}
	if _, err := c.Prediction.StakeAmount(); err != nil {
		return err
	}
	if _, err := c.Settlement.PrizeShareRatio(); err != nil {
		return err
	}
	if c.Settlement.BatchSize <= 0 {
		return fmt.Errorf("settlement.batch_size 必须大于 0")
	}
	return nil
}

// StakeAmount 解析下注金额
func (p PredictionConfig) StakeAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(p.Stake)
	if err != nil {
		return decimal.Zero, fmt.Errorf("prediction.stake 解析失败: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("prediction.stake 必须大于 0")
	}
	return d, nil
}

// PrizeShareRatio 解析奖池占比（0, 1]
func (s SettlementConfig) PrizeShareRatio() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s.PrizeShare)
	if err != nil {
		return decimal.Zero, fmt.Errorf("settlement.prize_share 解析失败: %w", err)
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("settlement.prize_share 须在 (0, 1] 区间")
	}
	return d, nil
}

// GetGORMConfig 获取 GORM 配置
func (d *DatabaseConfig) GetGORMConfig() gorm.Config {
	level := logger.Warn
	if d.LogSQL {
		level = logger.Info
	}
	return gorm.Config{Logger: logger.Default.LogMode(level)}
}
