package service

import (
	"context"
	"fmt"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PrepareResult 待签名文本
type PrepareResult struct {
	Nonce   int64  `json:"nonce"`
	Message string `json:"message"`
}

// SignInResult 登录结果
type SignInResult struct {
	Wallet    string    `json:"walletAddress"`
	IsAdmin   bool      `json:"isAdmin"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthService 签名准备、钱包登录与注册
type AuthService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	verifier  *auth.Verifier
	claims    *ClaimService
	metrics   *metrics.Metrics
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuthService 创建 AuthService。claims 用于领奖签名时读取服务端金额
func NewAuthService(db *gorm.DB, logger *logrus.Logger, verifier *auth.Verifier, claims *ClaimService, m *metrics.Metrics, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		db:        db,
		logger:    logger,
		verifier:  verifier,
		claims:    claims,
		metrics:   m,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Prepare 返回 nonce 与待签名文本。SIGN_IN 未带时间戳时由服务端生成；
// CLAIM_PRIZE 的金额与比赛 ID 以库内数据为准
func (s *AuthService) Prepare(ctx context.Context, actor string, action auth.Action, params auth.Params) (*PrepareResult, error) {
	switch action {
	case auth.ActionSignIn:
		if params.Timestamp == "" {
			params.Timestamp = fmt.Sprintf("%d", time.Now().UnixMilli())
		}
	case auth.ActionClaimPrize:
		if params.PredictionID == "" {
			return nil, fmt.Errorf("predictionId is required: %w", ErrInvalidInput)
		}
		p, err := s.claims.PrepareParams(ctx, params.PredictionID)
		if err != nil {
			return nil, err
		}
		params = p
	}
	nonce, msg, err := s.verifier.Prepare(ctx, s.db, actor, action, params)
	if err != nil {
		return nil, err
	}
	return &PrepareResult{Nonce: nonce, Message: msg}, nil
}

// SignIn 校验 SIGN_IN 签名，首次登录的钱包自动注册，签发会话 token
func (s *AuthService) SignIn(ctx context.Context, signed SignedFields, timestamp string) (*SignInResult, error) {
	wallet, ok := auth.NormalizeAddress(signed.Actor)
	if !ok {
		return nil, fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := verifyAction(ctx, tx, s.verifier, s.metrics, signed.action(auth.ActionSignIn, auth.Params{Timestamp: timestamp})); err != nil {
			return err
		}
		return registerUser(ctx, tx, wallet)
	})
	if err != nil {
		return nil, err
	}
	res := &SignInResult{Wallet: wallet, IsAdmin: s.verifier.IsAdmin(wallet)}
	if len(s.jwtSecret) > 0 {
		res.ExpiresAt = time.Now().Add(s.tokenTTL)
		if res.Token, err = auth.IssueToken(s.jwtSecret, wallet, res.IsAdmin, s.tokenTTL); err != nil {
			return nil, fmt.Errorf("issue session token: %w", err)
		}
	}
	s.logger.WithFields(logrus.Fields{"wallet": wallet, "admin": res.IsAdmin}).Info("钱包登录")
	return res, nil
}

// Register 幂等注册用户
func (s *AuthService) Register(ctx context.Context, walletAddress string) (string, error) {
	wallet, ok := auth.NormalizeAddress(walletAddress)
	if !ok {
		return "", fmt.Errorf("invalid wallet address: %w", ErrInvalidInput)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return registerUser(ctx, tx, wallet)
	})
	if err != nil {
		return "", err
	}
	return wallet, nil
}

// registerUser 新用户计入 users.total
func registerUser(ctx context.Context, tx *gorm.DB, wallet string) error {
	created, err := repository.NewUserRepository(tx).EnsureUser(ctx, wallet)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if !created {
		return nil
	}
	return ApplyStatsDelta(ctx, tx, StatsDelta{Users: UserCounts{Total: 1}})
}
