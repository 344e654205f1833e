package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"
	"StrikeRate/internal/scoring"
	"StrikeRate/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const treasury = "0x00000000000000000000000000000000000000aa"

type env struct {
	t           *testing.T
	ctx         context.Context
	db          *gorm.DB
	admin       testutil.Wallet
	verifier    *auth.Verifier
	rail        *testutil.FakeRail
	metrics     *metrics.Metrics
	scorers     *scoring.Registry
	matches     *MatchService
	settlement  *SettlementService
	predictions *PredictionService
	claims      *ClaimService
	auth        *AuthService
	stats       *StatsService
}

type envOption func(*envConfig)

type envConfig struct {
	stake         string
	batchSize     int
	settleScorers *scoring.Registry
}

func withStake(stake string) envOption { return func(c *envConfig) { c.stake = stake } }

func withBatchSize(n int) envOption { return func(c *envConfig) { c.batchSize = n } }

func withSettlementScorers(r *scoring.Registry) envOption {
	return func(c *envConfig) { c.settleScorers = r }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := &envConfig{stake: "2", batchSize: 400}
	for _, o := range opts {
		o(cfg)
	}
	db := testutil.NewDB(t)
	logger := testutil.NewLogger()
	admin := testutil.NewWallet(t)
	verifier := auth.NewVerifier(admin.Address, logger)
	rail := testutil.NewFakeRail(treasury)
	m := metrics.New()
	scorers := scoring.NewRegistry()
	settleScorers := scorers
	if cfg.settleScorers != nil {
		settleScorers = cfg.settleScorers
	}
	stake := decimal.RequireFromString(cfg.stake)
	claims := NewClaimService(db, logger, verifier, rail, m, time.Minute)
	return &env{
		t:           t,
		ctx:         context.Background(),
		db:          db,
		admin:       admin,
		verifier:    verifier,
		rail:        rail,
		metrics:     m,
		scorers:     scorers,
		matches:     NewMatchService(db, logger, verifier, scorers, m),
		settlement:  NewSettlementService(db, logger, verifier, settleScorers, m, cfg.batchSize, decimal.RequireFromString("0.9")),
		predictions: NewPredictionService(db, logger, verifier, rail, m, stake, 15*time.Minute),
		claims:      claims,
		auth:        NewAuthService(db, logger, verifier, claims, m, "test-secret", time.Hour),
		stats:       NewStatsService(db, logger, m),
	}
}

// signed 按当前 nonce 生成签名字段
func (e *env) signed(w testutil.Wallet, action auth.Action, params auth.Params) SignedFields {
	e.t.Helper()
	nonce, msg, err := e.verifier.Prepare(e.ctx, e.db, w.Address, action, params)
	require.NoError(e.t, err)
	return SignedFields{Actor: w.Address, Nonce: nonce, Signature: w.Sign(e.t, msg)}
}

func (e *env) createMatch() *MatchDetail {
	e.t.Helper()
	req := CreateMatchRequest{
		Team1:     "India",
		Team2:     "Australia",
		MatchType: model.MatchTypeT20,
		Stadium:   "Wankhede",
		MatchTime: "2026-11-01T14:00:00Z",
	}
	req.Signed = e.signed(e.admin, auth.ActionCreateMatch, auth.Params{
		Team1: req.Team1, Team2: req.Team2, MatchType: string(req.MatchType),
		Stadium: req.Stadium, MatchTime: req.MatchTime,
	})
	m, err := e.matches.CreateMatch(e.ctx, req)
	require.NoError(e.t, err)
	return m
}

func (e *env) createMarket(matchID string, t model.MarketType) *model.Market {
	e.t.Helper()
	mk, err := e.matches.CreateMarket(e.ctx, CreateMarketRequest{
		MatchID:    matchID,
		MarketType: t,
		Signed:     e.signed(e.admin, auth.ActionCreateMarket, auth.Params{MatchID: matchID, MarketType: string(t)}),
	})
	require.NoError(e.t, err)
	return mk
}

func (e *env) lock(matchID string) {
	e.t.Helper()
	err := e.matches.LockMatch(e.ctx, LockMatchRequest{
		MatchID: matchID,
		Signed:  e.signed(e.admin, auth.ActionLockMatch, auth.Params{MatchID: matchID}),
	})
	require.NoError(e.t, err)
}

func predictionParams(matchID string, fs model.FinalScore) auth.Params {
	return auth.Params{
		MatchID:      matchID,
		Team1Score:   fs.Team1Score,
		Team1Wickets: fs.Team1Wickets,
		Team2Score:   fs.Team2Score,
		Team2Wickets: fs.Team2Wickets,
	}
}

// prepare 第一阶段
func (e *env) prepare(w testutil.Wallet, matchID, marketID string, fs model.FinalScore) (*PaymentDescriptor, error) {
	e.t.Helper()
	return e.predictions.Prepare(e.ctx, PredictionRequest{
		MatchID:   matchID,
		MarketID:  marketID,
		Predicted: fs,
		Signed:    e.signed(w, auth.ActionCreatePrediction, predictionParams(matchID, fs)),
	})
}

// pay 在假通道登记一笔转账并返回交易哈希
func (e *env) pay(w testutil.Wallet, desc *PaymentDescriptor) string {
	hash := fmt.Sprintf("0xstake-%s", desc.IntentID)
	e.rail.AddPayment(hash, w.Address, desc.Amount)
	return hash
}

// predict 完整两阶段下注
func (e *env) predict(w testutil.Wallet, matchID, marketID string, fs model.FinalScore) *model.Prediction {
	e.t.Helper()
	desc, err := e.prepare(w, matchID, marketID, fs)
	require.NoError(e.t, err)
	pred, err := e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       matchID,
		MarketID:      marketID,
		Actor:         w.Address,
		Predicted:     fs,
		PaymentTxHash: e.pay(w, desc),
	})
	require.NoError(e.t, err)
	return pred
}

func (e *env) complete(matchID string, fs model.FinalScore) (*CompleteResult, error) {
	e.t.Helper()
	params := predictionParams(matchID, fs)
	return e.settlement.Complete(e.ctx, CompleteRequest{
		MatchID: matchID,
		Final:   fs,
		Signed:  e.signed(e.admin, auth.ActionCompleteMatch, params),
	})
}

func (e *env) claim(w testutil.Wallet, predictionID string) (*ClaimResult, error) {
	e.t.Helper()
	params, err := e.claims.PrepareParams(e.ctx, predictionID)
	require.NoError(e.t, err)
	return e.claims.Claim(e.ctx, ClaimRequest{
		MatchID:      params.MatchID,
		PredictionID: predictionID,
		Signed:       e.signed(w, auth.ActionClaimPrize, params),
	})
}

func (e *env) prediction(id string) *model.Prediction {
	e.t.Helper()
	p, err := repository.NewPredictionRepository(e.db).GetPrediction(e.ctx, id)
	require.NoError(e.t, err)
	return p
}

func (e *env) match(id string) *model.Match {
	e.t.Helper()
	m, err := repository.NewMatchRepository(e.db).GetMatch(e.ctx, id)
	require.NoError(e.t, err)
	return m
}

func (e *env) user(wallet string) *model.User {
	e.t.Helper()
	u, err := repository.NewUserRepository(e.db).GetUser(e.ctx, wallet)
	require.NoError(e.t, err)
	return u
}

func (e *env) nonce(wallet string) int64 {
	e.t.Helper()
	rec, err := repository.NewNonceRepository(e.db).Get(e.ctx, wallet)
	require.NoError(e.t, err)
	return rec.Nonce
}

func (e *env) statsView() *StatsView {
	e.t.Helper()
	v, err := e.stats.Get(e.ctx)
	require.NoError(e.t, err)
	return v
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	finalResult = model.FinalScore{Team1Score: 180, Team1Wickets: 6, Team2Score: 150, Team2Wickets: 8}
	partialPick = model.FinalScore{Team1Score: 150, Team1Wickets: 5, Team2Score: 140, Team2Wickets: 7}
)

// assertAmount 按 6 位小数比较金额；sqlite 以浮点存储 numeric 列
func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, dec(want).StringFixed(6), got.Round(6).StringFixed(6))
}
