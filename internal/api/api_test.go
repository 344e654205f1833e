package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"StrikeRate/internal/auth"
	"StrikeRate/internal/metrics"
	"StrikeRate/internal/scoring"
	"StrikeRate/internal/service"
	"StrikeRate/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	treasury  = "0x00000000000000000000000000000000000000aa"
	jwtSecret = "api-test-secret"
)

type harness struct {
	t      *testing.T
	router *gin.Engine
	admin  testutil.Wallet
	rail   *testutil.FakeRail
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	logger := testutil.NewLogger()
	admin := testutil.NewWallet(t)
	verifier := auth.NewVerifier(admin.Address, logger)
	rail := testutil.NewFakeRail(treasury)
	m := metrics.New()
	scorers := scoring.NewRegistry()

	matches := service.NewMatchService(db, logger, verifier, scorers, m)
	settlement := service.NewSettlementService(db, logger, verifier, scorers, m, 400, decimal.RequireFromString("0.9"))
	predictions := service.NewPredictionService(db, logger, verifier, rail, m, decimal.NewFromInt(2), 15*time.Minute)
	claims := service.NewClaimService(db, logger, verifier, rail, m, time.Minute)
	authSvc := service.NewAuthService(db, logger, verifier, claims, m, jwtSecret, time.Hour)
	stats := service.NewStatsService(db, logger, m)

	r := gin.New()
	r.Use(RequestTimeout(10 * time.Second))
	RegisterRoutes(r, Handlers{
		Auth:       NewAuthHandler(authSvc, "", logger),
		Match:      NewMatchHandler(matches, settlement, predictions, logger),
		Prediction: NewPredictionHandler(predictions, claims, logger),
		User:       NewUserHandler(predictions, stats, logger),
		Session:    RequireSession([]byte(jwtSecret), ""),
		Metrics:    m.Handler(),
	})
	return &harness{t: t, router: r, admin: admin, rail: rail}
}

func (h *harness) do(method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// signed 走 /api/prepare 取 nonce 与文本，签名后与 extra 合并成请求体
func (h *harness) signed(w testutil.Wallet, action auth.Action, params auth.Params, extra gin.H) gin.H {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/prepare", gin.H{
		"walletAddress": w.Address,
		"action":        action,
		"params":        params,
	})
	require.Equal(h.t, http.StatusOK, resp.Code, resp.Body.String())
	var prep service.PrepareResult
	require.NoError(h.t, json.Unmarshal(resp.Body.Bytes(), &prep))
	body := gin.H{
		"walletAddress": w.Address,
		"nonce":         prep.Nonce,
		"message":       prep.Message,
		"signature":     w.Sign(h.t, prep.Message),
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func scoreFields(t1, w1, t2, w2 int) gin.H {
	return gin.H{"team1Score": t1, "team1Wickets": w1, "team2Score": t2, "team2Wickets": w2}
}

func merge(a, b gin.H) gin.H {
	for k, v := range b {
		a[k] = v
	}
	return a
}

func (h *harness) createMatch() string {
	h.t.Helper()
	fields := gin.H{
		"team1": "India", "team2": "Australia", "matchType": "T20",
		"stadium": "Eden Gardens", "matchTime": "2026-11-01T14:00:00Z",
	}
	body := h.signed(h.admin, auth.ActionCreateMatch, auth.Params{
		Team1: "India", Team2: "Australia", MatchType: "T20",
		Stadium: "Eden Gardens", MatchTime: "2026-11-01T14:00:00Z",
	}, fields)
	w := h.do(http.MethodPost, "/api/matches", body)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decodeBody(h.t, w)["id"].(string)
	require.NotEmpty(h.t, id)
	return id
}

func (h *harness) predict(user testutil.Wallet, matchID, txHash string, t1, w1, t2, w2 int) string {
	h.t.Helper()
	params := auth.Params{MatchID: matchID, Team1Score: t1, Team1Wickets: w1, Team2Score: t2, Team2Wickets: w2}
	body := h.signed(user, auth.ActionCreatePrediction, params, merge(gin.H{"matchId": matchID}, scoreFields(t1, w1, t2, w2)))
	w := h.do(http.MethodPost, "/api/predictions", body)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	desc := decodeBody(h.t, w)
	assert.Equal(h.t, true, desc["requiresPayment"])
	assert.Equal(h.t, treasury, desc["recipient"])

	h.rail.AddPayment(txHash, user.Address, decimal.NewFromInt(2))
	w = h.do(http.MethodPost, "/api/predictions/confirm", merge(gin.H{
		"matchId":       matchID,
		"walletAddress": user.Address,
		"paymentTxHash": txHash,
	}, scoreFields(t1, w1, t2, w2)))
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	id, _ := decodeBody(h.t, w)["predictionId"].(string)
	require.NotEmpty(h.t, id)
	return id
}

func (h *harness) lock(matchID string) {
	h.t.Helper()
	body := h.signed(h.admin, auth.ActionLockMatch, auth.Params{MatchID: matchID}, gin.H{"matchId": matchID})
	w := h.do(http.MethodPost, "/api/matches/lock", body)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
}

func (h *harness) complete(matchID string, t1, w1, t2, w2 int) *httptest.ResponseRecorder {
	h.t.Helper()
	params := auth.Params{MatchID: matchID, Team1Score: t1, Team1Wickets: w1, Team2Score: t2, Team2Wickets: w2}
	body := h.signed(h.admin, auth.ActionCompleteMatch, params, merge(gin.H{"matchId": matchID}, scoreFields(t1, w1, t2, w2)))
	return h.do(http.MethodPost, "/api/matches/complete", body)
}

func amountOf(t *testing.T, v interface{}) string {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "amount should be a JSON string, got %v", v)
	return decimal.RequireFromString(s).Round(6).StringFixed(6)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", service.ErrBadSignature), http.StatusUnauthorized},
		{service.ErrStaleNonce, http.StatusUnauthorized},
		{fmt.Errorf("match %w", service.ErrNotFound), http.StatusNotFound},
		{service.ErrStateConflict, http.StatusBadRequest},
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrNotWinner, http.StatusBadRequest},
		{service.ErrAlreadyClaimed, http.StatusBadRequest},
		{service.ErrInvalidPayment, http.StatusBadRequest},
		{service.ErrPayoutPending, http.StatusConflict},
		{service.ErrPayoutFailed, http.StatusBadGateway},
		{service.ErrSettlementIncomplete, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusOf(c.err), c.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, testutil.NewLogger(), "test", errors.New("pq: relation \"users\" does not exist"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestEndToEndOverHTTP(t *testing.T) {
	h := newHarness(t)
	alice := testutil.NewWallet(t)
	bob := testutil.NewWallet(t)

	matchID := h.createMatch()
	alicePred := h.predict(alice, matchID, "0xstake-alice", 180, 6, 150, 8)
	bobPred := h.predict(bob, matchID, "0xstake-bob", 150, 5, 140, 7)

	w := h.do(http.MethodGet, "/api/matches/"+matchID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decodeBody(t, w)
	assert.Equal(t, "UPCOMING", detail["status"])
	assert.Len(t, detail["markets"], 1)

	h.lock(matchID)

	w = h.complete(matchID, 180, 6, 150, 8)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeBody(t, w)
	assert.EqualValues(t, 1, result["winnerCount"])
	assert.Equal(t, "3.600000", amountOf(t, result["prizePool"]))
	assert.EqualValues(t, 100, result["highestScore"])

	// 第二次完赛是状态冲突
	w = h.complete(matchID, 180, 6, 150, 8)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/api/matches/"+matchID+"/predictions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["total"])

	// 输家领奖
	claimBody := func(user testutil.Wallet, predID string) gin.H {
		return h.signed(user, auth.ActionClaimPrize, auth.Params{PredictionID: predID},
			gin.H{"matchId": matchID, "predictionId": predID})
	}
	w = h.do(http.MethodPost, "/api/predictions/claim", claimBody(bob, bobPred))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/api/predictions/claim", claimBody(alice, alicePred))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claim := decodeBody(t, w)
	assert.Equal(t, "0xpayout0001", claim["txSignature"])
	assert.Equal(t, "3.600000", amountOf(t, claim["amount"]))

	w = h.do(http.MethodPost, "/api/predictions/claim", claimBody(alice, alicePred))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Len(t, h.rail.Payouts(), 1)

	w = h.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	winnings := stats["winnings"].(map[string]interface{})
	assert.EqualValues(t, 1, winnings["totalClaims"])
	matches := stats["matches"].(map[string]interface{})
	assert.EqualValues(t, 1, matches["completed"])
	assert.EqualValues(t, 0, matches["live"])

	w = h.do(http.MethodGet, "/api/matches/"+matchID+"/settlements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["list"], 1)
}

func TestSignedRequestRejections(t *testing.T) {
	h := newHarness(t)
	matchID := h.createMatch()

	// nonce 缺失
	w := h.do(http.MethodPost, "/api/matches/lock", gin.H{
		"walletAddress": h.admin.Address, "signature": "0x00", "matchId": matchID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 重放同一请求
	body := h.signed(h.admin, auth.ActionLockMatch, auth.Params{MatchID: matchID}, gin.H{"matchId": matchID})
	w = h.do(http.MethodPost, "/api/matches/lock", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = h.do(http.MethodPost, "/api/matches/lock", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// 非管理员
	mallory := testutil.NewWallet(t)
	body = h.signed(mallory, auth.ActionCompleteMatch, auth.Params{MatchID: matchID},
		merge(gin.H{"matchId": matchID}, scoreFields(0, 0, 0, 0)))
	w = h.do(http.MethodPost, "/api/matches/complete", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// 未知比赛
	body = h.signed(h.admin, auth.ActionLockMatch, auth.Params{MatchID: "missing"}, gin.H{"matchId": "missing"})
	w = h.do(http.MethodPost, "/api/matches/lock", body)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	// 锁盘后不再接受下注
	user := testutil.NewWallet(t)
	params := auth.Params{MatchID: matchID, Team1Score: 100, Team1Wickets: 3, Team2Score: 90, Team2Wickets: 4}
	body = h.signed(user, auth.ActionCreatePrediction, params, merge(gin.H{"matchId": matchID}, scoreFields(100, 3, 90, 4)))
	w = h.do(http.MethodPost, "/api/predictions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestConfirmWithoutPayment(t *testing.T) {
	h := newHarness(t)
	user := testutil.NewWallet(t)
	matchID := h.createMatch()

	params := auth.Params{MatchID: matchID, Team1Score: 120, Team1Wickets: 4, Team2Score: 110, Team2Wickets: 9}
	body := h.signed(user, auth.ActionCreatePrediction, params, merge(gin.H{"matchId": matchID}, scoreFields(120, 4, 110, 9)))
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/predictions", body).Code)

	w := h.do(http.MethodPost, "/api/predictions/confirm", merge(gin.H{
		"matchId":       matchID,
		"walletAddress": user.Address,
		"paymentTxHash": "0xnever-paid",
	}, scoreFields(120, 4, 110, 9)))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w)["error"], "invalid payment")
}

func TestSignInSessionAndProfile(t *testing.T) {
	h := newHarness(t)
	user := testutil.NewWallet(t)

	w := h.do(http.MethodGet, "/api/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ts := "1767225600000"
	body := h.signed(user, auth.ActionSignIn, auth.Params{Timestamp: ts}, gin.H{"timestamp": ts})
	w = h.do(http.MethodPost, "/api/auth/sign-in", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	signIn := decodeBody(t, w)
	assert.Equal(t, false, signIn["isAdmin"])

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == defaultCookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	w = h.do(http.MethodGet, "/api/users/me", nil, session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	me := decodeBody(t, w)
	assert.EqualValues(t, 0, me["total"])

	// Bearer 头同样可用
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signIn["token"].(string))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 非管理员不能手动对账
	w = h.do(http.MethodPost, "/api/stats/reconcile", nil, session)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 重放登录
	w = h.do(http.MethodPost, "/api/auth/sign-in", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminReconcile(t *testing.T) {
	h := newHarness(t)
	token, err := auth.IssueToken([]byte(jwtSecret), h.admin.Address, true, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/stats/reconcile?repair=true", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w), "drift")
}

func TestRegisterAndLookups(t *testing.T) {
	h := newHarness(t)
	user := testutil.NewWallet(t)

	w := h.do(http.MethodPost, "/api/auth/register", gin.H{"walletAddress": user.Address})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.Address, decodeBody(t, w)["walletAddress"])

	w = h.do(http.MethodPost, "/api/auth/register", gin.H{"walletAddress": "not-a-wallet"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/matches/unknown", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/matches/unknown/predictions", nil).Code)

	h.createMatch()
	w = h.do(http.MethodGet, "/api/matches?status=upcoming", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])

	w = h.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestTimeoutSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestTimeout(time.Second))
	var deadline bool
	r.GET("/x", func(c *gin.Context) {
		_, deadline = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil).WithContext(context.Background()))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, deadline)
}
