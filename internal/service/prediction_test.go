package service

import (
	"testing"

	"StrikeRate/internal/model"
	"StrikeRate/internal/repository"
	"StrikeRate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionTwoStageFlow(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()

	desc, err := e.prepare(alice, m.ID, "", finalResult)
	require.NoError(t, err)
	assert.True(t, desc.RequiresPayment)
	assertAmount(t, "2", desc.Amount)
	assert.Equal(t, treasury, desc.Recipient)
	assert.Equal(t, m.Markets[0].ID, desc.MarketID)

	hash := e.pay(alice, desc)
	pred, err := e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		Actor:         alice.Address,
		Predicted:     finalResult,
		PaymentTxHash: hash,
	})
	require.NoError(t, err)
	assert.Equal(t, alice.Address, pred.UserID)
	assert.Equal(t, hash, pred.PaymentTxHash)
	assert.False(t, pred.IsWinner)
	assert.Nil(t, pred.PointsEarned)

	match := e.match(m.ID)
	assertAmount(t, "2", match.TotalPool)
	market, err := repository.NewMatchRepository(e.db).GetMarket(e.ctx, desc.MarketID)
	require.NoError(t, err)
	assertAmount(t, "2", market.TotalPool)

	assert.Equal(t, int64(1), e.user(alice.Address).TotalPredictions)
	st := e.statsView()
	assert.Equal(t, int64(1), st.Predictions.Total)
	assertAmount(t, "2", st.Predictions.TotalAmount)
	assert.Equal(t, int64(1), st.Users.Total)

	ev, err := repository.NewPaymentEventRepository(e.db).GetByTxHash(e.ctx, hash)
	require.NoError(t, err)
	assert.True(t, ev.Processed)
	require.NotNil(t, ev.PredictionID)
	assert.Equal(t, pred.ID, *ev.PredictionID)

	list, err := e.predictions.ListByMatch(e.ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	profile, err := e.predictions.Profile(e.ctx, alice.Address, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.Total)
	assert.Equal(t, pred.ID, profile.Predictions[0].ID)
}

func TestPrepareRejectsSecondPrediction(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()
	e.predict(alice, m.ID, "", finalResult)

	_, err := e.prepare(alice, m.ID, "", partialPick)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPrepareRejectsLockedMatch(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()
	e.lock(m.ID)

	_, err := e.prepare(alice, m.ID, "", finalResult)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestPrepareRejectsInvalidScores(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()

	_, err := e.prepare(alice, m.ID, "", model.FinalScore{Team1Score: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.prepare(alice, m.ID, "", model.FinalScore{Team1Score: 100, Team2Wickets: 11})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPrepareUnknownMatch(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	_, err := e.prepare(alice, "missing", "", finalResult)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmRequiresSignedIntent(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()

	desc, err := e.prepare(alice, m.ID, "", finalResult)
	require.NoError(t, err)
	hash := e.pay(alice, desc)

	_, err = e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		Actor:         alice.Address,
		Predicted:     partialPick,
		PaymentTxHash: hash,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	bob := testutil.NewWallet(t)
	_, err = e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		Actor:         bob.Address,
		Predicted:     finalResult,
		PaymentTxHash: hash,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, e.statsView().Predictions.Total)
}

func TestConfirmRejectsMissingPayment(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()
	_, err := e.prepare(alice, m.ID, "", finalResult)
	require.NoError(t, err)

	_, err = e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		Actor:         alice.Address,
		Predicted:     finalResult,
		PaymentTxHash: "0xnothing",
	})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	assert.True(t, e.match(m.ID).TotalPool.IsZero())
	assert.Zero(t, e.statsView().Predictions.Total)
}

func TestConfirmRejectsPaymentFromAnotherWallet(t *testing.T) {
	e := newEnv(t)
	alice, bob := testutil.NewWallet(t), testutil.NewWallet(t)
	m := e.createMatch()
	desc, err := e.prepare(alice, m.ID, "", finalResult)
	require.NoError(t, err)
	hash := e.pay(bob, desc)

	_, err = e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		Actor:         alice.Address,
		Predicted:     finalResult,
		PaymentTxHash: hash,
	})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestConfirmRejectsReusedPayment(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()
	pred := e.predict(alice, m.ID, "", finalResult)
	second := e.createMarket(m.ID, model.MarketTypeScore)

	_, err := e.prepare(alice, m.ID, second.ID, finalResult)
	require.NoError(t, err)
	_, err = e.predictions.Confirm(e.ctx, ConfirmRequest{
		MatchID:       m.ID,
		MarketID:      second.ID,
		Actor:         alice.Address,
		Predicted:     finalResult,
		PaymentTxHash: pred.PaymentTxHash,
	})
	assert.ErrorIs(t, err, ErrInvalidPayment)
	assert.Equal(t, int64(1), e.statsView().Predictions.Total)
}

func TestRecordPaymentIsIdempotent(t *testing.T) {
	e := newEnv(t)
	obs := &PaymentObservation{
		TxHash:      "0xobserved",
		From:        "0x0000000000000000000000000000000000000001",
		To:          treasury,
		Amount:      dec("2"),
		BlockNumber: 42,
		RawData:     map[string]interface{}{"logIndex": 3},
	}
	require.NoError(t, e.predictions.RecordPayment(e.ctx, obs))
	require.NoError(t, e.predictions.RecordPayment(e.ctx, obs))

	pending, err := repository.NewPaymentEventRepository(e.db).ListUnprocessed(e.ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(42), *pending[0].BlockNumber)
	assertAmount(t, "2", pending[0].Amount)
}

func TestPurgeExpiredIntents(t *testing.T) {
	e := newEnv(t)
	alice := testutil.NewWallet(t)
	m := e.createMatch()
	_, err := e.prepare(alice, m.ID, "", finalResult)
	require.NoError(t, err)

	n, err := e.predictions.PurgeExpiredIntents(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, e.db.Model(&model.PredictionIntent{}).Where("1 = 1").
		Update("expires_at", e.match(m.ID).CreatedAt.AddDate(0, 0, -1)).Error)
	n, err = e.predictions.PurgeExpiredIntents(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
