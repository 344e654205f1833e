package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"StrikeRate/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	calls  atomic.Int32
	repair atomic.Bool
}

func (f *fakeStats) Reconcile(_ context.Context, repair bool) (*service.ReconcileReport, error) {
	f.calls.Add(1)
	f.repair.Store(repair)
	return &service.ReconcileReport{Drift: map[string]string{"users.total": "1 != 2"}, Repaired: repair}, nil
}

type fakePurger struct{ calls atomic.Int32 }

func (f *fakePurger) PurgeExpiredIntents(context.Context) (int64, error) {
	f.calls.Add(1)
	return 3, nil
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestSchedulerRunsJobs(t *testing.T) {
	stats, purger := &fakeStats{}, &fakePurger{}
	s, err := New(Options{
		ReconcileInterval: 20 * time.Millisecond,
		Repair:            true,
		PurgeInterval:     20 * time.Millisecond,
		StartImmediately:  true,
	}, stats, purger, quiet())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stats-reconcile", "intent-purge"}, s.Jobs())

	s.Start()
	assert.Eventually(t, func() bool {
		return stats.calls.Load() >= 2 && purger.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown())
	assert.True(t, stats.repair.Load())
}

func TestSchedulerSkipsDisabledJobs(t *testing.T) {
	s, err := New(Options{PurgeInterval: time.Minute}, &fakeStats{}, &fakePurger{}, quiet())
	require.NoError(t, err)
	assert.Equal(t, []string{"intent-purge"}, s.Jobs())
	s.Start()
	require.NoError(t, s.Shutdown())
}
