// Package metrics 结算、领奖与签名校验的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics 指标集合，每个实例独立注册表
type Metrics struct {
	registry *prometheus.Registry

	SettlementDuration prometheus.Histogram
	MarketsSettled     *prometheus.CounterVec
	PredictionsScored  prometheus.Counter
	PredictionsCreated prometheus.Counter
	StakeVolume        prometheus.Counter
	Claims             *prometheus.CounterVec
	PayoutVolume       prometheus.Counter
	SignedActions      *prometheus.CounterVec
	StatsDrift         *prometheus.GaugeVec
	PaymentEvents      prometheus.Counter
}

// New 创建并注册所有指标
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strikerate_settlement_duration_seconds",
			Help:    "Wall time of a match completion request",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		MarketsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerate_markets_settled_total",
			Help: "Market settlement attempts by result",
		}, []string{"result"}),
		PredictionsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerate_predictions_scored_total",
			Help: "Predictions scored during settlement",
		}),
		PredictionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerate_predictions_created_total",
			Help: "Predictions recorded after a verified payment",
		}),
		StakeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerate_stake_volume_usdc",
			Help: "Total stake received in USDC",
		}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerate_claims_total",
			Help: "Prize claim attempts by result",
		}, []string{"result"}),
		PayoutVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerate_payout_volume_usdc",
			Help: "Total prizes paid out in USDC",
		}),
		SignedActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikerate_signed_actions_total",
			Help: "Signed action verifications by action and result",
		}, []string{"action", "result"}),
		StatsDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strikerate_stats_drift",
			Help: "Absolute difference between stored and recomputed statistics",
		}, []string{"field"}),
		PaymentEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikerate_payment_events_total",
			Help: "Inbound USDC transfers observed on chain",
		}),
	}
	registry.MustRegister(
		m.SettlementDuration,
		m.MarketsSettled,
		m.PredictionsScored,
		m.PredictionsCreated,
		m.StakeVolume,
		m.Claims,
		m.PayoutVolume,
		m.SignedActions,
		m.StatsDrift,
		m.PaymentEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 注册表
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSettlement 记录一次完赛请求耗时
func (m *Metrics) ObserveSettlement(start time.Time) {
	m.SettlementDuration.Observe(time.Since(start).Seconds())
}

// AddStake 累加下注金额
func (m *Metrics) AddStake(amount decimal.Decimal) {
	m.StakeVolume.Add(amount.InexactFloat64())
}

// AddPayout 累加派奖金额
func (m *Metrics) AddPayout(amount decimal.Decimal) {
	m.PayoutVolume.Add(amount.InexactFloat64())
}

// SignedAction 记录签名校验结果
func (m *Metrics) SignedAction(action, result string) {
	m.SignedActions.WithLabelValues(action, result).Inc()
}
