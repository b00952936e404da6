// Package metrics 账本服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 交易结果标签
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// 重放来源标签
const (
	ReplaySourceCache = "cache"
	ReplaySourceStore = "store"
	ReplaySourceRace  = "race"
)

// Metrics 指标集合，nil 接收者上的方法都是空操作，测试里可以直接不传
type Metrics struct {
	registry prometheus.Gatherer

	// 交易计数，按类型和结果
	TransactionsTotal *prometheus.CounterVec
	// 幂等重放计数，按来源
	ReplaysTotal *prometheus.CounterVec
	// 提交耗时
	SubmitDuration prometheus.Histogram
	// outbox 投递计数，按结果
	OutboxPublishedTotal *prometheus.CounterVec
	// 幂等记录清理数
	IdempotencyPurgedTotal prometheus.Counter
}

// New 创建并注册指标，reg 为 nil 时使用独立的 Registry
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total submitted ledger transactions",
		}, []string{"type", "outcome"}),
		ReplaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "idempotent_replays_total",
			Help:      "Total idempotent replays",
		}, []string{"source"}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "submit_duration_seconds",
			Help:      "Transaction submit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		OutboxPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Total outbox publish attempts",
		}, []string{"status"}),
		IdempotencyPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "idempotency",
			Name:      "purged_total",
			Help:      "Total purged idempotency records",
		}),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.ReplaysTotal,
		m.SubmitDuration,
		m.OutboxPublishedTotal,
		m.IdempotencyPurgedTotal,
	)
	return m
}

// Handler /metrics 接口
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransaction(txType, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(txType, outcome).Inc()
	m.SubmitDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveReplay(source string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveOutbox(status string) {
	if m == nil {
		return
	}
	m.OutboxPublishedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObservePurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.IdempotencyPurgedTotal.Add(float64(n))
}
