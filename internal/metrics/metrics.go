// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordChallengeIssued(difficulty string)
	RecordDecision(reason string)
	RecordOracleLatency(duration time.Duration)
	RecordSampleRejected()
	RecordSweepDeleted(count int64)
	RecordSessionFinalized(state string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	challengesIssued  *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	oracleLatency     prometheus.Histogram
	samplesRejected   prometheus.Counter
	sweepDeleted      prometheus.Counter
	sessionsFinalized *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		challengesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_challenges_issued_total",
			Help: "発行されたチャレンジの難易度別合計数",
		}, []string{"difficulty"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_decisions_total",
			Help: "認証判定の理由別合計数",
		}, []string{"reason"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicegate_oracle_latency_seconds",
			Help:    "オラクル推論（3信号の並行取得）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_samples_rejected_total",
			Help: "品質検査で拒否された登録サンプルの合計数",
		}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicegate_sweep_deleted_total",
			Help: "スイープで削除されたチャレンジの合計数",
		}),
		sessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicegate_sessions_finalized_total",
			Help: "終端した認証セッションの状態別合計数",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.challengesIssued,
		c.decisions,
		c.oracleLatency,
		c.samplesRejected,
		c.sweepDeleted,
		c.sessionsFinalized,
	)

	return c
}

// RecordChallengeIssued はチャレンジの発行を記録する。
func (c *Collector) RecordChallengeIssued(difficulty string) {
	c.challengesIssued.WithLabelValues(difficulty).Inc()
}

// RecordDecision は認証判定を理由別に記録する。
func (c *Collector) RecordDecision(reason string) {
	c.decisions.WithLabelValues(reason).Inc()
}

// RecordOracleLatency はオラクル推論のレイテンシを記録する。
func (c *Collector) RecordOracleLatency(duration time.Duration) {
	c.oracleLatency.Observe(duration.Seconds())
}

// RecordSampleRejected は品質検査による登録サンプルの拒否を記録する。
func (c *Collector) RecordSampleRejected() {
	c.samplesRejected.Inc()
}

// RecordSweepDeleted はスイープで削除されたチャレンジ数を記録する。
func (c *Collector) RecordSweepDeleted(count int64) {
	c.sweepDeleted.Add(float64(count))
}

// RecordSessionFinalized は認証セッションの終端を状態別に記録する。
func (c *Collector) RecordSessionFinalized(state string) {
	c.sessionsFinalized.WithLabelValues(state).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
