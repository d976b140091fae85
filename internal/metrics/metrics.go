// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン結果のラベル値
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeValidationFailed   = "validation_failed"
	OutcomeRateLimited        = "rate_limited"
	OutcomeError              = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやハンドラーから利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordGateVerdict(verdict string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn          *prometheus.CounterVec
	gateVerdicts    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	sessionsDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_sign_in_attempts_total",
			Help: "結果別のサインイン試行数",
		}, []string{"outcome"}),
		gateVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_gate_verdicts_total",
			Help: "リクエストゲートの判定別件数",
		}, []string{"verdict"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_expired_sessions_deleted_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.gateVerdicts,
		c.httpStatus,
		c.requestLatency,
		c.sessionsDeleted,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIn.WithLabelValues(outcome).Inc()
}

// RecordGateVerdict はゲートの判定（pass / redirect など）を記録する。
func (c *Collector) RecordGateVerdict(verdict string) {
	c.gateVerdicts.WithLabelValues(verdict).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsDeleted は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsDeleted(count int64) {
	c.sessionsDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
