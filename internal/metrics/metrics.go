// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// セッション読み込みの結果
const (
	OutcomeAuthenticated  = "authenticated"
	OutcomeAnonymous      = "anonymous"
	OutcomeNetworkError   = "network_error"
	OutcomeInvalidPayload = "invalid_payload"
)

// SessionRecorder はセッションローダーが使うメトリクス記録のインターフェース。
type SessionRecorder interface {
	RecordLoad(outcome string)
	RecordBackendStatus(statusCode int)
	RecordLoadLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loads         *prometheus.CounterVec
	backendStatus *prometheus.CounterVec
	loadLatency   prometheus.Histogram
	rateLimited   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcwhitelist_session_load_total",
			Help: "セッション読み込みの結果別の合計数",
		}, []string{"outcome"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcwhitelist_backend_status_total",
			Help: "セッションエンドポイントのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		loadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcwhitelist_session_load_latency_seconds",
			Help:    "セッションエンドポイント呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcwhitelist_rate_limited_total",
			Help: "レート制限で拒否されたリクエストの合計数",
		}),
	}

	reg.MustRegister(
		c.loads,
		c.backendStatus,
		c.loadLatency,
		c.rateLimited,
	)

	return c
}

// RecordLoad はセッション読み込みの結果を記録する。
func (c *Collector) RecordLoad(outcome string) {
	c.loads.WithLabelValues(outcome).Inc()
}

// RecordBackendStatus はセッションエンドポイントのHTTPステータスコードを記録する。
func (c *Collector) RecordBackendStatus(statusCode int) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordLoadLatency はセッションエンドポイント呼び出しのレイテンシを記録する。
func (c *Collector) RecordLoadLatency(duration time.Duration) {
	c.loadLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないSessionRecorder。
type Nop struct{}

func (Nop) RecordLoad(string) {}

func (Nop) RecordBackendStatus(int) {}

func (Nop) RecordLoadLatency(time.Duration) {}
