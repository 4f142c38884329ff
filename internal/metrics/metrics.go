// Package metrics はPrometheusメトリクスの収集と公開を提供する。
// 管理者向けのシステムテレメトリとして/metricsエンドポイントから参照される。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// レジャー、シンクロナイザ、ブリッジ、ハンドラー層から利用する。
type MetricsCollector interface {
	RecordSignal(token string)
	RecordSignalDropped()
	RecordAward(points int, bottles int)
	RecordSyncRefresh()
	RecordAuthFailure(code string)
	RecordHTTPStatus(statusCode int)
	RecordAwardLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signals       *prometheus.CounterVec
	signalDropped prometheus.Counter
	pointsAwarded prometheus.Counter
	bottles       prometheus.Counter
	syncRefresh   prometheus.Counter
	authFail      *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	awardLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpoints_signals_total",
			Help: "受信した回収シグナルのトークン別合計数",
		}, []string{"token"}),
		signalDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenpoints_signals_dropped_total",
			Help: "認識されず破棄されたシグナルの合計数",
		}),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenpoints_points_awarded_total",
			Help: "付与されたポイントの合計数",
		}),
		bottles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenpoints_bottles_total",
			Help: "記録された回収ボトルの合計数",
		}),
		syncRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "greenpoints_session_refresh_total",
			Help: "シンクロナイザによるセッション更新の合計数",
		}),
		authFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpoints_auth_failures_total",
			Help: "認証失敗のエラーコード別合計数",
		}, []string{"code"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "greenpoints_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		awardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenpoints_award_latency_seconds",
			Help:    "ポイント加算処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.signals,
		c.signalDropped,
		c.pointsAwarded,
		c.bottles,
		c.syncRefresh,
		c.authFail,
		c.httpStatus,
		c.awardLatency,
	)

	return c
}

// RecordSignal は認識されたシグナルの受信を記録する。
func (c *Collector) RecordSignal(token string) {
	c.signals.WithLabelValues(token).Inc()
}

// RecordSignalDropped は認識されなかったシグナルの破棄を記録する。
func (c *Collector) RecordSignalDropped() {
	c.signalDropped.Inc()
}

// RecordAward はポイント加算を記録する。
func (c *Collector) RecordAward(points int, bottles int) {
	c.pointsAwarded.Add(float64(points))
	c.bottles.Add(float64(bottles))
}

// RecordSyncRefresh はシンクロナイザによるセッション更新を記録する。
func (c *Collector) RecordSyncRefresh() {
	c.syncRefresh.Inc()
}

// RecordAuthFailure は認証失敗をエラーコード別に記録する。
func (c *Collector) RecordAuthFailure(code string) {
	c.authFail.WithLabelValues(code).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAwardLatency はポイント加算処理のレイテンシを記録する。
func (c *Collector) RecordAwardLatency(duration time.Duration) {
	c.awardLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
