// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ロール解決フロー、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event string)
	RecordSignUp(role string)
	RecordProfileCreated(source string)
	RecordRoleResolution(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents      *prometheus.CounterVec
	signUps         *prometheus.CounterVec
	profilesCreated *prometheus.CounterVec
	roleResolutions *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	sessionsDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobconnect_auth_events_total",
			Help: "認証イベント種別ごとの発生数",
		}, []string{"event"}),
		signUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobconnect_signups_total",
			Help: "ロール別のメール/パスワードサインアップ数",
		}, []string{"role"}),
		profilesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobconnect_profiles_created_total",
			Help: "作成経路別のプロフィール作成数",
		}, []string{"source"}),
		roleResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobconnect_role_resolutions_total",
			Help: "結果別のロール解決数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobconnect_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobconnect_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobconnect_sessions_deleted_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.signUps,
		c.profilesCreated,
		c.roleResolutions,
		c.httpStatus,
		c.requestLatency,
		c.sessionsDeleted,
	)

	return c
}

// RecordAuthEvent は認証イベント（SIGNED_IN等）を記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordSignUp はサインアップを記録する。
func (c *Collector) RecordSignUp(role string) {
	c.signUps.WithLabelValues(role).Inc()
}

// RecordProfileCreated はプロフィール作成を記録する。sourceは"signup"または"oauth"。
func (c *Collector) RecordProfileCreated(source string) {
	c.profilesCreated.WithLabelValues(source).Inc()
}

// RecordRoleResolution はロール解決フローの結果を記録する。
func (c *Collector) RecordRoleResolution(outcome string) {
	c.roleResolutions.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsDeleted は削除したセッション数を記録する。
func (c *Collector) RecordSessionsDeleted(count int64) {
	c.sessionsDeleted.Add(float64(count))
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
