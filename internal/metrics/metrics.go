// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// matching・claim・item・notifyの各RecorderとHTTP・ワーカーの記録先を兼ねる。
type Collector struct {
	proposals         prometheus.Counter
	proposalFailures  prometheus.Counter
	matchScore        prometheus.Histogram
	matchesConfirmed  prometheus.Counter
	matchesRejected   prometheus.Counter
	proposalsExpired  prometheus.Counter
	claimsSubmitted   prometheus.Counter
	claimsProcessed   *prometheus.CounterVec
	itemsReported     *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	bulletinImported  prometheus.Counter
	bulletinFailures  prometheus.Counter
	bulletinLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_match_proposals_total",
			Help: "自動提案されたマッチの合計数",
		}),
		proposalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_match_proposal_failures_total",
			Help: "保存に失敗したマッチ提案の合計数",
		}),
		matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_match_score",
			Help:    "自動提案されたマッチのスコア分布",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		matchesConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_matches_confirmed_total",
			Help: "管理者が確定したマッチの合計数",
		}),
		matchesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_matches_rejected_total",
			Help: "管理者が却下したマッチの合計数",
		}),
		proposalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_match_proposals_expired_total",
			Help: "期限切れで却下された自動提案の合計数",
		}),
		claimsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_claims_submitted_total",
			Help: "提出された返還申請の合計数",
		}),
		claimsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_claims_processed_total",
			Help: "結果別の返還申請処理数",
		}, []string{"outcome"}),
		itemsReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_items_reported_total",
			Help: "種別ごとの届出数",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_notifications_total",
			Help: "結果別の通知送信数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lostfound_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		bulletinImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_bulletin_items_imported_total",
			Help: "掲示板から取り込んだ拾得物の合計数",
		}),
		bulletinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lostfound_bulletin_fetch_failures_total",
			Help: "掲示板フィード取得失敗の合計数",
		}),
		bulletinLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lostfound_bulletin_fetch_latency_seconds",
			Help:    "掲示板フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.proposals,
		c.proposalFailures,
		c.matchScore,
		c.matchesConfirmed,
		c.matchesRejected,
		c.proposalsExpired,
		c.claimsSubmitted,
		c.claimsProcessed,
		c.itemsReported,
		c.notifications,
		c.httpStatus,
		c.bulletinImported,
		c.bulletinFailures,
		c.bulletinLatency,
	)

	return c
}

// RecordProposal は自動提案の保存とそのスコアを記録する。
func (c *Collector) RecordProposal(score int) {
	c.proposals.Inc()
	c.matchScore.Observe(float64(score))
}

// RecordProposalFailure は提案の保存失敗を記録する。
func (c *Collector) RecordProposalFailure() {
	c.proposalFailures.Inc()
}

func (c *Collector) RecordMatchConfirmed() {
	c.matchesConfirmed.Inc()
}

func (c *Collector) RecordMatchRejected() {
	c.matchesRejected.Inc()
}

// RecordProposalsExpired は期限切れで却下した提案数を記録する。
func (c *Collector) RecordProposalsExpired(count int) {
	c.proposalsExpired.Add(float64(count))
}

func (c *Collector) RecordClaimSubmitted() {
	c.claimsSubmitted.Inc()
}

// RecordClaimProcessed は申請の処理結果（approved, rejected, canceled, auto_rejected）を記録する。
func (c *Collector) RecordClaimProcessed(outcome string) {
	c.claimsProcessed.WithLabelValues(outcome).Inc()
}

// RecordItemReported は届出（lost, found, bulletin）を記録する。
func (c *Collector) RecordItemReported(kind string) {
	c.itemsReported.WithLabelValues(kind).Inc()
}

// RecordNotification は通知の送信結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBulletinImported は掲示板から取り込んだ件数を記録する。
func (c *Collector) RecordBulletinImported(count int) {
	c.bulletinImported.Add(float64(count))
}

// RecordBulletinFetchFailure は掲示板フィードの取得失敗を記録する。
func (c *Collector) RecordBulletinFetchFailure() {
	c.bulletinFailures.Inc()
}

// RecordBulletinLatency は掲示板フィード取得のレイテンシを記録する。
func (c *Collector) RecordBulletinLatency(duration time.Duration) {
	c.bulletinLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
