package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 抓取与入库相关指标。
var (
	// SearchRunsTotal 按结果统计搜索运行次数（success / failed / deduplicated / locked）。
	SearchRunsTotal *prometheus.CounterVec

	// SearchRunDuration 单次搜索运行耗时（抓取 + 分类 + 入库）。
	SearchRunDuration prometheus.Histogram

	// IngestItemsTotal 按结局统计入库条目（new_product / price_update / unchanged / skipped）。
	IngestItemsTotal *prometheus.CounterVec

	// ClassifierRequestsTotal 按阶段与结果统计分类请求。
	ClassifierRequestsTotal *prometheus.CounterVec

	// ClassifierRequestDuration 分类请求耗时。
	ClassifierRequestDuration prometheus.Histogram

	// ExtractorPagesTotal 按结果统计抓取的搜索结果页数。
	ExtractorPagesTotal *prometheus.CounterVec

	// QueueDepth 当前等待执行的搜索任务数。
	QueueDepth prometheus.Gauge
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标，可安全地多次调用。
func InitMetrics() {
	initOnce.Do(func() {
		SearchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricescout_search_runs_total",
			Help: "Search runs by outcome.",
		}, []string{"outcome"})

		SearchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricescout_search_run_duration_seconds",
			Help:    "Duration of a full search run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		})

		IngestItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricescout_ingest_items_total",
			Help: "Ingested listing items by outcome.",
		}, []string{"outcome"})

		ClassifierRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricescout_classifier_requests_total",
			Help: "Classifier adapter requests by stage and status.",
		}, []string{"stage", "status"})

		ClassifierRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricescout_classifier_request_duration_seconds",
			Help:    "Duration of classifier adapter requests.",
			Buckets: prometheus.DefBuckets,
		})

		ExtractorPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pricescout_extractor_pages_total",
			Help: "Scraped search result pages by status.",
		}, []string{"status"})

		QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pricescout_search_queue_depth",
			Help: "Pending search jobs in the worker queue.",
		})
	})
}
