// Package metrics provides the prometheus collector for research runs.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 研究运行指标
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	runIterations      prometheus.Histogram
	decisionsTotal     *prometheus.CounterVec
	delegationsTotal   *prometheus.CounterVec
	delegationFanout   prometheus.Histogram
	workerDuration     *prometheus.HistogramVec
	inflightWorkers    prometheus.Gauge
	findingsTrimmed    prometheus.Counter
	reportsStoredTotal *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 检索指标
	searchRequestsTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 registry。
// 同一进程内多个 Collector 需要不同的 namespace。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建注册到 reg 的指标收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.runsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_runs_total",
		Help:      "Total number of research runs by termination reason",
	}, []string{"termination"})

	c.runDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "research_run_duration_seconds",
		Help:      "Research run duration in seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	c.runIterations = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "research_iterations",
		Help:      "Coordinator iterations per research run",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})

	c.decisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_decisions_total",
		Help:      "Coordinator decisions by branch",
	}, []string{"branch"})

	c.delegationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_delegations_total",
		Help:      "Delegation batches by status",
	}, []string{"status"})

	c.delegationFanout = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "research_delegation_fanout",
		Help:      "Workers requested per delegation batch",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	c.workerDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "research_worker_duration_seconds",
		Help:      "Worker (sub-investigation) duration in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
	}, []string{"status"})

	c.inflightWorkers = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "research_inflight_workers",
		Help:      "Workers currently running",
	})

	c.findingsTrimmed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_findings_trimmed_total",
		Help:      "Final reports whose findings were trimmed to the token budget",
	})

	c.reportsStoredTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_reports_stored_total",
		Help:      "Archived reports by status",
	}, []string{"status"})

	c.llmRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Total number of LLM requests",
	}, []string{"provider", "model", "status"})

	c.llmRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "LLM request duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"provider", "model"})

	c.llmTokensUsed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_used_total",
		Help:      "Total number of tokens used",
	}, []string{"provider", "model", "type"})

	c.searchRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_requests_total",
		Help:      "Web search requests",
	}, []string{"provider", "status"})

	c.cacheHits = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache_type"})

	c.cacheMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache_type"})

	c.dbQueryDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "db_query_duration_seconds",
		Help:      "Report store query duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordRun 记录一次研究运行的结束
func (c *Collector) RecordRun(termination string, iterations int, duration time.Duration) {
	c.runsTotal.WithLabelValues(termination).Inc()
	c.runDuration.Observe(duration.Seconds())
	c.runIterations.Observe(float64(iterations))
}

// RecordDecision 记录决策分支：reflect / delegate / complete
func (c *Collector) RecordDecision(branch string) {
	c.decisionsTotal.WithLabelValues(branch).Inc()
}

// RecordDelegation 记录一批委派的结果与规模
func (c *Collector) RecordDelegation(status string, workers int) {
	c.delegationsTotal.WithLabelValues(status).Inc()
	c.delegationFanout.Observe(float64(workers))
}

// RecordWorker 记录单个 worker 的耗时
func (c *Collector) RecordWorker(status string, duration time.Duration) {
	c.workerDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// WorkerStarted 在途 worker +1
func (c *Collector) WorkerStarted() { c.inflightWorkers.Inc() }

// WorkerFinished 在途 worker -1
func (c *Collector) WorkerFinished() { c.inflightWorkers.Dec() }

// RecordFindingsTrimmed 记录一次笔记裁剪
func (c *Collector) RecordFindingsTrimmed() { c.findingsTrimmed.Inc() }

// RecordReportStored 记录报告归档结果
func (c *Collector) RecordReportStored(ok bool) {
	c.reportsStoredTotal.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordSearchRequest 记录检索请求
func (c *Collector) RecordSearchRequest(provider, status string) {
	c.searchRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBQuery 记录报告存储查询耗时
func (c *Collector) RecordDBQuery(operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
