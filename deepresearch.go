// Package deepresearch wires the research pipeline from configuration.
//
// Usage:
//
//	import "github.com/yanfeng98/fork-gemini-deepresearch"
//
//	p, err := deepresearch.New(deepresearch.WithConfig(cfg))
//	out, err := p.Run(ctx, []types.Message{types.NewUserMessage("...")})
//
// Without WithProvider / WithSearchProvider the OpenAI-compatible client and
// the Tavily client are built from the LLM and Search config sections.
package deepresearch

import (
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/config"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/metrics"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/observability"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/providers/openaicompat"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/research"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/researcher"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/scope"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/supervisor"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 各阶段的 LLM 调用分别打点
const (
	StageScope      = "scope"
	StageSupervisor = "supervisor"
	StageResearcher = "researcher"
	StageSummarize  = "summarize"
	StageReport     = "report"
)

// Option configures the pipeline created by [New].
type Option func(*options)

type options struct {
	config   *config.Config
	provider llm.Provider
	search   tools.WebSearchProvider
	logger   *zap.Logger

	collector *metrics.Collector
	tracer    trace.TracerProvider
	costs     *observability.CostTracker

	cache    tools.SearchCache
	cacheTTL time.Duration

	sink research.ReportSink
}

// WithConfig sets the configuration. Defaults to config.DefaultConfig().
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithProvider sets a pre-built reasoning engine used by every stage.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithSearchProvider sets the web search backend.
func WithSearchProvider(p tools.WebSearchProvider) Option {
	return func(o *options) { o.search = p }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics reports runs, LLM calls, searches, cache and archive events to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithTracerProvider sets the tracer provider for pipeline, coordinator and LLM spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithCostTracker accumulates LLM cost across all stages.
func WithCostTracker(t *observability.CostTracker) Option {
	return func(o *options) { o.costs = t }
}

// WithSearchCache memoizes search results, e.g. in redis via internal/cache.Manager.
func WithSearchCache(cache tools.SearchCache, ttl time.Duration) Option {
	return func(o *options) {
		o.cache = cache
		o.cacheTTL = ttl
	}
}

// WithReportSink archives every produced report.
func WithReportSink(sink research.ReportSink) Option {
	return func(o *options) { o.sink = sink }
}

// Components exposes the assembled parts for callers that need more than the pipeline.
type Components struct {
	Pipeline    *research.Pipeline
	Coordinator *supervisor.Coordinator
	Researcher  *researcher.Researcher
	Scoper      *scope.Scoper
}

// New builds a ready research pipeline.
func New(opts ...Option) (*research.Pipeline, error) {
	c, err := Build(opts...)
	if err != nil {
		return nil, err
	}
	return c.Pipeline, nil
}

// Build assembles every component from the options.
func Build(opts ...Option) (*Components, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.config == nil {
		o.config = config.DefaultConfig()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	cfg := o.config

	base := o.provider
	if base == nil {
		if cfg.LLM.APIKey == "" {
			return nil, types.NewError(types.ErrInvalidConfig, "llm.api_key is required (or set OPENAI_API_KEY)")
		}
		base = openaicompat.New(openaicompat.Config{
			ProviderName:   cfg.LLM.Provider,
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			DefaultModel:   cfg.LLM.Model,
			Timeout:        cfg.LLM.Timeout,
			EndpointPath:   cfg.LLM.ChatPath,
			ModelsEndpoint: "/models",
		}, o.logger)
	}

	search := o.search
	if search == nil {
		if cfg.Search.APIKey == "" {
			return nil, types.NewError(types.ErrInvalidConfig, "search.api_key is required (or set TAVILY_API_KEY)")
		}
		search = tools.NewTavilyProvider(tools.TavilyConfig{
			APIKey:       cfg.Search.APIKey,
			BaseURL:      cfg.Search.BaseURL,
			Timeout:      cfg.Search.Timeout,
			RateLimitRPS: cfg.Search.RateLimitRPS,
			Burst:        cfg.Search.Burst,
		}, o.logger)
	}
	if o.cache != nil {
		var observer tools.CacheObserver
		if o.collector != nil {
			observer = o.collector
		}
		search = tools.NewCachedSearchProvider(search, o.cache, o.cacheTTL, observer, o.logger)
	}

	var metricOpts []observability.MetricsOption
	if o.tracer != nil {
		metricOpts = append(metricOpts, observability.WithTracerProvider(o.tracer))
	}
	llmMetrics, err := observability.NewMetrics(metricOpts...)
	if err != nil {
		return nil, err
	}
	stage := func(name string) (llm.Provider, error) {
		instOpts := []observability.InstrumentOption{observability.WithStage(name)}
		if o.costs != nil {
			instOpts = append(instOpts, observability.WithCostTracker(o.costs))
		}
		if o.collector != nil {
			instOpts = append(instOpts, observability.WithRecorder(o.collector))
		}
		return observability.NewInstrumentedProvider(base, llmMetrics, o.logger, instOpts...)
	}

	llmRetryer := newRetryer(cfg.LLM.MaxRetries, o.logger)
	searchRetryer := newRetryer(cfg.Search.MaxRetries, o.logger)

	summarizeLLM, err := stage(StageSummarize)
	if err != nil {
		return nil, err
	}
	searchCfg := tools.DefaultWebSearchToolConfig()
	searchCfg.Provider = search
	searchCfg.DefaultOpts.MaxResults = cfg.Search.MaxResults
	searchCfg.DefaultOpts.Topic = cfg.Search.Topic
	searchCfg.DefaultOpts.IncludeRawContent = cfg.Search.IncludeRawContent
	searchCfg.Retryer = searchRetryer
	searchCfg.SummarizeConcurrency = cfg.Search.SummarizeConcurrency
	if cfg.Search.Timeout > 0 {
		searchCfg.Timeout = cfg.Search.Timeout
	}
	if o.collector != nil {
		searchCfg.Observer = o.collector
	}
	if cfg.Search.IncludeRawContent {
		summaryModel := cfg.LLM.SummarizationModel
		if summaryModel == "" {
			summaryModel = cfg.LLM.Model
		}
		searchCfg.Summarizer = researcher.NewWebpageSummarizer(summarizeLLM, summaryModel, llmRetryer)
	}

	researchLLM, err := stage(StageResearcher)
	if err != nil {
		return nil, err
	}
	worker, err := researcher.New(researchLLM, searchCfg, researcher.Config{
		Model:             cfg.LLM.Model,
		MaxToolIterations: cfg.Research.ResearcherMaxIterations,
	}, llmRetryer, o.logger)
	if err != nil {
		return nil, err
	}

	supervisorLLM, err := stage(StageSupervisor)
	if err != nil {
		return nil, err
	}
	reportLLM, err := stage(StageReport)
	if err != nil {
		return nil, err
	}
	writerModel := cfg.LLM.WriterModel
	if writerModel == "" {
		writerModel = cfg.LLM.Model
	}
	var aggOpts []supervisor.AggregatorOption
	if o.collector != nil {
		aggOpts = append(aggOpts, supervisor.WithFindingsRecorder(o.collector))
	}
	aggregator := supervisor.NewLLMAggregator(reportLLM, supervisor.AggregatorConfig{
		Model:               writerModel,
		MaxTokens:           cfg.LLM.WriterMaxTokens,
		FindingsTokenBudget: cfg.Research.FindingsTokenBudget,
		FallbackToNotes:     cfg.Research.ReportFallbackToNotes,
	}, o.logger, aggOpts...)

	policy, err := supervisor.ParseMixedActionPolicy(cfg.Research.MixedActionPolicy)
	if err != nil {
		return nil, err
	}
	coordOpts := []supervisor.Option{}
	if o.collector != nil {
		coordOpts = append(coordOpts, supervisor.WithRecorder(o.collector))
	}
	if o.tracer != nil {
		coordOpts = append(coordOpts, supervisor.WithTracerProvider(o.tracer))
	}
	coordinator, err := supervisor.NewCoordinator(
		supervisor.NewLLMDecisionMaker(supervisorLLM, cfg.LLM.Model, o.logger),
		worker,
		aggregator,
		supervisor.Config{
			MaxIterations:        cfg.Research.MaxIterations,
			MaxConcurrentWorkers: cfg.Research.MaxConcurrentWorkers,
			WorkerTimeout:        cfg.Research.WorkerTimeout,
			MixedActionPolicy:    policy,
		},
		o.logger, coordOpts...)
	if err != nil {
		return nil, err
	}

	scopeLLM, err := stage(StageScope)
	if err != nil {
		return nil, err
	}
	scoper, err := scope.New(scopeLLM, cfg.LLM.Model, o.logger, scope.WithRetryer(llmRetryer))
	if err != nil {
		return nil, err
	}

	var pipeOpts []research.Option
	if o.sink != nil {
		var observer research.SinkObserver
		if o.collector != nil {
			observer = o.collector
		}
		pipeOpts = append(pipeOpts, research.WithReportSink(o.sink, observer))
	}
	if o.tracer != nil {
		pipeOpts = append(pipeOpts, research.WithTracerProvider(o.tracer))
	}
	pipeline, err := research.NewPipeline(scoper, coordinator, research.Config{
		AllowClarification: cfg.Research.AllowClarification,
		SkipScope:          cfg.Research.SkipScope,
	}, o.logger, pipeOpts...)
	if err != nil {
		return nil, err
	}

	o.logger.Info("research pipeline assembled",
		zap.String("provider", base.Name()),
		zap.String("search", search.Name()),
		zap.String("model", cfg.LLM.Model),
		zap.String("writer_model", writerModel),
		zap.Bool("search_cache", o.cache != nil),
		zap.Bool("archive", o.sink != nil))

	return &Components{
		Pipeline:    pipeline,
		Coordinator: coordinator,
		Researcher:  worker,
		Scoper:      scoper,
	}, nil
}

func newRetryer(maxRetries int, logger *zap.Logger) retry.Retryer {
	if maxRetries <= 0 {
		return nil
	}
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = maxRetries
	return retry.NewBackoffRetryer(policy, logger)
}
