// =============================================================================
// deepresearch 主入口
// =============================================================================
//
// 使用方法:
//
//	deepresearch run --query "..."                 # 澄清 → 简报 → 研究 → 报告
//	deepresearch run --brief "..." --max-iterations 4
//	deepresearch reports --limit 10                # 列出归档报告
//	deepresearch reports --id <id>                 # 查看一份报告
//	deepresearch migrate up                        # 报告库迁移
//	deepresearch version
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	deepresearch "github.com/yanfeng98/fork-gemini-deepresearch"
	"github.com/yanfeng98/fork-gemini-deepresearch/config"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/cache"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/database"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/metrics"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/server"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/telemetry"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/observability"
	"github.com/yanfeng98/fork-gemini-deepresearch/research"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runResearch(os.Args[2:], os.Stdout)
	case "reports":
		err = runReports(os.Args[2:], os.Stdout)
	case "migrate":
		err = runMigrate(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🔬 run 命令
// =============================================================================

type runFlags struct {
	configPath     string
	query          string
	brief          string
	skipScope      bool
	maxIterations  int
	maxConcurrency int
	output         string
}

func parseRunFlags(args []string) (*runFlags, error) {
	f := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.query, "query", "", "Research request, scoped into a brief first")
	fs.StringVar(&f.brief, "brief", "", "Research brief, skips clarification and brief writing")
	fs.BoolVar(&f.skipScope, "skip-scope", false, "Treat --query as the brief")
	fs.IntVar(&f.maxIterations, "max-iterations", 0, "Override research.max_iterations")
	fs.IntVar(&f.maxConcurrency, "max-concurrency", 0, "Override research.max_concurrent_workers")
	fs.StringVar(&f.output, "output", "", "Write the report to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.query == "" && f.brief == "" {
		return nil, errors.New("one of --query or --brief is required")
	}
	if f.query != "" && f.brief != "" {
		return nil, errors.New("--query and --brief are mutually exclusive")
	}
	return f, nil
}

// apply 命令行参数覆盖配置文件
func (f *runFlags) apply(cfg *config.Config) {
	if f.maxIterations > 0 {
		cfg.Research.MaxIterations = f.maxIterations
	}
	if f.maxConcurrency > 0 {
		cfg.Research.MaxConcurrentWorkers = f.maxConcurrency
	}
	if f.skipScope {
		cfg.Research.SkipScope = true
	}
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runResearch(args []string, stdout io.Writer) error {
	flags, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting deepresearch",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		defer shutdown(logger, "telemetry", otelProviders.Shutdown)
	}

	opts := []deepresearch.Option{
		deepresearch.WithConfig(cfg),
		deepresearch.WithLogger(logger),
	}
	if otelProviders != nil {
		opts = append(opts, deepresearch.WithTracerProvider(otelProviders.TracerProvider()))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		opts = append(opts, deepresearch.WithMetrics(collector))
	}
	deps := &backends{}

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			DefaultTTL:   cfg.Redis.TTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			TLSEnabled:   cfg.Redis.TLSEnabled,
		}, logger)
		if err != nil {
			logger.Warn("search cache disabled", zap.Error(err))
		} else {
			defer func() { _ = redisCache.Close() }()
			deps.cache = redisCache
			opts = append(opts, deepresearch.WithSearchCache(redisCache, cfg.Redis.TTL))
		}
	}

	if cfg.Database.Enabled {
		store, closeStore, err := openReportStore(ctx, cfg.Database, collector, logger)
		if err != nil {
			logger.Warn("report archive disabled", zap.Error(err))
		} else {
			defer closeStore()
			deps.store = store
			opts = append(opts, deepresearch.WithReportSink(store))
		}
	}

	if cfg.Metrics.Enabled {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		metricsServer := server.NewManager(server.MetricsHandler(prometheus.DefaultGatherer, deps.health), srvCfg, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Warn("metrics server not started", zap.Error(err))
		} else {
			defer shutdown(logger, "metrics server", metricsServer.Shutdown)
		}
	}

	costs := observability.NewCostTracker(observability.NewCostCalculator())
	opts = append(opts, deepresearch.WithCostTracker(costs))

	pipeline, err := deepresearch.New(opts...)
	if err != nil {
		return err
	}

	var out *research.Outcome
	if flags.brief != "" {
		out, err = pipeline.RunBrief(ctx, flags.brief)
	} else {
		out, err = pipeline.Run(ctx, []types.Message{types.NewUserMessage(flags.query)})
	}
	if err != nil {
		return err
	}

	summary := costs.Summary()
	logger.Info("research finished",
		zap.String("run_id", out.RunID),
		zap.Bool("clarification", out.NeedsClarification()),
		zap.Float64("cost_usd", summary.TotalCost),
		zap.Int("llm_requests", summary.RequestCount))
	deps.logStats(logger)

	return writeOutcome(out, flags.output, stdout)
}

// writeOutcome 输出追问或报告
func writeOutcome(out *research.Outcome, path string, stdout io.Writer) error {
	if out.NeedsClarification() {
		_, err := fmt.Fprintf(stdout, "Clarification needed:\n%s\n", out.Clarification.Question)
		return err
	}
	if path != "" {
		if err := os.WriteFile(path, []byte(out.Report), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		_, err := fmt.Fprintf(stdout, "Report written to %s (run %s)\n", path, out.RunID)
		return err
	}
	_, err := fmt.Fprintln(stdout, out.Report)
	return err
}

func openReportStore(ctx context.Context, cfg config.DatabaseConfig, collector *metrics.Collector, logger *zap.Logger) (*database.ReportStore, func(), error) {
	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	var observer database.QueryObserver
	if collector != nil {
		observer = collector
	}
	store := database.NewReportStore(pool, observer, logger)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = pool.Close()
			return nil, nil, fmt.Errorf("report store migration failed: %w", err)
		}
	}
	return store, func() { _ = pool.Close() }, nil
}

func shutdown(logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}

// =============================================================================
// 📚 reports 命令
// =============================================================================

func runReports(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reports", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 20, "Number of reports to list")
	id := fs.String("id", "", "Print a single report")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	store, closeStore, err := openReportStore(ctx, cfg.Database, nil, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if *id != "" {
		r, err := store.GetReport(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "# %s\n\nRun: %s\nTermination: %s\nIterations: %d\n\n%s\n",
			r.Brief, r.RunID, r.Termination, r.Iterations, r.Report)
		return nil
	}

	records, err := store.ListReports(ctx, *limit)
	if err != nil {
		return err
	}
	return printReports(stdout, records)
}

func printReports(w io.Writer, records []types.ReportRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTERMINATION\tITERATIONS\tBRIEF")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Termination, r.Iterations, truncate(r.Brief, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "deepresearch %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `deepresearch - multi-agent deep research

Usage:
  deepresearch <command> [options]

Commands:
  run       Research a question and print the report
  reports   List or show archived reports
  migrate   Report store migrations
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>          Path to configuration file (YAML)
  --query <text>           Research request (clarified and scoped first)
  --brief <text>           Research brief (skips scoping)
  --skip-scope             Treat --query as the brief
  --max-iterations <n>     Override research.max_iterations
  --max-concurrency <n>    Override research.max_concurrent_workers
  --output <file>          Write the report to a file

Options for 'reports':
  --config <path>   Path to configuration file (YAML)
  --limit <n>       Number of reports to list (default 20)
  --id <id>         Print a single report

Examples:
  deepresearch run --query "How did solar capacity grow in 2024?"
  deepresearch run --config deepresearch.yaml --brief "..." --max-iterations 4
  deepresearch reports --limit 5
  deepresearch migrate up --config deepresearch.yaml
  deepresearch version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给报告
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
