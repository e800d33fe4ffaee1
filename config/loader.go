// =============================================================================
// 📦 深度研究配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("deepresearch.yaml").
//	    WithEnvPrefix("DEEPRESEARCH").
//	    Load()
//
// 配置优先级: 默认值 → 通用环境变量 (OPENAI_API_KEY 等) → YAML 文件 → 前缀环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是深度研究服务的完整配置结构
type Config struct {
	// Research 协调器与研究员配置
	Research ResearchConfig `yaml:"research" env:"RESEARCH"`

	// LLM 推理引擎配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Search 检索配置
	Search SearchConfig `yaml:"search" env:"SEARCH"`

	// Redis 检索结果缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 报告归档
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标服务
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ResearchConfig 研究流程配置
type ResearchConfig struct {
	// 协调器最大迭代次数
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// 同时运行的最大研究员数
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers" env:"MAX_CONCURRENT_WORKERS"`
	// 单个研究员超时，0 表示不限
	WorkerTimeout time.Duration `yaml:"worker_timeout" env:"WORKER_TIMEOUT"`
	// 同一轮同时出现反思与委派时的处理: delegation_wins, honor_both
	MixedActionPolicy string `yaml:"mixed_action_policy" env:"MIXED_ACTION_POLICY"`
	// 研究员工具循环的最大轮数
	ResearcherMaxIterations int `yaml:"researcher_max_iterations" env:"RESEARCHER_MAX_ITERATIONS"`
	// 报告生成失败时退回原始笔记
	ReportFallbackToNotes bool `yaml:"report_fallback_to_notes" env:"REPORT_FALLBACK_TO_NOTES"`
	// 报告提示中研究笔记的 Token 上限，0 表示不限
	FindingsTokenBudget int `yaml:"findings_token_budget" env:"FINDINGS_TOKEN_BUDGET"`
	// 研究前允许向用户追问
	AllowClarification bool `yaml:"allow_clarification" env:"ALLOW_CLARIFICATION"`
	// 跳过澄清与简报，直接把输入当作研究简报
	SkipScope bool `yaml:"skip_scope" env:"SKIP_SCOPE"`
}

// LLMConfig 推理引擎配置（OpenAI 兼容协议）
type LLMConfig struct {
	// Provider 名称，仅用于日志与指标
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL，包含版本前缀，如 https://api.openai.com/v1
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Chat Completions 路径
	ChatPath string `yaml:"chat_path" env:"CHAT_PATH"`
	// 协调器与研究员使用的模型
	Model string `yaml:"model" env:"MODEL"`
	// 报告撰写模型
	WriterModel string `yaml:"writer_model" env:"WRITER_MODEL"`
	// 报告最大输出 Token
	WriterMaxTokens int `yaml:"writer_max_tokens" env:"WRITER_MAX_TOKENS"`
	// 网页摘要模型
	SummarizationModel string `yaml:"summarization_model" env:"SUMMARIZATION_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 研究员调用的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// SearchConfig 检索配置
type SearchConfig struct {
	// 目前仅支持 tavily
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	// 每次检索返回的结果数
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
	// general, news, finance
	Topic string `yaml:"topic" env:"TOPIC"`
	// 是否请求网页原文以便摘要
	IncludeRawContent bool          `yaml:"include_raw_content" env:"INCLUDE_RAW_CONTENT"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 客户端限流，0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	Burst        int     `yaml:"burst" env:"BURST"`
	// 可重试错误的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 同一次检索并发摘要的网页数
	SummarizeConcurrency int `yaml:"summarize_concurrency" env:"SUMMARIZE_CONCURRENCY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用检索缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 缓存过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否归档报告
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行 schema 迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用 /metrics 服务
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
	lookupEnv  func(string) (string, bool)
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DEEPRESEARCH",
		validators: make([]func(*Config) error, 0),
		lookupEnv:  os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 通用环境变量作为默认值的补充
	l.applyWellKnownEnv(cfg)

	// 3. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 4. 从前缀环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// applyWellKnownEnv 兼容 OpenAI SDK 与 Tavily SDK 的环境变量
func (l *Loader) applyWellKnownEnv(cfg *Config) {
	if v, ok := l.lookupEnv("OPENAI_API_KEY"); ok && v != "" {
		cfg.LLM.APIKey = v
	}
	if v, ok := l.lookupEnv("OPENAI_BASE_URL"); ok && v != "" {
		cfg.LLM.BaseURL = v
	}
	if v, ok := l.lookupEnv("TAVILY_API_KEY"); ok && v != "" {
		cfg.Search.APIKey = v
	}
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，返回 INVALID_CONFIG 错误
func (c *Config) Validate() error {
	var errs []string

	if c.Research.MaxIterations <= 0 {
		errs = append(errs, "research.max_iterations must be positive")
	}
	if c.Research.MaxConcurrentWorkers <= 0 {
		errs = append(errs, "research.max_concurrent_workers must be positive")
	}
	if c.Research.WorkerTimeout < 0 {
		errs = append(errs, "research.worker_timeout must not be negative")
	}
	switch c.Research.MixedActionPolicy {
	case "", "delegation_wins", "honor_both":
	default:
		errs = append(errs, fmt.Sprintf("unknown research.mixed_action_policy %q", c.Research.MixedActionPolicy))
	}
	if c.Research.FindingsTokenBudget < 0 {
		errs = append(errs, "research.findings_token_budget must not be negative")
	}

	if c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}

	if c.Search.Provider != "tavily" {
		errs = append(errs, fmt.Sprintf("unsupported search.provider %q", c.Search.Provider))
	}
	if c.Search.APIKey == "" {
		errs = append(errs, "search.api_key is required (or set TAVILY_API_KEY)")
	}
	if c.Search.MaxResults <= 0 {
		errs = append(errs, "search.max_results must be positive")
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "config validation errors: "+strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
