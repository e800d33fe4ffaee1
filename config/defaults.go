// =============================================================================
// 📦 默认配置
// =============================================================================
// 模型与检索参数沿用线上默认：deepseek 系列模型、Tavily 3 条结果
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Research:  DefaultResearchConfig(),
		LLM:       DefaultLLMConfig(),
		Search:    DefaultSearchConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultResearchConfig 返回默认研究配置
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		MaxIterations:           6,
		MaxConcurrentWorkers:    3,
		WorkerTimeout:           10 * time.Minute,
		MixedActionPolicy:       "delegation_wins",
		ResearcherMaxIterations: 5,
		AllowClarification:      true,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:           "openai",
		BaseURL:            "https://api.openai.com/v1",
		ChatPath:           "/chat/completions",
		Model:              "deepseek-v3-1-terminus",
		WriterModel:        "deepseek-v3-1-terminus",
		WriterMaxTokens:    32000,
		SummarizationModel: "deepseek-v3-2-251201",
		Timeout:            5 * time.Minute,
		MaxRetries:         3,
	}
}

// DefaultSearchConfig 返回默认检索配置
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Provider:             "tavily",
		BaseURL:              "https://api.tavily.com",
		MaxResults:           3,
		Topic:                "general",
		IncludeRawContent:    true,
		Timeout:              time.Minute,
		MaxRetries:           3,
		SummarizeConcurrency: 3,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "deepresearch:",
		TTL:          24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "deepresearch.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "deepresearch",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr:      ":9091",
		Namespace: "deepresearch",
	}
}
