// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
)

// clearWellKnownEnv 避免宿主机上的真实密钥影响断言
func clearWellKnownEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("TAVILY_API_KEY", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deepresearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Search.APIKey = "tvly-test"
	return cfg
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	clearWellKnownEnv(t)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	clearWellKnownEnv(t)
	path := writeConfig(t, `
research:
  max_iterations: 4
  max_concurrent_workers: 2
  worker_timeout: 90s
  mixed_action_policy: honor_both
  findings_token_budget: 60000
llm:
  base_url: https://ark.example.com/api/v3
  model: deepseek-v3-2-251201
search:
  max_results: 5
  topic: news
redis:
  enabled: true
  addr: cache:6379
database:
  enabled: true
  driver: postgres
  host: db
  port: 5432
log:
  level: debug
  output_paths: [stdout, /var/log/deepresearch.log]
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Research.MaxIterations)
	assert.Equal(t, 2, cfg.Research.MaxConcurrentWorkers)
	assert.Equal(t, 90*time.Second, cfg.Research.WorkerTimeout)
	assert.Equal(t, "honor_both", cfg.Research.MixedActionPolicy)
	assert.Equal(t, 60000, cfg.Research.FindingsTokenBudget)
	assert.Equal(t, "https://ark.example.com/api/v3", cfg.LLM.BaseURL)
	assert.Equal(t, "deepseek-v3-2-251201", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "news", cfg.Search.Topic)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"stdout", "/var/log/deepresearch.log"}, cfg.Log.OutputPaths)

	// 未出现在文件中的字段保留默认值
	assert.Equal(t, "deepseek-v3-1-terminus", cfg.LLM.WriterModel)
	assert.True(t, cfg.Search.IncludeRawContent)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	clearWellKnownEnv(t)
	t.Setenv("DEEPRESEARCH_RESEARCH_MAX_ITERATIONS", "9")
	t.Setenv("DEEPRESEARCH_RESEARCH_WORKER_TIMEOUT", "2m")
	t.Setenv("DEEPRESEARCH_RESEARCH_REPORT_FALLBACK_TO_NOTES", "true")
	t.Setenv("DEEPRESEARCH_SEARCH_RATE_LIMIT_RPS", "2.5")
	t.Setenv("DEEPRESEARCH_LOG_OUTPUT_PATHS", "stdout, stderr")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Research.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Research.WorkerTimeout)
	assert.True(t, cfg.Research.ReportFallbackToNotes)
	assert.InDelta(t, 2.5, cfg.Search.RateLimitRPS, 1e-9)
	assert.Equal(t, []string{"stdout", "stderr"}, cfg.Log.OutputPaths)
}

func TestLoader_Precedence(t *testing.T) {
	clearWellKnownEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-openai-env")
	t.Setenv("OPENAI_BASE_URL", "https://openai-env.example.com/v1")
	t.Setenv("TAVILY_API_KEY", "tvly-from-env")
	t.Setenv("DEEPRESEARCH_LLM_MODEL", "model-from-env")

	path := writeConfig(t, `
llm:
  base_url: https://yaml.example.com/v1
  model: model-from-yaml
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	// 通用变量只补充默认值
	assert.Equal(t, "sk-from-openai-env", cfg.LLM.APIKey)
	assert.Equal(t, "tvly-from-env", cfg.Search.APIKey)
	// YAML 覆盖通用变量
	assert.Equal(t, "https://yaml.example.com/v1", cfg.LLM.BaseURL)
	// 前缀变量覆盖 YAML
	assert.Equal(t, "model-from-env", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	clearWellKnownEnv(t)
	t.Setenv("DR_METRICS_ADDR", ":9999")
	t.Setenv("DEEPRESEARCH_METRICS_ADDR", ":1111")

	cfg, err := NewLoader().WithEnvPrefix("DR").Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	clearWellKnownEnv(t)
	t.Setenv("DEEPRESEARCH_RESEARCH_MAX_ITERATIONS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEEPRESEARCH_RESEARCH_MAX_ITERATIONS")
}

func TestLoader_WithValidator(t *testing.T) {
	clearWellKnownEnv(t)

	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))

	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("TAVILY_API_KEY", "tvly")
	cfg, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.NoError(t, err)
	assert.Equal(t, "sk", cfg.LLM.APIKey)
}

func TestLoader_NonExistentFile(t *testing.T) {
	clearWellKnownEnv(t)
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Research.MaxIterations)
}

func TestLoader_InvalidYAML(t *testing.T) {
	clearWellKnownEnv(t)
	path := writeConfig(t, "research: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestMustLoad(t *testing.T) {
	clearWellKnownEnv(t)
	assert.NotPanics(t, func() { MustLoad("") })

	path := writeConfig(t, "research: [unclosed")
	assert.Panics(t, func() { MustLoad(path) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero iterations", mutate: func(c *Config) { c.Research.MaxIterations = 0 }, wantErr: "max_iterations"},
		{name: "zero workers", mutate: func(c *Config) { c.Research.MaxConcurrentWorkers = 0 }, wantErr: "max_concurrent_workers"},
		{name: "negative timeout", mutate: func(c *Config) { c.Research.WorkerTimeout = -time.Second }, wantErr: "worker_timeout"},
		{name: "unknown policy", mutate: func(c *Config) { c.Research.MixedActionPolicy = "random" }, wantErr: "mixed_action_policy"},
		{name: "missing api key", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: "llm.api_key"},
		{name: "missing search key", mutate: func(c *Config) { c.Search.APIKey = "" }, wantErr: "search.api_key"},
		{name: "unknown search provider", mutate: func(c *Config) { c.Search.Provider = "bing" }, wantErr: "search.provider"},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Enabled = true; c.Database.Driver = "oracle" }, wantErr: "database.driver"},
		{name: "bad driver ignored when disabled", mutate: func(c *Config) { c.Database.Driver = "oracle" }},
		{name: "bad sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "reports", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=reports sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "reports"},
			want: "u:p@tcp(db:3306)/reports?parseTime=true&charset=utf8mb4",
		},
		{name: "sqlite", cfg: DatabaseConfig{Driver: "sqlite", Name: "file::memory:"}, want: "file::memory:"},
		{name: "unknown", cfg: DatabaseConfig{Driver: "oracle"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
