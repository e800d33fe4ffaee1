package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/internal/tlsutil"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/providers"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// TavilyConfig configures the Tavily search client.
type TavilyConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RateLimitRPS <= 0 disables client side throttling.
	RateLimitRPS float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	Burst        int     `json:"burst" yaml:"burst"`
}

// TavilyProvider implements WebSearchProvider against the Tavily search API.
type TavilyProvider struct {
	cfg     TavilyConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTavilyProvider creates a Tavily client.
func NewTavilyProvider(cfg TavilyConfig, logger *zap.Logger) *TavilyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTavilyBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	p := &TavilyProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "tavily")),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return p
}

// Name returns the provider name.
func (p *TavilyProvider) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string   `json:"query"`
	MaxResults        int      `json:"max_results,omitempty"`
	Topic             string   `json:"topic,omitempty"`
	IncludeRawContent bool     `json:"include_raw_content"`
	TimeRange         string   `json:"time_range,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		RawContent    *string `json:"raw_content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
	ResponseTime float64 `json:"response_time"`
}

// Search runs one Tavily query.
func (p *TavilyProvider) Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error) {
	if p.cfg.APIKey == "" {
		return nil, types.NewError(types.ErrSearchFailed, "tavily api key not configured").WithProvider(p.Name())
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        opts.MaxResults,
		Topic:             opts.Topic,
		IncludeRawContent: opts.IncludeRawContent,
		TimeRange:         opts.TimeRange,
		IncludeDomains:    opts.Domains,
		ExcludeDomains:    opts.ExcludeDomains,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	providers.BearerTokenHeaders(httpReq, p.cfg.APIKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.WrapError(err, types.ErrSearchFailed, "tavily request failed").
			WithProvider(p.Name()).
			WithRetryable(true)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Warn("tavily error response", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, types.NewError(types.ErrSearchFailed, fmt.Sprintf("tavily: %s", msg)).
			WithHTTPStatus(resp.StatusCode).
			WithProvider(p.Name()).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var body tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.WrapError(err, types.ErrSearchFailed, "decode tavily response").WithProvider(p.Name())
	}

	results := make([]WebSearchResult, 0, len(body.Results))
	for _, r := range body.Results {
		item := WebSearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		}
		if r.RawContent != nil {
			item.RawContent = *r.RawContent
		}
		results = append(results, item)
	}

	p.logger.Debug("tavily search done",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}
