package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WebSearchToolName is the name the researcher model calls the search tool by.
const WebSearchToolName = "tavily_search"

// NoSearchResultsText is returned to the model when a search produced nothing usable.
const NoSearchResultsText = "No valid search results found. Please try different search queries or use a different search API."

// WebSearchProvider defines the interface for web search backends.
type WebSearchProvider interface {
	Search(ctx context.Context, query string, opts WebSearchOptions) ([]WebSearchResult, error)
	Name() string
}

// WebSearchOptions configures a web search request.
type WebSearchOptions struct {
	MaxResults        int      `json:"max_results"`
	Topic             string   `json:"topic,omitempty"` // general, news, finance
	IncludeRawContent bool     `json:"include_raw_content,omitempty"`
	TimeRange         string   `json:"time_range,omitempty"`
	Domains           []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

// DefaultWebSearchOptions returns the researcher defaults.
func DefaultWebSearchOptions() WebSearchOptions {
	return WebSearchOptions{
		MaxResults:        3,
		Topic:             "general",
		IncludeRawContent: true,
	}
}

// WebSearchResult represents a single search result.
type WebSearchResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Content     string  `json:"content"`
	RawContent  string  `json:"raw_content,omitempty"`
	PublishedAt string  `json:"published_date,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// SearchObserver receives one event per provider search, e.g. the prometheus collector.
type SearchObserver interface {
	RecordSearchRequest(provider, status string)
}

// ContentSummarizer condenses raw page content for the researcher.
type ContentSummarizer func(ctx context.Context, rawContent string) (string, error)

// WebSearchToolConfig configures the web search tool.
type WebSearchToolConfig struct {
	Provider    WebSearchProvider
	DefaultOpts WebSearchOptions
	Timeout     time.Duration
	RateLimit   *RateLimitConfig
	Retryer     retry.Retryer
	Observer    SearchObserver

	// Summarizer is applied to results carrying raw content.
	// Nil keeps the provider's short content snippet.
	Summarizer ContentSummarizer
	// SummarizeThreshold is the raw content length (runes) from which summarization kicks in.
	SummarizeThreshold int
	// SummarizeConcurrency bounds concurrent summarization calls per search.
	SummarizeConcurrency int
}

// DefaultWebSearchToolConfig returns sensible defaults.
func DefaultWebSearchToolConfig() WebSearchToolConfig {
	return WebSearchToolConfig{
		DefaultOpts:          DefaultWebSearchOptions(),
		Timeout:              2 * time.Minute,
		SummarizeConcurrency: 3,
		RateLimit: &RateLimitConfig{
			MaxCalls: 30,
			Window:   time.Minute,
		},
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

// NewWebSearchTool creates a ToolFunc for web searching.
// The tool result is a JSON string holding the formatted source blocks.
func NewWebSearchTool(config WebSearchToolConfig, logger *zap.Logger) (ToolFunc, ToolMetadata) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "web_search"))
	if config.DefaultOpts.MaxResults <= 0 {
		config.DefaultOpts.MaxResults = DefaultWebSearchOptions().MaxResults
	}
	if config.SummarizeConcurrency <= 0 {
		config.SummarizeConcurrency = 1
	}

	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params webSearchArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", WebSearchToolName, err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return nil, fmt.Errorf("query is required")
		}
		if config.Provider == nil {
			return nil, fmt.Errorf("web search provider not configured")
		}

		opts := config.DefaultOpts
		if params.MaxResults > 0 {
			opts.MaxResults = params.MaxResults
		}
		if params.Topic != "" {
			opts.Topic = params.Topic
		}

		start := time.Now()
		logger.Info("executing web search",
			zap.String("query", params.Query),
			zap.String("provider", config.Provider.Name()),
			zap.Int("max_results", opts.MaxResults))

		search := func() ([]WebSearchResult, error) {
			return config.Provider.Search(ctx, params.Query, opts)
		}
		var (
			results []WebSearchResult
			err     error
		)
		if config.Retryer != nil {
			results, err = retry.DoWithResult(ctx, config.Retryer, search)
		} else {
			results, err = search()
		}
		if config.Observer != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			config.Observer.RecordSearchRequest(config.Provider.Name(), status)
		}
		if err != nil {
			logger.Error("web search failed", zap.String("query", params.Query), zap.Error(err))
			return nil, types.WrapError(err, types.ErrSearchFailed, "web search failed")
		}

		unique := DeduplicateResults(results)
		sources, err := summarizeResults(ctx, config, unique, logger)
		if err != nil {
			return nil, err
		}

		logger.Info("web search completed",
			zap.String("query", params.Query),
			zap.Int("results", len(results)),
			zap.Int("unique", len(unique)),
			zap.Duration("duration", time.Since(start)))

		return json.Marshal(FormatSearchOutput(sources))
	}

	metadata := ToolMetadata{
		Schema: llm.ToolSchema{
			Name:        WebSearchToolName,
			Description: "Fetch results from a web search API with content summarization. Use a single, specific search query per call.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {
						"type": "string",
						"description": "A single search query to execute"
					}
				},
				"required": ["query"]
			}`),
		},
		Timeout:     config.Timeout,
		RateLimit:   config.RateLimit,
		Description: "Web search returning de-duplicated, summarized sources",
	}

	return fn, metadata
}

// SearchSource is one de-duplicated result ready for formatting.
type SearchSource struct {
	Title   string
	URL     string
	Content string
}

// DeduplicateResults keeps the first result per URL, preserving order.
func DeduplicateResults(results []WebSearchResult) []WebSearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]WebSearchResult, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}

func summarizeResults(ctx context.Context, config WebSearchToolConfig, results []WebSearchResult, logger *zap.Logger) ([]SearchSource, error) {
	sources := make([]SearchSource, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.SummarizeConcurrency)

	for i, r := range results {
		sources[i] = SearchSource{Title: r.Title, URL: r.URL, Content: r.Content}
		if r.RawContent == "" || config.Summarizer == nil {
			continue
		}
		if len([]rune(r.RawContent)) < config.SummarizeThreshold {
			sources[i].Content = r.RawContent
			continue
		}
		i, raw := i, r.RawContent
		g.Go(func() error {
			summary, err := config.Summarizer(gctx, raw)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("failed to summarize webpage", zap.String("url", results[i].URL), zap.Error(err))
				sources[i].Content = TruncateContent(raw, 1000)
				return nil
			}
			sources[i].Content = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sources, nil
}

// TruncateContent cuts s to limit runes and marks the cut with "...".
func TruncateContent(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// FormatSearchOutput renders sources as numbered blocks for the researcher transcript.
func FormatSearchOutput(sources []SearchSource) string {
	if len(sources) == 0 {
		return NoSearchResultsText
	}

	var b strings.Builder
	b.WriteString("Search results: \n\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "\n\n--- SOURCE %d: %s ---\n", i+1, s.Title)
		fmt.Fprintf(&b, "URL: %s\n\n", s.URL)
		fmt.Fprintf(&b, "SUMMARY:\n%s\n\n", s.Content)
		b.WriteString(strings.Repeat("-", 80))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatWebpageSummary renders a structured page summary the way the researcher reads it.
func FormatWebpageSummary(summary, keyExcerpts string) string {
	return fmt.Sprintf("<summary>\n%s\n</summary>\n\n<key_excerpts>\n%s\n</key_excerpts>", summary, keyExcerpts)
}
