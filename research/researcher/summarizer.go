package researcher

import (
	"context"
	"strings"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/retry"
	"github.com/yanfeng98/fork-gemini-deepresearch/llm/tools"
	"github.com/yanfeng98/fork-gemini-deepresearch/research/prompts"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
)

type webpageSummary struct {
	Summary     string `json:"summary"`
	KeyExcerpts string `json:"key_excerpts"`
}

// NewWebpageSummarizer 用摘要模型把网页原文压缩为 <summary> / <key_excerpts>。
// 返回的错误由 web search 工具处理，退化为截断的原文。
func NewWebpageSummarizer(provider llm.Provider, model string, retryer retry.Retryer) tools.ContentSummarizer {
	return func(ctx context.Context, rawContent string) (string, error) {
		req := &llm.ChatRequest{
			Model:          model,
			Messages:       []llm.Message{types.NewUserMessage(prompts.SummarizeWebpage(rawContent, prompts.FormatDate(time.Now())))},
			ResponseFormat: llm.JSONObjectFormat,
		}
		summarize := func() (webpageSummary, error) {
			resp, err := provider.Completion(ctx, req)
			if err != nil {
				return webpageSummary{}, err
			}
			var out webpageSummary
			if err := llm.DecodeJSONContent(resp, &out); err != nil {
				return webpageSummary{}, types.WrapError(err, types.ErrStructuredOutput, "invalid webpage summary")
			}
			return out, nil
		}

		var (
			s   webpageSummary
			err error
		)
		if retryer != nil {
			s, err = retry.DoWithResult(ctx, retryer, summarize)
		} else {
			s, err = summarize()
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s.Summary) == "" {
			return "", types.NewError(types.ErrStructuredOutput, "empty webpage summary")
		}
		return tools.FormatWebpageSummary(s.Summary, s.KeyExcerpts), nil
	}
}
