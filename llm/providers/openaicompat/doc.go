// Package openaicompat implements llm.Provider over the OpenAI Chat
// Completions protocol.
//
// The research pipeline talks to whatever endpoint OPENAI_BASE_URL points at,
// so one implementation covers OpenAI, DeepSeek, Volcengine Ark and local
// servers. Only what differs is configured:
//
//   - Provider name and default model
//   - Base URL
//   - Custom headers (if any)
//   - Request hooks for provider-specific fields
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.deepseek.com",
//	    DefaultModel: "deepseek-chat",
//	}, logger)
package openaicompat
