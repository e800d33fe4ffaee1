package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/llm"
	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ToolFunc defines the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolMetadata describes tool metadata.
type ToolMetadata struct {
	Schema      llm.ToolSchema   // Tool JSON Schema
	RateLimit   *RateLimitConfig // Rate limit config (optional)
	Timeout     time.Duration    // Execution timeout (default 30s)
	Description string           // Detailed description
}

// RateLimitConfig defines rate limit configuration.
// Calls beyond the budget wait for a token instead of failing.
type RateLimitConfig struct {
	MaxCalls int           // Maximum calls
	Window   time.Duration // Time window
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || c.MaxCalls <= 0 || c.Window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(c.MaxCalls)/c.Window.Seconds()), c.MaxCalls)
}

// ToolResult represents tool execution result.
type ToolResult = types.ToolResult

// ToolRegistry defines tool registry interface.
type ToolRegistry interface {
	Register(name string, fn ToolFunc, metadata ToolMetadata) error
	Unregister(name string) error
	Get(name string) (ToolFunc, ToolMetadata, error)
	List() []llm.ToolSchema
	Has(name string) bool
}

// ToolExecutor defines tool executor interface.
type ToolExecutor interface {
	Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult
	ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult
}

// ====== 实现：DefaultRegistry ======

type DefaultRegistry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	limiters map[string]*rate.Limiter // 工具级别的速率限制器
	logger   *zap.Logger
}

// NewDefaultRegistry 创建默认的工具注册中心。
func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

func (r *DefaultRegistry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata
	if l := metadata.RateLimit.limiter(); l != nil {
		r.limiters[name] = l
	}

	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}

	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.limiters, name)

	r.logger.Debug("tool unregistered", zap.String("name", name))
	return nil
}

func (r *DefaultRegistry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, ToolMetadata{}, types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not found", name))
	}
	return fn, r.metadata[name], nil
}

// List returns the registered schemas sorted by name so requests are stable.
func (r *DefaultRegistry) List() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// waitRateLimit 等待工具的限流令牌
func (r *DefaultRegistry) waitRateLimit(ctx context.Context, name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// ====== 实现：DefaultExecutor ======

// DefaultExecutor runs tool calls with bounded concurrency.
// Results are returned in call order.
type DefaultExecutor struct {
	registry       ToolRegistry
	maxConcurrency int
	logger         *zap.Logger
}

// NewDefaultExecutor 创建默认的工具执行器。maxConcurrency <= 0 表示不限制。
func NewDefaultExecutor(registry ToolRegistry, maxConcurrency int, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{
		registry:       registry,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

func (e *DefaultExecutor) Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	limit := e.maxConcurrency
	if limit <= 0 || limit > len(calls) {
		limit = len(calls)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolResult{ToolCallID: c.ID, Name: c.Name, Error: ctx.Err().Error()}
				return
			}
			results[idx] = e.ExecuteOne(ctx, c)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult {
	start := time.Now()
	result := ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
	}
	fail := func(msg string) ToolResult {
		result.Error = msg
		result.Duration = time.Since(start)
		return result
	}

	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		e.logger.Warn("tool not found", zap.String("name", call.Name))
		return fail(fmt.Sprintf("tool not found: %s", call.Name))
	}

	if reg, ok := e.registry.(*DefaultRegistry); ok {
		if err := reg.waitRateLimit(ctx, call.Name); err != nil {
			e.logger.Warn("rate limit wait aborted", zap.String("name", call.Name), zap.Error(err))
			return fail(fmt.Sprintf("rate limit wait aborted: %s", err.Error()))
		}
	}

	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		e.logger.Warn("invalid tool arguments", zap.String("name", call.Name))
		return fail("invalid arguments: not valid JSON")
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	// 带缓冲的 channel，超时后 goroutine 也能退出
	type outcome struct {
		res json.RawMessage
		err error
	}
	doneChan := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				doneChan <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := fn(execCtx, call.Arguments)
		doneChan <- outcome{res, err}
	}()

	select {
	case done := <-doneChan:
		result.Duration = time.Since(start)
		if done.err != nil {
			result.Error = done.err.Error()
			e.logger.Warn("tool execution failed",
				zap.String("name", call.Name),
				zap.Error(done.err),
				zap.Duration("duration", result.Duration))
			return result
		}
		result.Result = done.res
		e.logger.Debug("tool executed",
			zap.String("name", call.Name),
			zap.Duration("duration", result.Duration))
	case <-execCtx.Done():
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("execution timeout after %s", meta.Timeout)
		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
		}
		e.logger.Warn("tool execution timeout",
			zap.String("name", call.Name),
			zap.Duration("timeout", meta.Timeout))
	}

	return result
}
