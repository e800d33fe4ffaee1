package observability

import (
	"strings"
	"sync"
)

// ModelPrice 模型价格，USD / 1K tokens
type ModelPrice struct {
	Model       string  `yaml:"model" json:"model"`
	PriceInput  float64 `yaml:"price_input" json:"price_input"`
	PriceOutput float64 `yaml:"price_output" json:"price_output"`
}

// CostCalculator 成本计算器。
// 模型经 OpenAI 兼容网关访问，价格只按模型名匹配，支持最长前缀。
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// NewCostCalculator 创建带默认价格表的成本计算器
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{prices: make(map[string]ModelPrice)}
	c.UpdatePrices([]ModelPrice{
		{Model: "deepseek-v3", PriceInput: 0.00027, PriceOutput: 0.0011},
		{Model: "deepseek-v3-1", PriceInput: 0.00056, PriceOutput: 0.00168},
		{Model: "deepseek-v3-2", PriceInput: 0.00028, PriceOutput: 0.00042},
		{Model: "deepseek-r1", PriceInput: 0.00055, PriceOutput: 0.00219},
		{Model: "gpt-4o", PriceInput: 0.0025, PriceOutput: 0.01},
		{Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Model: "gpt-4.1", PriceInput: 0.002, PriceOutput: 0.008},
	})
	return c
}

// SetPrice 设置模型价格
func (c *CostCalculator) SetPrice(model string, priceInput, priceOutput float64) {
	c.UpdatePrices([]ModelPrice{{Model: model, PriceInput: priceInput, PriceOutput: priceOutput}})
}

// UpdatePrices 批量更新价格（来自配置）
func (c *CostCalculator) UpdatePrices(prices []ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prices {
		c.prices[p.Model] = p
	}
}

// GetPrice 获取模型价格，精确匹配优先，其次最长前缀
func (c *CostCalculator) GetPrice(model string) (ModelPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.prices[model]; ok {
		return p, true
	}
	var (
		best    ModelPrice
		bestLen int
	)
	for prefix, p := range c.prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best, bestLen > 0
}

// Calculate 计算成本，未知模型为 0
func (c *CostCalculator) Calculate(model string, tokensInput, tokensOutput int) float64 {
	price, ok := c.GetPrice(model)
	if !ok {
		return 0
	}
	return float64(tokensInput)/1000*price.PriceInput + float64(tokensOutput)/1000*price.PriceOutput
}

// CostSummary 成本汇总
type CostSummary struct {
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int     `json:"total_tokens"`
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	RequestCount int     `json:"request_count"`
}

// CostTracker 累计一次研究运行的成本
type CostTracker struct {
	calculator *CostCalculator
	mu         sync.Mutex
	summary    CostSummary
}

// NewCostTracker 创建成本追踪器
func NewCostTracker(calculator *CostCalculator) *CostTracker {
	if calculator == nil {
		calculator = NewCostCalculator()
	}
	return &CostTracker{calculator: calculator}
}

// Track 追踪一次请求的成本
func (t *CostTracker) Track(model string, tokensInput, tokensOutput int) float64 {
	cost := t.calculator.Calculate(model, tokensInput, tokensOutput)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.TotalCost += cost
	t.summary.TokensInput += tokensInput
	t.summary.TokensOutput += tokensOutput
	t.summary.TotalTokens += tokensInput + tokensOutput
	t.summary.RequestCount++
	return cost
}

// Summary 获取成本汇总
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Reset 重置统计
func (t *CostTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = CostSummary{}
}
