package observability

import (
	"math"
	"testing"
)

func TestCostCalculator_Calculate(t *testing.T) {
	calc := NewCostCalculator()

	tests := []struct {
		name         string
		model        string
		tokensInput  int
		tokensOutput int
		wantMin      float64
		wantMax      float64
	}{
		{name: "supervisor model by prefix", model: "deepseek-v3-1-terminus", tokensInput: 1000, tokensOutput: 1000, wantMin: 0.0022, wantMax: 0.0023},
		{name: "summarization model by prefix", model: "deepseek-v3-2-251201", tokensInput: 1000, tokensOutput: 0, wantMin: 0.00027, wantMax: 0.00029},
		{name: "gpt-4o-mini prefers longest prefix", model: "gpt-4o-mini", tokensInput: 1000, tokensOutput: 0, wantMin: 0.00015, wantMax: 0.00015},
		{name: "unknown model", model: "unknown", tokensInput: 1000, tokensOutput: 500, wantMin: 0, wantMax: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := calc.Calculate(tt.model, tt.tokensInput, tt.tokensOutput)
			if cost < tt.wantMin-1e-12 || cost > tt.wantMax+1e-12 {
				t.Errorf("Calculate() = %v, want between %v and %v", cost, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestCostTracker_Track(t *testing.T) {
	tracker := NewCostTracker(nil)

	tracker.Track("gpt-4o", 1000, 500)
	tracker.Track("gpt-4o", 2000, 1000)

	summary := tracker.Summary()
	if summary.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", summary.RequestCount)
	}
	if summary.TokensInput != 3000 || summary.TokensOutput != 1500 || summary.TotalTokens != 4500 {
		t.Errorf("unexpected token totals: %+v", summary)
	}
	if summary.TotalCost <= 0 {
		t.Error("TotalCost should be > 0")
	}

	tracker.Reset()
	if tracker.Summary().RequestCount != 0 {
		t.Error("RequestCount after reset should be 0")
	}
}

func TestCostCalculator_SetPrice(t *testing.T) {
	calc := NewCostCalculator()
	calc.SetPrice("custom-model", 0.01, 0.02)

	cost := calc.Calculate("custom-model", 1000, 1000)
	if math.Abs(cost-0.03) > 1e-12 {
		t.Errorf("Calculate() = %v, want 0.03", cost)
	}
}
