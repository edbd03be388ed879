// Package cost estimates the USD cost of a pipeline run from token usage.
package cost

import "github.com/sells-group/school-intel/pkg/anthropic"

// Rates holds per-provider pricing.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaRate             `yaml:"jina" mapstructure:"jina"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaRate holds Jina Reader pricing.
type JinaRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of model usage. Unknown models cost zero.
func (c *Calculator) Claude(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationInputTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheReadInputTokens) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Jina computes the cost for Jina Reader token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Jina.PerMTok
}

// Known reports whether the calculator has a rate for model.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Anthropic[model]
	return ok
}

// Override replaces the input/output price of models and the Jina rate.
// Cache multipliers of known models are kept; new models get the default
// multipliers. A non-positive jinaPerMTok keeps the current Jina rate.
func (r Rates) Override(models map[string]ModelRate, jinaPerMTok float64) Rates {
	out := Rates{Anthropic: make(map[string]ModelRate, len(r.Anthropic)+len(models)), Jina: r.Jina}
	for k, v := range r.Anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range models {
		base, ok := out.Anthropic[k]
		if !ok {
			base = ModelRate{CacheWriteMul: 1.25, CacheReadMul: 0.1}
		}
		base.Input, base.Output = v.Input, v.Output
		out.Anthropic[k] = base
	}
	if jinaPerMTok > 0 {
		out.Jina.PerMTok = jinaPerMTok
	}
	return out
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Jina: JinaRate{PerMTok: 0.02},
	}
}
