package observer

import aster "github.com/corven/aster"

// CostCalculator computes USD cost from token counts using the core pricing
// table. Overrides can be layered on for private deployments.
type CostCalculator struct {
	overrides map[string]aster.ModelPricing
}

// NewCostCalculator creates a calculator with the default pricing.
func NewCostCalculator() *CostCalculator {
	return &CostCalculator{}
}

// Override sets custom pricing for a model.
func (c *CostCalculator) Override(model string, pricing aster.ModelPricing) {
	if c.overrides == nil {
		c.overrides = make(map[string]aster.ModelPricing)
	}
	c.overrides[model] = pricing
}

// CostFor prices one call's usage for the given model.
func (c *CostCalculator) CostFor(model string, usage aster.UsageInfo) float64 {
	p, ok := c.overrides[model]
	if !ok {
		p = aster.PricingFor(model)
	}
	const million = 1_000_000
	return float64(usage.InputTokens)*p.Input/million +
		float64(usage.OutputTokens)*p.Output/million +
		float64(usage.CacheCreationTokens)*p.CacheWrite/million +
		float64(usage.CacheReadTokens)*p.CacheRead/million
}
