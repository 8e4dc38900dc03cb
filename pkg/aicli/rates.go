package aicli

// Rate is the cost-per-token for one model, split by direction since input
// and output tokens are typically priced differently by real AI CLIs.
type Rate struct {
	InputPerToken  float64
	OutputPerToken float64
}

// defaultRates is the built-in registry RateFor consults. pkg/config has no
// setting that overrides these prices.
var defaultRates = map[string]Rate{
	"opus":   {InputPerToken: 0.000015, OutputPerToken: 0.000075},
	"sonnet": {InputPerToken: 0.000003, OutputPerToken: 0.000015},
	"haiku":  {InputPerToken: 0.00000025, OutputPerToken: 0.00000125},
}

// RateFor returns the configured rate for modelID, or ok=false if unknown.
func RateFor(modelID string) (Rate, bool) {
	r, ok := defaultRates[modelID]
	return r, ok
}

// ComputeCost computes actualCost = tokens × modelRate per spec.md §4.6,
// applied per-direction since Rate carries distinct input/output prices.
func ComputeCost(usage Usage, rate Rate) float64 {
	return float64(usage.InputTokens)*rate.InputPerToken + float64(usage.OutputTokens)*rate.OutputPerToken
}
