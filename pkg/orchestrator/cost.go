// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import "strings"

// perTokenCost is a model's price in USD per single input/output token.
type perTokenCost struct {
	input  float64
	output float64
}

// modelCosts approximates per-model pricing, keyed by a substring match
// against the model name. LOCAL-tier models only carry the power cost
// of running inference, so their rates sit far below any CLOUD model.
//
// Grounded on the original prototype's core/model_router.py MODEL_COSTS
// table ($/1K tokens, converted here to $/token).
var modelCosts = []struct {
	match string
	cost  perTokenCost
}{
	{"claude-3-opus", perTokenCost{0.015 / 1000, 0.075 / 1000}},
	{"claude-3-5-sonnet", perTokenCost{0.003 / 1000, 0.015 / 1000}},
	{"claude-3-sonnet", perTokenCost{0.003 / 1000, 0.015 / 1000}},
	{"claude-3-haiku", perTokenCost{0.00025 / 1000, 0.00125 / 1000}},
	{"claude", perTokenCost{0.003 / 1000, 0.015 / 1000}},
	{"gpt-4", perTokenCost{0.005 / 1000, 0.015 / 1000}},
	{"gemini", perTokenCost{0.00125 / 1000, 0.005 / 1000}},
}

// localCost approximates a LOCAL-tier (Ollama) model's cost as the
// electricity/compute it consumes, not a vendor's metered price.
var localCost = perTokenCost{0.0001 / 1000, 0.0002 / 1000}

// unknownCloudCost is applied when a CLOUD-tier model name matches none
// of modelCosts, mirroring the original prototype's fallback rate for
// unrecognized models.
var unknownCloudCost = perTokenCost{0.001 / 1000, 0.002 / 1000}

func costFor(model string, isCloud bool) perTokenCost {
	lower := strings.ToLower(model)
	for _, m := range modelCosts {
		if strings.Contains(lower, m.match) {
			return m.cost
		}
	}
	if isCloud {
		return unknownCloudCost
	}
	return localCost
}

// estimateCostUSD prices a single completion's token usage.
func estimateCostUSD(promptTokens, completionTokens int64, model string, isCloud bool) float64 {
	c := costFor(model, isCloud)
	return float64(promptTokens)*c.input + float64(completionTokens)*c.output
}
