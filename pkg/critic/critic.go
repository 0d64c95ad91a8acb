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

// Package critic implements the Critic Loop: an adversarial reviewer
// persona judges a worker's response PASS or REJECT from a standpoint
// deliberately independent of the author's own confidence, looping
// with suggestion-driven regeneration up to a bounded number of rounds.
//
// Grounded on the original prototype's agents/critic.py (JSON-first
// verdict parsing with a [PASS]/[REJECT] marker fallback, "ambiguous
// defaults to REJECT", and "critic unreachable after retries defaults
// to PASS rather than blocking forever") and agents/worker.py's
// _critic_loop (bounded rounds, suggestion-based feedback fed back
// into regeneration).
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
)

const systemPrompt = `You are a demanding, detail-oriented senior code reviewer.
Evaluate the response below on its own merits, without regard to who wrote it.

Judge against:
1. Does it fully satisfy the request?
2. Are there logical gaps or bugs?
3. Were edge cases considered?
4. Is the code actually runnable?

When in doubt, REJECT. Passing something uncertain is worse than asking for a revision.

Respond with ONLY this JSON shape, no other text:
{"verdict": "PASS or REJECT", "reason": "one or two sentences", "suggestions": ["concrete suggestion", "..."]}
Suggestions must be empty on PASS, and must contain at least one entry on REJECT.`

// Verdict is the critic's judgment of a single response.
type Verdict struct {
	Passed      bool
	Reason      string
	Suggestions []string
	RawResponse string
}

type verdictJSON struct {
	Verdict     string   `json:"verdict"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions"`
}

// Critique asks provider to review response against task, with
// UnreachableIsPass controlling whether a provider that never
// responds is treated as an implicit PASS (the default, since an
// unreachable critic must never stall the pipeline) or surfaced as a
// hard failure.
func Critique(ctx context.Context, provider llmprovider.Provider, model, task, response string, maxRetries int, unreachableIsPass bool) Verdict {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	req := llmprovider.Request{
		Model: model,
		Messages: []llmprovider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"## Original request\n%s\n\n## Response under review\n%s\n\nJudge PASS or REJECT.",
				task, response)},
		},
		Temperature: 0.2,
		MaxTokens:   512,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return parseVerdict(resp.Content)
	}

	if unreachableIsPass {
		return Verdict{
			Passed: true,
			Reason: fmt.Sprintf("critic unavailable, defaulting to pass: %v", lastErr),
		}
	}
	return Verdict{
		Passed: false,
		Reason: fmt.Sprintf("critic unavailable: %v", lastErr),
	}
}

// parseVerdict parses a critic response, preferring strict JSON and
// falling back to [PASS]/[REJECT] markers, then finally treating an
// unparseable response as an ambiguous REJECT.
func parseVerdict(raw string) Verdict {
	var data verdictJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err == nil && data.Verdict != "" {
		passed := strings.EqualFold(data.Verdict, "PASS")
		suggestions := data.Suggestions
		if passed {
			suggestions = nil
		}
		return Verdict{
			Passed:      passed,
			Reason:      data.Reason,
			Suggestions: suggestions,
			RawResponse: raw,
		}
	}

	upper := strings.ToUpper(raw)
	hasPass := strings.Contains(upper, "[PASS]")
	hasReject := strings.Contains(upper, "[REJECT]")

	passed := hasPass && !hasReject
	reason := strings.TrimSpace(raw)
	var suggestions []string
	if !passed {
		suggestions = []string{reason}
	}
	return Verdict{Passed: passed, Reason: reason, Suggestions: suggestions, RawResponse: raw}
}

// FormatFeedback renders a rejected Verdict as the user-role message
// fed back to the worker for regeneration.
func FormatFeedback(round int, v Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Critic feedback (round %d):\nVerdict: REJECT\nReason: %s\n", round, v.Reason)
	if len(v.Suggestions) > 0 {
		b.WriteString("Suggested fixes:\n")
		for _, s := range v.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\nRevise the response to address this feedback.")
	return b.String()
}
