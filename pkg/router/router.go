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

// Package router decides whether a request is handled by the LOCAL
// worker tier or escalated straight to the CLOUD tier: a fast
// regex pre-filter first, falling back to an LLM classifier only when
// the request is ambiguous.
//
// Grounded on the original prototype's agents/router.py (Router:
// FAST_LOCAL_PATTERNS/FAST_CLOUD_PATTERNS checked in order before any
// model call, ROUTER_SYSTEM_PROMPT's JSON contract, _parse_routing_response's
// JSON-then-regex fallback, and the router-failure-defaults-to-LOCAL
// safety net since that is the cheaper tier).
package router

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
)

// Destination is the execution tier a request is routed to.
type Destination string

const (
	Local Destination = "LOCAL"
	Cloud Destination = "CLOUD"
)

// Decision is the outcome of a routing call.
type Decision struct {
	Destination Destination
	Reason      string
	Thinking    string
}

const systemPrompt = `You are a task router for a hybrid AI system.
Your job is to analyze user requests and decide the best execution path.

You MUST respond with a valid JSON object in this EXACT format:
{
  "thinking": "[Your reasoning about task complexity here]",
  "route": "LOCAL or CLOUD",
  "reason": "[One-line reason for the routing decision]"
}

Routing criteria:
- LOCAL: Code implementation, debugging, refactoring, simple Q&A, formatting, documentation, translation, standard programming tasks.
- CLOUD: High-level architecture design, complex multi-step reasoning, security audits, mathematical proofs, novel algorithm design, strategic planning that requires deep domain expertise.

When in doubt, prefer LOCAL to minimize cloud costs.
You MUST respond ONLY with the JSON object. No markdown, no extra text.`

// fastLocalPatterns and fastCloudPatterns are checked, in order, before
// any model call. LOCAL is checked first: a message matching both is
// routed LOCAL, since the pre-filter exists to save cloud spend, not
// to catch every CLOUD case.
var fastLocalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you)`),
	regexp.MustCompile(`^/`),
	regexp.MustCompile(`^\d+\s*[+\-*/]`),
	regexp.MustCompile(`(?i)(format|translate|docstring|lint|type hint)`),
	regexp.MustCompile(`(?i)(debug|fix|bug)`),
	regexp.MustCompile(`(?i)(code|function|class|module)`),
}

var fastCloudPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)architecture.*design`),
	regexp.MustCompile(`(?i)design.*architecture`),
	regexp.MustCompile(`(?i)system.*(design|architecture)`),
	regexp.MustCompile(`(?i)overall.*(design|architecture)`),
	regexp.MustCompile(`(?i)security.*audit`),
	regexp.MustCompile(`(?i)mathematical proof`),
}

// Router classifies a user message into a Destination.
type Router struct {
	Provider llmprovider.Provider
	Model    string
}

// Route returns the routing decision for message. A sticky CurrentAgent
// from a prior turn should be checked by the caller before invoking
// Route at all — Route itself always re-classifies from scratch.
func (r *Router) Route(ctx context.Context, message string) Decision {
	if d, ok := fastRoute(message); ok {
		return d
	}

	req := llmprovider.Request{
		Model: r.Model,
		Messages: []llmprovider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: 0.3,
		MaxTokens:   512,
	}
	resp, err := r.Provider.Chat(ctx, req)
	if err != nil {
		return Decision{Destination: Local, Reason: "router call failed, defaulting to LOCAL: " + err.Error()}
	}

	return parseDecision(resp.Content)
}

func fastRoute(message string) (Decision, bool) {
	for _, p := range fastLocalPatterns {
		if p.MatchString(message) {
			return Decision{Destination: Local, Reason: "rule-based fast routing (simple task)"}, true
		}
	}
	for _, p := range fastCloudPatterns {
		if p.MatchString(message) {
			return Decision{Destination: Cloud, Reason: "rule-based fast routing (complex task)"}, true
		}
	}
	return Decision{}, false
}

type routingJSON struct {
	Thinking string `json:"thinking"`
	Route    string `json:"route"`
	Reason   string `json:"reason"`
}

var (
	thinkTagPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	routePattern    = regexp.MustCompile(`(?i)ROUTE:\s*(LOCAL|CLOUD)`)
	reasonPattern   = regexp.MustCompile(`REASON:\s*(.+)`)
)

// parseDecision parses the LLM router's JSON response, falling back to
// a regex scan of <think>/ROUTE:/REASON: markers for a model that
// ignores the JSON contract, and finally to LOCAL when neither parse
// yields a usable destination.
func parseDecision(raw string) Decision {
	var data routingJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &data); err == nil {
		dest := Destination(strings.ToUpper(data.Route))
		if dest != Local && dest != Cloud {
			dest = Local
		}
		reason := data.Reason
		if reason == "" {
			reason = "no reason provided"
		}
		return Decision{Destination: dest, Reason: reason, Thinking: data.Thinking}
	}

	thinking := ""
	if m := thinkTagPattern.FindStringSubmatch(raw); m != nil {
		thinking = strings.TrimSpace(m[1])
	}

	dest := Local
	if m := routePattern.FindStringSubmatch(raw); m != nil {
		dest = Destination(strings.ToUpper(m[1]))
	}

	reason := "no reason provided"
	if m := reasonPattern.FindStringSubmatch(raw); m != nil {
		reason = strings.TrimSpace(strings.SplitN(m[1], "\n", 2)[0])
	}

	return Decision{Destination: dest, Reason: reason, Thinking: thinking}
}
