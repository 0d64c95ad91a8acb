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

// Package debate implements the adversarial Debate Engine: a
// three-role (devil's advocate / moderator / worker) thesis-antithesis-
// synthesis loop that pressure-tests a proposal before it ships,
// escalating to a human when the moderator judges the disagreement
// irreconcilable.
//
// Grounded on the original prototype's engine/adversarial.py
// (DebateLoop.run's round structure: attack → judge → revise,
// validity_score/approval_threshold comparison, ESCALATE short-
// circuit, force-approve on round exhaustion, guaranteed persona
// restoration via Python's try/finally — mirrored here with Go's
// defer — and _generate_report's human-readable trailer), wired to
// pkg/persona for the role-swapping and pkg/llmprovider for the model
// calls.
package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/persona"
)

// DefaultMaxRounds and DefaultApprovalThreshold mirror the prototype's
// call-site defaults.
const (
	DefaultMaxRounds         = 3
	DefaultApprovalThreshold = 7.0
)

// Round records one attack/judge/revise cycle.
type Round struct {
	Number        int
	Critique      string
	CritiqueJSON  map[string]any
	Judgment      string
	JudgmentJSON  map[string]any
	Revision      string
	ValidityScore float64
	Verdict       string
}

// Result is the final outcome of a debate.
type Result struct {
	FinalProposal string
	Approved      bool
	Escalated     bool
	TotalRounds   int
	Rounds        []Round
	Report        string
}

// Config tunes Engine.Run's behavior beyond round count and threshold.
type Config struct {
	// EscalateOnExhaustion, when true, treats a debate that reaches
	// max_rounds with neither an APPROVE nor an ESCALATE verdict as an
	// escalation to HITL rather than force-approving the last
	// revision. Off by default: the original round-exhaustion
	// behavior (ship the best attempt rather than stall) is preserved
	// unless a deployment opts into the stricter posture.
	EscalateOnExhaustion bool
}

// Engine runs adversarial debates over a persona.Manager, swapping
// between the devil, moderator and worker personas for each phase.
type Engine struct {
	Personas *persona.Manager
	Provider llmprovider.Provider
	Model    string
	Config   Config
}

// Run executes the debate loop over proposal, returning once the
// moderator approves, escalates, or max_rounds is exhausted. Exhaustion
// force-approves the last revision by default (an indefinitely stalled
// debate is worse than shipping the best attempt so far), or escalates
// to HITL instead when e.Config.EscalateOnExhaustion is set.
func (e *Engine) Run(ctx context.Context, proposal, task string, maxRounds int, approvalThreshold float64) Result {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if approvalThreshold <= 0 {
		approvalThreshold = DefaultApprovalThreshold
	}

	originalPersona := e.Personas.CurrentID()
	defer func() {
		if e.Personas.CurrentID() != originalPersona {
			_, _ = e.Personas.Switch(originalPersona, "debate loop completed, restoring original")
		}
	}()

	var rounds []Round
	current := proposal

	for n := 1; n <= maxRounds; n++ {
		round := Round{Number: n}

		critique := e.attack(ctx, current, task)
		round.Critique = critique
		round.CritiqueJSON = parseJSONSafe(critique)

		judgment := e.judge(ctx, current, critique, task)
		round.Judgment = judgment
		round.JudgmentJSON = parseJSONSafe(judgment)

		score := 10.0
		if v, ok := round.JudgmentJSON["validity_score"]; ok {
			if f, ok := toFloat(v); ok {
				score = f
			}
		}
		round.ValidityScore = score

		verdict := "REVISE"
		if v, ok := round.JudgmentJSON["verdict"].(string); ok {
			verdict = strings.ToUpper(v)
		}
		round.Verdict = verdict

		rounds = append(rounds, round)

		if verdict == "ESCALATE" {
			return Result{
				FinalProposal: current,
				Approved:      false,
				Escalated:     true,
				TotalRounds:   n,
				Rounds:        rounds,
				Report:        generateReport(rounds),
			}
		}

		if score < approvalThreshold || verdict == "APPROVE" {
			return Result{
				FinalProposal: current,
				Approved:      true,
				TotalRounds:   n,
				Rounds:        rounds,
				Report:        generateReport(rounds),
			}
		}

		if n < maxRounds {
			revision := e.revise(ctx, current, critique, judgment, task)
			rounds[len(rounds)-1].Revision = revision
			current = revision
		}
	}

	if e.Config.EscalateOnExhaustion {
		return Result{
			FinalProposal: current,
			Approved:      false,
			Escalated:     true,
			TotalRounds:   maxRounds,
			Rounds:        rounds,
			Report:        generateReport(rounds),
		}
	}

	return Result{
		FinalProposal: current,
		Approved:      true,
		TotalRounds:   maxRounds,
		Rounds:        rounds,
		Report:        generateReport(rounds),
	}
}

func (e *Engine) chat(ctx context.Context, roleSwitch, reason, userPrompt string, maxTokens int, fallback string) string {
	if _, err := e.Personas.Switch(roleSwitch, reason); err != nil {
		return fallback
	}
	transition := e.Personas.TransitionMessage()

	req := llmprovider.Request{
		Model: e.Model,
		Messages: []llmprovider.Message{
			{Role: "system", Content: e.Personas.SystemPrompt(nil)},
			{Role: "system", Content: transition},
			{Role: "user", Content: userPrompt},
		},
		Temperature: e.Personas.Temperature(),
		MaxTokens:   maxTokens,
	}
	resp, err := e.Provider.Chat(ctx, req)
	if err != nil || resp.Content == "" {
		return fallback
	}
	return resp.Content
}

func (e *Engine) attack(ctx context.Context, proposal, task string) string {
	prompt := fmt.Sprintf(
		"## Original request\n%s\n\n## Worker's proposal\n%s\n\nAnalyze the proposal and produce an attack-vector list.",
		task, proposal)
	fallback, _ := json.Marshal(map[string]any{
		"attack_vectors":      []any{},
		"overall_assessment":  "attack generation failed",
		"recommendation":      "CONDITIONAL_PASS",
	})
	return e.chat(ctx, "devil", "debate: attack phase", prompt, 2048, string(fallback))
}

func (e *Engine) judge(ctx context.Context, proposal, critique, task string) string {
	prompt := fmt.Sprintf(
		"## Original request\n%s\n\n## Worker's proposal\n%s\n\n## Critic's attack\n%s\n\nEvaluate the attack's validity and render a verdict.",
		task, proposal, critique)
	fallback, _ := json.Marshal(map[string]any{
		"validity_score": 0,
		"verdict":        "APPROVE",
		"reasoning":      "judgment failed",
	})
	return e.chat(ctx, "moderator", "debate: judgment phase", prompt, 1024, string(fallback))
}

func (e *Engine) revise(ctx context.Context, proposal, critique, judgment, task string) string {
	prompt := fmt.Sprintf(
		"## Original request\n%s\n\n## Your previous proposal\n%s\n\n## Critic's attack\n%s\n\n## Moderator's judgment\n%s\n\n"+
			"Revise the proposal to address the critique. Output only the revised result, no commentary.",
		task, proposal, critique, judgment)
	return e.chat(ctx, "worker", "debate: revision phase", prompt, 4096, proposal)
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

func parseJSONSafe(text string) map[string]any {
	candidate := text
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &data); err == nil {
		return data
	}
	return map[string]any{"raw_text": text}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// generateReport renders a human-readable trailer summarizing every
// round, for audit and for display alongside the final answer.
func generateReport(rounds []Round) string {
	var b strings.Builder
	b.WriteString("# Adversarial Verification Report\n")
	fmt.Fprintf(&b, "Total rounds: %d\n\n", len(rounds))

	for _, r := range rounds {
		fmt.Fprintf(&b, "## Round %d\n", r.Number)
		fmt.Fprintf(&b, "Validity score: %.1f/10\n", r.ValidityScore)
		fmt.Fprintf(&b, "Verdict: %s\n", r.Verdict)

		if attacks, ok := r.CritiqueJSON["attack_vectors"].([]any); ok && len(attacks) > 0 {
			fmt.Fprintf(&b, "Attack vectors: %d\n", len(attacks))
			for i, a := range attacks {
				if i >= 3 {
					break
				}
				if am, ok := a.(map[string]any); ok {
					fmt.Fprintf(&b, "  - [%v] %v\n", am["severity"], am["finding"])
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
