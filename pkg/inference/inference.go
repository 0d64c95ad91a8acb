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

// Package inference runs the bounded tool-use (ReAct) loop a worker or
// cloud agent uses to turn a task into a final response, calling tools
// the model requests until it returns plain content or the step budget
// is exhausted.
//
// Grounded on the original prototype's agents/worker.py's
// _generate_response tool-use loop (MAX_TOOL_STEPS bound, tool lookup
// by name with a structured "tool not found" result rather than a
// thrown error, provider-call failure aborting the whole loop rather
// than retrying indefinitely) adapted to llmprovider.Provider and
// pkg/tool.Registry.
package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/tool"
)

// DefaultMaxToolSteps bounds the number of consecutive tool-call
// rounds before the loop gives up rather than looping forever.
const DefaultMaxToolSteps = 5

// EscalationMarker is the token a worker emits to signal it cannot
// complete the task and the session should escalate to the cloud tier
// or a human.
const EscalationMarker = "[ESCALATE]"

// Result is the outcome of a single Run call. StepLimitReached marks a
// graceful step-budget exhaustion: Content still carries whatever text
// the model last produced (possibly empty, if every round was a pure
// tool call), and callers should treat it like any other partial
// answer rather than an aborted run.
type Result struct {
	Content          string
	Escalated        bool
	ToolRounds       int
	StepLimitReached bool
	Usage            []*llmprovider.Usage
}

// Run executes the tool-use loop: it calls provider.Chat, dispatches
// any requested tool calls via tools, appends their results, and
// repeats until the model answers without requesting a tool or
// maxSteps is exhausted. It returns a Go error only for a failure mode
// the model itself could never recover from — a provider call failing
// outright. Running out of tool-call budget is not that: it terminates
// the loop with whatever text content the model last produced (via
// Result.StepLimitReached), so VALIDATE/CRITIC still get a partial
// answer to work with instead of the whole run aborting. An escalation
// request from the model is reported via Result.Escalated, not as an
// error either.
func Run(ctx context.Context, provider llmprovider.Provider, tools *tool.Registry, req llmprovider.Request, maxSteps int) (Result, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxToolSteps
	}

	messages := append([]llmprovider.Message(nil), req.Messages...)
	var usages []*llmprovider.Usage
	var lastContent string

	for step := 0; step < maxSteps; step++ {
		resp, err := provider.Chat(ctx, llmprovider.Request{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Tools:       req.Tools,
			ToolChoice:  req.ToolChoice,
		})
		if err != nil {
			return Result{}, fmt.Errorf("inference: provider call failed at step %d: %w", step, err)
		}
		if resp.Usage != nil {
			usages = append(usages, resp.Usage)
		}
		if resp.Content != "" {
			lastContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			return Result{
				Content:    resp.Content,
				Escalated:  containsEscalation(resp.Content),
				ToolRounds: step,
				Usage:      usages,
			}, nil
		}

		messages = append(messages, llmprovider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			result := tools.Dispatch(ctx, tool.Call{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
			content := result.Content
			if result.Error != "" {
				content = "error: " + result.Error
			}
			messages = append(messages, llmprovider.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	return Result{
		Content:          lastContent,
		Escalated:        containsEscalation(lastContent),
		ToolRounds:       maxSteps,
		StepLimitReached: true,
		Usage:            usages,
	}, nil
}

func containsEscalation(content string) bool {
	return strings.Contains(content, EscalationMarker)
}
