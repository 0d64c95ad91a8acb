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

// Package orchestrator implements the end-to-end per-request state
// machine: cache lookup, routing, worker/cloud generation, validation,
// critic loop, optional adversarial debate, HITL suspension, and
// checkpointing, composed over the other packages in this module.
//
// Grounded on the original prototype's agents/worker.py (execute's
// recall → generate → validate → critic → memorize pipeline) and
// engine/adversarial.py/engine/hitl.py for the optional-debate and
// suspend branches, adapted to a single serialized Run call per
// session rather than a long-lived async task graph.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/critic"
	"github.com/parallax-labs/conclave/pkg/debate"
	"github.com/parallax-labs/conclave/pkg/eventbus"
	"github.com/parallax-labs/conclave/pkg/hitl"
	"github.com/parallax-labs/conclave/pkg/inference"
	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/persona"
	"github.com/parallax-labs/conclave/pkg/ratelimit"
	"github.com/parallax-labs/conclave/pkg/router"
	"github.com/parallax-labs/conclave/pkg/semcache"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
	"github.com/parallax-labs/conclave/pkg/tool"
	"github.com/parallax-labs/conclave/pkg/utils"
	"github.com/parallax-labs/conclave/pkg/validator"
)

// Config bundles every tunable governing a Run call.
type Config struct {
	WorkerModel             string
	CloudModel              string
	CriticModel             string
	RouterModel             string
	MaxRetries              int
	MaxCriticRounds         int
	MaxToolSteps            int
	DebateMaxRounds         int
	DebateApprovalThreshold float64
	DebateAutoTriggerOnCloud bool
	DebateEscalateOnExhaustion bool
	CriticUnreachableIsPass bool
	HandoffRecentMessages   int
	MaxHandoffTokens        int
}

// cloudAcquireTimeout bounds how long Run waits for cloud rate-limiter
// capacity before giving up, per the rate limiter's own short-timeout
// acquire semantics.
func (c Config) cloudAcquireTimeout() time.Duration {
	return 2 * time.Second
}

// DefaultConfig mirrors the defaults used throughout the rest of this
// module's packages.
func DefaultConfig() Config {
	return Config{
		MaxRetries:              2,
		MaxCriticRounds:         2,
		MaxToolSteps:            inference.DefaultMaxToolSteps,
		DebateMaxRounds:         debate.DefaultMaxRounds,
		DebateApprovalThreshold: debate.DefaultApprovalThreshold,
		CriticUnreachableIsPass: true,
		HandoffRecentMessages:   defaultHandoffRecentMessages,
		MaxHandoffTokens:        defaultMaxHandoffTokens,
	}
}

// defaultHandoffRecentMessages bounds the handoff context to the last
// 3 conversation turns, per the condensed-summary shape this pipeline
// sends between agents instead of full history.
const defaultHandoffRecentMessages = 3

// defaultMaxHandoffTokens bounds how large a handoff context is allowed
// to grow before recent messages are trimmed further, estimated with
// utils.TokenCounter (cost accounting uses provider-reported usage
// instead).
const defaultMaxHandoffTokens = 2000

// Orchestrator wires every component into the single request pipeline.
// One Orchestrator instance typically serves many sessions; per-session
// exclusivity is enforced internally so concurrent Run calls for the
// same session never interleave, while different sessions run fully
// in parallel.
type Orchestrator struct {
	Cfg         Config
	Provider    llmprovider.Provider
	CloudProvider llmprovider.Provider
	Tools       *tool.Registry
	Cache       *semcache.Cache
	Checkpoints *checkpoint.Store
	Personas    *persona.Manager
	Events      *eventbus.Bus
	HITL        *hitl.Controller
	CloudLimiter *ratelimit.Limiter

	mu       sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New creates an Orchestrator. CloudProvider may equal Provider when a
// single backend serves both tiers.
func New(cfg Config, provider, cloudProvider llmprovider.Provider, tools *tool.Registry, cache *semcache.Cache, checkpoints *checkpoint.Store, personas *persona.Manager, events *eventbus.Bus, hitlCtl *hitl.Controller, cloudLimiter *ratelimit.Limiter) *Orchestrator {
	return &Orchestrator{
		Cfg:          cfg,
		Provider:     provider,
		CloudProvider: cloudProvider,
		Tools:        tools,
		Cache:        cache,
		Checkpoints:  checkpoints,
		Personas:     personas,
		Events:       events,
		HITL:         hitlCtl,
		CloudLimiter: cloudLimiter,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.sessionLocks[sessionID] = l
	}
	return l
}

// Outcome is the terminal result of a single Run call.
type Outcome struct {
	Response    string
	CacheHit    bool
	Destination router.Destination
	Escalated   bool
	Suspended   bool
	DebateReport string
}

func (o *Orchestrator) publish(typ sessionstate.EventType, source string, payload map[string]any) {
	if o.Events == nil {
		return
	}
	o.Events.Publish(sessionstate.Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// Run executes the full pipeline for one user message against state,
// mutating state in place and persisting checkpoints along the way.
// Callers must serialize calls per session — this method enforces that
// internally via a per-session mutex keyed on state.SessionID.
func (o *Orchestrator) Run(ctx context.Context, state *sessionstate.SessionState, userMessage string) (Outcome, error) {
	lock := o.lockFor(state.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state.AppendMessage(sessionstate.Message{Role: sessionstate.RoleUser, Content: userMessage})
	o.publish(sessionstate.EventUserMessage, "orchestrator", map[string]any{"session_id": state.SessionID})

	// CACHE_LOOKUP
	if o.Cache != nil {
		if cached, hit := o.Cache.Get(ctx, userMessage); hit {
			state.AppendMessage(sessionstate.Message{
				Role:     sessionstate.RoleAssistant,
				Content:  cached,
				Metadata: sessionstate.MessageMeta{CacheHit: true},
			})
			state.NextStep()
			return Outcome{Response: cached, CacheHit: true}, nil
		}
	}

	// ROUTE (sticky skip if current_agent already pins a tier)
	dest := router.Local
	if state.CurrentAgent != nil {
		dest = router.Destination(*state.CurrentAgent)
	} else if o.Provider != nil {
		r := &router.Router{Provider: o.Provider, Model: o.Cfg.RouterModel}
		decision := r.Route(ctx, userMessage)
		dest = decision.Destination
		state.SetCurrentAgent(string(dest))
	}

	var (
		response  string
		escalated bool
	)

	if dest == router.Cloud {
		resp, err := o.runCloud(ctx, state, userMessage)
		if err != nil {
			return Outcome{}, err
		}
		response = resp
	} else {
		resp, esc, err := o.runLocal(ctx, state, userMessage)
		if err != nil {
			return Outcome{}, err
		}
		escalated = esc
		if escalated {
			dest = router.Cloud
			resp, err = o.runCloud(ctx, state, userMessage)
			if err != nil {
				return Outcome{}, err
			}
		}
		response = resp
	}

	// OPTIONAL_DEBATE
	debateReport := ""
	if o.Cfg.DebateAutoTriggerOnCloud && dest == router.Cloud && o.Personas != nil {
		engine := &debate.Engine{
			Personas: o.Personas,
			Provider: o.debateProvider(),
			Model:    o.Cfg.CloudModel,
			Config:   debate.Config{EscalateOnExhaustion: o.Cfg.DebateEscalateOnExhaustion},
		}
		result := engine.Run(ctx, response, userMessage, o.Cfg.DebateMaxRounds, o.Cfg.DebateApprovalThreshold)
		debateReport = result.Report

		if result.Escalated {
			if o.HITL != nil {
				if err := o.HITL.Suspend(state, "debate moderator escalated to human review", map[string]any{
					"proposal": result.FinalProposal,
				}); err != nil {
					return Outcome{}, fmt.Errorf("orchestrator: failed to suspend for debate escalation: %w", err)
				}
			}
			return Outcome{
				Response:     result.FinalProposal,
				Destination:  dest,
				Escalated:    true,
				Suspended:    true,
				DebateReport: debateReport,
			}, nil
		}
		response = result.FinalProposal
	}

	state.AppendMessage(sessionstate.Message{Role: sessionstate.RoleAssistant, Content: response})
	state.NextStep()

	if o.Cache != nil {
		_ = o.Cache.Put(ctx, userMessage, response)
	}
	if o.Checkpoints != nil {
		if err := o.Checkpoints.Save(state, checkpoint.KindMilestone, checkpoint.PhasePostLLM, "RESPOND"); err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: failed to checkpoint milestone: %w", err)
		}
	}
	o.publish(sessionstate.EventAgentResponse, "orchestrator", map[string]any{"session_id": state.SessionID})

	return Outcome{Response: response, Destination: dest, Escalated: escalated, DebateReport: debateReport}, nil
}

// runLocal drives WORKER → VALIDATE → RETRY_GEN → CRITIC_LOOP →
// CRITIC_RETRY, returning (response, escalated, error). escalated is
// true when the local path exhausted its retry budget and the caller
// must fall through to the cloud tier.
func (o *Orchestrator) runLocal(ctx context.Context, state *sessionstate.SessionState, task string) (string, bool, error) {
	if o.Checkpoints != nil {
		_ = o.Checkpoints.Save(state, checkpoint.KindTransaction, checkpoint.PhasePreLLM, "before local generation")
	}

	messages := o.handoffMessages(state, task, o.Cfg.WorkerModel)
	response, escalated, err := o.generate(ctx, state, o.Provider, o.Cfg.WorkerModel, messages)
	if err != nil {
		return "", false, err
	}
	if escalated {
		state.Escalate()
		return response, true, nil
	}

	for attempt := 0; attempt <= o.Cfg.MaxRetries; attempt++ {
		blocks := validator.ExtractCodeBlocks(response)
		valid := true
		var errs []string
		for _, b := range blocks {
			if verr := validator.ValidateSyntax(b); verr != nil {
				valid = false
				errs = append(errs, verr.Error())
			}
		}

		if !valid {
			if attempt == o.Cfg.MaxRetries {
				state.Escalate()
				return response, true, nil
			}
			messages = append(messages,
				llmprovider.Message{Role: "assistant", Content: response},
				llmprovider.Message{Role: "user", Content: fmt.Sprintf("Validation failed: %v. Please fix and resend the complete answer.", errs)},
			)
			response, escalated, err = o.generate(ctx, state, o.Provider, o.Cfg.WorkerModel, messages)
			if err != nil {
				return "", false, err
			}
			if escalated {
				state.Escalate()
				return response, true, nil
			}
			continue
		}

		if len(blocks) == 0 {
			return response, false, nil
		}

		passed, finalResp, escalate, cerr := o.criticLoop(ctx, state, task, response)
		if cerr != nil {
			return "", false, cerr
		}
		if escalate {
			state.Escalate()
			return finalResp, true, nil
		}
		if passed {
			return finalResp, false, nil
		}
		response = finalResp
	}

	state.Escalate()
	return response, true, nil
}

// criticLoop runs up to MaxCriticRounds of critic review, returning
// the final response once the critic passes or the round budget is
// exhausted (escalate=true in the latter case).
func (o *Orchestrator) criticLoop(ctx context.Context, state *sessionstate.SessionState, task, response string) (passed bool, final string, escalate bool, err error) {
	maxRounds := o.Cfg.MaxCriticRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	current := response
	for round := 1; round <= maxRounds; round++ {
		v := critic.Critique(ctx, o.Provider, o.Cfg.CriticModel, task, current, 2, o.Cfg.CriticUnreachableIsPass)
		if v.Passed {
			return true, current, false, nil
		}
		if round == maxRounds {
			return false, current, true, nil
		}

		feedback := critic.FormatFeedback(round, v)
		revised, escalated, genErr := o.generate(ctx, state, o.Provider, o.Cfg.WorkerModel, []llmprovider.Message{
			{Role: "user", Content: task},
			{Role: "assistant", Content: current},
			{Role: "user", Content: feedback},
		})
		if genErr != nil {
			return false, current, false, genErr
		}
		if escalated {
			return false, current, true, nil
		}
		current = revised
	}
	return false, current, true, nil
}

// runCloud dispatches directly to the cloud tier, bypassing validation
// and critic review: an escalation response is trusted once it has
// passed through the (possibly rate-limited) cloud call.
func (o *Orchestrator) runCloud(ctx context.Context, state *sessionstate.SessionState, task string) (string, error) {
	if o.CloudLimiter != nil && !o.CloudLimiter.Acquire(o.Cfg.cloudAcquireTimeout()) {
		return "", fmt.Errorf("orchestrator: cloud rate limit exhausted")
	}
	if o.Checkpoints != nil {
		_ = o.Checkpoints.Save(state, checkpoint.KindTransaction, checkpoint.PhasePreLLM, "before cloud call")
	}
	// The cloud tier is the escalation target itself and has nothing
	// further to escalate to, so its own [ESCALATE] marker (if any) is
	// discarded rather than looped.
	messages := o.handoffMessages(state, task, o.Cfg.CloudModel)
	response, _, err := o.generate(ctx, state, o.debateProvider(), o.Cfg.CloudModel, messages)
	return response, err
}

func (o *Orchestrator) debateProvider() llmprovider.Provider {
	if o.CloudProvider != nil {
		return o.CloudProvider
	}
	return o.Provider
}

// handoffMessages builds the condensed context sent to the next agent:
// an internal summary plus entities and turn number folded into a
// system message, followed by the last HandoffRecentMessages turns and
// the new task. Trims the oldest recent messages first when the whole
// set would exceed MaxHandoffTokens, as counted by utils.TokenCounter.
func (o *Orchestrator) handoffMessages(state *sessionstate.SessionState, task, model string) []llmprovider.Message {
	recentN := o.Cfg.HandoffRecentMessages
	if recentN <= 0 {
		recentN = defaultHandoffRecentMessages
	}
	hc := state.Handoff(recentN)

	var sys strings.Builder
	if hc.InternalSummary != "" {
		fmt.Fprintf(&sys, "Summary so far: %s\n", hc.InternalSummary)
	}
	if len(hc.Entities) > 0 {
		fmt.Fprintf(&sys, "Known entities: %v\n", hc.Entities)
	}
	fmt.Fprintf(&sys, "Turn number: %d", hc.TurnNumber)

	messages := []llmprovider.Message{{Role: "system", Content: sys.String()}}
	for _, m := range hc.RecentMessages {
		messages = append(messages, llmprovider.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llmprovider.Message{Role: "user", Content: task})

	maxTokens := o.Cfg.MaxHandoffTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxHandoffTokens
	}
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return messages
	}
	for len(messages) > 2 && counter.CountMessages(toCountable(messages)) > maxTokens {
		// Drop the oldest recent-history message, keeping the leading
		// system summary and the trailing task message intact.
		messages = append(messages[:1], messages[2:]...)
	}
	return messages
}

func toCountable(messages []llmprovider.Message) []utils.Message {
	out := make([]utils.Message, len(messages))
	for i, m := range messages {
		out[i] = utils.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// generate runs a single inference.Run call and reports whether the
// model asked to escalate ([ESCALATE] in its text, checked before the
// caller does anything else with the response) — mirrored on the
// worker's own escalation check, which runs before validation.
func (o *Orchestrator) generate(ctx context.Context, state *sessionstate.SessionState, provider llmprovider.Provider, model string, messages []llmprovider.Message) (string, bool, error) {
	var tools []llmprovider.ToolDefinition
	if o.Tools != nil {
		for _, t := range o.Tools.All(ctx, tool.AllowAll()) {
			d := tool.ToDefinition(t)
			tools = append(tools, llmprovider.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		}
	}

	result, err := inference.Run(ctx, provider, o.Tools, llmprovider.Request{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	}, o.Cfg.MaxToolSteps)
	if err != nil {
		return "", false, fmt.Errorf("orchestrator: generation failed: %w", err)
	}

	if state != nil {
		isCloud := provider == o.CloudProvider
		for _, u := range result.Usage {
			if u == nil {
				continue
			}
			state.Metadata.PromptTokens += u.PromptTokens
			state.Metadata.CompletionTokens += u.CompletionTokens
			state.Metadata.EstimatedCostUSD += estimateCostUSD(u.PromptTokens, u.CompletionTokens, model, isCloud)
		}
	}

	return result.Content, result.Escalated, nil
}
