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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/config"
	"github.com/parallax-labs/conclave/pkg/hitl"
	"github.com/parallax-labs/conclave/pkg/orchestrator"
	"github.com/parallax-labs/conclave/pkg/persona"
	"github.com/parallax-labs/conclave/pkg/router"
	"github.com/parallax-labs/conclave/pkg/semcache"
	"github.com/parallax-labs/conclave/pkg/session"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
)

// Shell drives the interactive REPL on top of an Orchestrator,
// dispatching slash commands and otherwise handing input straight to
// Orchestrator.Run.
type Shell struct {
	cfg         *config.Config
	orch        *orchestrator.Orchestrator
	sessions    *session.FileStore
	checkpoints *checkpoint.Store
	hitl        *hitl.Controller
	personas    *persona.Manager
	cache       *semcache.Cache
	state       *sessionstate.SessionState
	interactive bool

	forceDebateNext bool

	pendingChannel *hitl.CLIChannel
	resumeResult   chan hitlResumeResult
}

// hitlResumeResult carries the outcome of an AwaitApproval goroutine
// back to the shell's main loop.
type hitlResumeResult struct {
	state *sessionstate.SessionState
	err   error
}

func (s *Shell) Run(ctx context.Context) error {
	fmt.Printf("conclave — session %q (persona: %s)\n", s.state.SessionID, s.state.ActivePersona)
	fmt.Println("Type a message, or /exit to quit. /checkpoint, /approve and /reject manage pending work.")
	if !s.interactive {
		fmt.Println("(non-interactive stdin detected — pending approvals will be auto-rejected)")
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		s.drainResumeResult()
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil // EOF: clean shutdown
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done, err := s.dispatch(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else if done {
				return nil
			}
			continue
		}

		if err := s.handleMessage(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (s *Shell) handleMessage(ctx context.Context, message string) error {
	if s.forceDebateNext {
		prev := s.orch.Cfg.DebateAutoTriggerOnCloud
		s.orch.Cfg.DebateAutoTriggerOnCloud = true
		cloud := string(router.Cloud)
		s.state.CurrentAgent = &cloud
		defer func() {
			s.orch.Cfg.DebateAutoTriggerOnCloud = prev
			s.forceDebateNext = false
		}()
	}

	outcome, err := s.orch.Run(ctx, s.state, message)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	if outcome.CacheHit {
		fmt.Println(outcome.Response + " (cache)")
	} else {
		fmt.Println(outcome.Response)
	}
	if outcome.DebateReport != "" {
		fmt.Println("--- debate report ---")
		fmt.Println(outcome.DebateReport)
	}

	if outcome.Suspended {
		pending, ok := s.hitl.GetPending(s.state.SessionID)
		if ok {
			fmt.Printf("[suspended for human review: %s]\n", pending.Reason)
		}
		if !s.interactive {
			fmt.Println("(non-interactive session — auto-rejecting pending approval)")
			if _, err := s.hitl.Resume(s.state.SessionID, hitl.ActionReject, nil); err != nil {
				return fmt.Errorf("auto-reject failed: %w", err)
			}
			s.state.Status = sessionstate.StatusFailed
			s.state.HITL = nil
		} else {
			fmt.Println("Use /approve, /reject, or /approve <text> to resolve (waits up to the configured HITL timeout).")
			s.awaitApproval()
		}
	}
	return nil
}

// awaitApproval opens a CLIChannel for the current session's pending
// request and blocks on it in a background goroutine, so the shell's
// main loop stays free to accept /approve or /reject in the meantime.
// The result is picked up by drainResumeResult once the wait settles.
func (s *Shell) awaitApproval() {
	channel := hitl.NewCLIChannel()
	s.pendingChannel = channel
	resultCh := make(chan hitlResumeResult, 1)
	s.resumeResult = resultCh

	sessionID := s.state.SessionID
	timeout := s.cfg.HITLTimeout()
	go func() {
		state, err := s.hitl.AwaitApproval(sessionID, channel, timeout)
		resultCh <- hitlResumeResult{state: state, err: err}
	}()
}

// drainResumeResult non-blockingly checks whether a pending
// AwaitApproval has settled (by explicit /approve, /reject, or
// timeout) and applies the outcome if so.
func (s *Shell) drainResumeResult() {
	if s.resumeResult == nil {
		return
	}
	select {
	case res := <-s.resumeResult:
		s.applyResumeResult(res)
	default:
	}
}

// applyResumeResult installs the outcome of a settled approval wait
// and clears the pending-channel bookkeeping.
func (s *Shell) applyResumeResult(res hitlResumeResult) {
	s.pendingChannel = nil
	s.resumeResult = nil

	if res.err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", res.err)
		return
	}
	if res.state == nil {
		s.state.Status = sessionstate.StatusFailed
		s.state.HITL = nil
		fmt.Println("pending approval rejected (or timed out), session marked failed")
		return
	}
	s.state = res.state
	fmt.Println("approved, session resumed")
}

// dispatch handles a /-prefixed command. The returned bool is true
// when the shell should exit.
func (s *Shell) dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/exit", "/quit":
		return true, nil

	case "/clear":
		s.state.ConversationHistory = nil
		s.state.InternalSummary = ""
		fmt.Println("conversation history cleared")
		return false, nil

	case "/new":
		if arg == "" {
			return false, fmt.Errorf("usage: /new <name>")
		}
		s.state = sessionstate.New(s.cfg.System.DefaultPersona)
		s.state.SessionID = arg
		fmt.Printf("started session %q\n", arg)
		return false, nil

	case "/load":
		if arg == "" {
			return false, fmt.Errorf("usage: /load <name>")
		}
		cp, err := s.checkpoints.Load(arg, nil)
		if err != nil {
			return false, fmt.Errorf("failed to load session %q: %w", arg, err)
		}
		s.state = cp.State
		fmt.Printf("resumed session %q at step %d\n", s.state.SessionID, s.state.Step)
		return false, nil

	case "/list":
		ids, err := s.sessions.ListSessions(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			fmt.Println(" -", id)
		}
		return false, nil

	case "/current":
		fmt.Printf("session=%s step=%d status=%s persona=%s\n",
			s.state.SessionID, s.state.Step, s.state.Status, s.state.ActivePersona)
		return false, nil

	case "/stats":
		fmt.Printf("turns=%d retries=%d prompt_tokens=%d completion_tokens=%d estimated_cost_usd=%.6f cache_entries=%d\n",
			s.state.TurnNumber, s.state.RetryCount,
			s.state.Metadata.PromptTokens, s.state.Metadata.CompletionTokens,
			s.state.Metadata.EstimatedCostUSD, s.cache.Count())
		return false, nil

	case "/model":
		if arg == "" {
			fmt.Printf("worker=%s cloud=%s critic=%s router=%s\n",
				s.orch.Cfg.WorkerModel, s.orch.Cfg.CloudModel, s.orch.Cfg.CriticModel, s.orch.Cfg.RouterModel)
			return false, nil
		}
		s.orch.Cfg.WorkerModel = arg
		fmt.Printf("worker model set to %q\n", arg)
		return false, nil

	case "/persona":
		if arg == "" {
			fmt.Println(s.personas.CurrentID())
			return false, nil
		}
		p, err := s.personas.Switch(arg, "operator requested via /persona")
		if err != nil {
			return false, err
		}
		s.state.ActivePersona = p.ID
		fmt.Println(s.personas.TransitionMessage())
		return false, nil

	case "/checkpoint":
		label := arg
		if label == "" {
			label = "manual"
		}
		if err := s.checkpoints.Save(s.state, checkpoint.KindMilestone, checkpoint.PhasePostLLM, label); err != nil {
			return false, err
		}
		fmt.Printf("checkpoint %q saved at step %d\n", label, s.state.Step)
		return false, nil

	case "/rollback":
		var step int64
		if arg != "" {
			n, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return false, fmt.Errorf("usage: /rollback [step]")
			}
			step = n
		} else {
			latest, err := s.checkpoints.Load(s.state.SessionID, nil)
			if err != nil {
				return false, err
			}
			step = latest.Step
		}
		restored, err := s.checkpoints.Rollback(s.state.SessionID, step)
		if err != nil {
			return false, err
		}
		s.state = restored
		fmt.Printf("rolled back to step %d\n", s.state.Step)
		return false, nil

	case "/debate":
		s.forceDebateNext = true
		fmt.Println("next message will be escalated through cloud debate")
		return false, nil

	case "/approve":
		if s.pendingChannel == nil {
			return false, fmt.Errorf("no pending approval for this session")
		}
		s.pendingChannel.Respond(hitl.ActionApprove, arg)
		s.applyResumeResult(<-s.resumeResult)
		return false, nil

	case "/reject":
		if s.pendingChannel == nil {
			return false, fmt.Errorf("no pending approval for this session")
		}
		s.pendingChannel.Respond(hitl.ActionReject, arg)
		s.applyResumeResult(<-s.resumeResult)
		return false, nil

	default:
		fmt.Printf("unknown command: %s\n", cmd)
		return false, nil
	}
}
