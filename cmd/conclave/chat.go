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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/parallax-labs/conclave/pkg/checkpoint"
	"github.com/parallax-labs/conclave/pkg/config"
	"github.com/parallax-labs/conclave/pkg/embedder"
	"github.com/parallax-labs/conclave/pkg/eventbus"
	"github.com/parallax-labs/conclave/pkg/hitl"
	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/orchestrator"
	"github.com/parallax-labs/conclave/pkg/persona"
	"github.com/parallax-labs/conclave/pkg/ratelimit"
	"github.com/parallax-labs/conclave/pkg/semcache"
	"github.com/parallax-labs/conclave/pkg/session"
	"github.com/parallax-labs/conclave/pkg/sessionstate"
	"github.com/parallax-labs/conclave/pkg/tool"
	"github.com/parallax-labs/conclave/pkg/tool/filetool"
	"github.com/parallax-labs/conclave/pkg/utils"
)

// defaultCloudCallsPerMinute bounds how many CLOUD-tier requests this
// process issues per minute, independent of any per-provider limit the
// backend itself enforces.
const defaultCloudCallsPerMinute = 30

// ChatCmd starts an interactive session: the CLI surface this
// orchestrator exposes to a human operator.
type ChatCmd struct{}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cli.PersonaDir, 0755); err != nil {
		return fmt.Errorf("failed to create persona dir: %w", err)
	}

	stateDirs, err := utils.EnsureStateDirs(cli.StateDir)
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.Open(stateDirs.Checkpoints)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	sessions, err := session.NewFileStore(stateDirs.Sessions)
	if err != nil {
		return fmt.Errorf("failed to open session log store: %w", err)
	}

	metricsRegistry := prometheus.NewRegistry()
	events := eventbus.NewWithMetrics(metricsRegistry)
	defer events.Close()
	wireEventLog(events, sessions)

	cache, err := semcache.New(semcache.Config{
		Embedder:    embedder.NewOllamaEmbedder(cli.OllamaHost, "", 0),
		PersistPath: stateDirs.Cache,
	})
	if err != nil {
		return fmt.Errorf("failed to open semantic cache: %w", err)
	}

	personas := persona.NewManager(persona.DirLoader{Dir: cli.PersonaDir}, cfg.System.DefaultPersona)
	var stopWatch func()
	if cfg.System.PersonaWatch {
		stopWatch, err = personas.Watch(cli.PersonaDir)
		if err != nil {
			stopWatch = nil
		}
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	localProvider := llmprovider.NewOllamaProvider(cli.OllamaHost)
	var cloudProvider llmprovider.Provider = localProvider
	if cli.AnthropicKey != "" {
		cloudProvider = llmprovider.NewAnthropicProvider(cli.AnthropicKey, "")
	}

	tools := tool.NewRegistry()
	ftCfg := &filetool.Config{
		WorkingDirectory:  ".",
		AllowedReadPaths:  cfg.Security.AllowedReadPaths,
		AllowedWritePaths: cfg.Security.AllowedWritePaths,
	}
	tools.Register(filetool.NewReadFile(ftCfg))
	tools.Register(filetool.NewWriteFile(ftCfg))
	tools.Register(filetool.NewListDir(ftCfg))

	cloudLimiter := ratelimit.New(defaultCloudCallsPerMinute, time.Minute)
	hitlCtl := hitl.NewController(checkpoints).WithEventBus(events)

	orchCfg := buildOrchestratorConfig(cfg)

	var checkpointStoreForOrch *checkpoint.Store
	if cfg.System.CheckpointEnabled {
		checkpointStoreForOrch = checkpoints
	}

	orch := orchestrator.New(orchCfg, localProvider, cloudProvider, tools, cache,
		checkpointStoreForOrch, personas, events, hitlCtl, cloudLimiter)

	state, err := resumeOrCreate(checkpoints, cli.SessionName, cfg.System.DefaultPersona)
	if err != nil {
		return err
	}

	shell := &Shell{
		cfg:         cfg,
		orch:        orch,
		sessions:    sessions,
		checkpoints: checkpoints,
		hitl:        hitlCtl,
		personas:    personas,
		cache:       cache,
		state:       state,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	return shell.Run(context.Background())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildOrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.WorkerModel = cfg.Models.WorkerModel
	oc.CloudModel = cfg.Models.CloudModel
	oc.CriticModel = cfg.Models.CriticModel
	oc.RouterModel = cfg.Models.RouterModel
	if cfg.System.MaxCriticRounds > 0 {
		oc.MaxCriticRounds = cfg.System.MaxCriticRounds
	}
	if cfg.System.MaxToolSteps > 0 {
		oc.MaxToolSteps = cfg.System.MaxToolSteps
	}
	if cfg.System.DebateMaxRounds > 0 {
		oc.DebateMaxRounds = cfg.System.DebateMaxRounds
	}
	if cfg.System.DebateApprovalThreshold > 0 {
		oc.DebateApprovalThreshold = cfg.System.DebateApprovalThreshold
	}
	oc.DebateAutoTriggerOnCloud = cfg.System.DebateAutoTriggerOnCloud
	oc.DebateEscalateOnExhaustion = cfg.System.DebateEscalateOnExhaustion
	return oc
}

// resumeOrCreate loads the named session's latest checkpoint, or
// starts a fresh one carrying that name as its session id. An empty
// name starts a fresh session under a generated id.
func resumeOrCreate(store *checkpoint.Store, name, defaultPersona string) (*sessionstate.SessionState, error) {
	if name == "" {
		return sessionstate.New(defaultPersona), nil
	}
	cp, err := store.Load(name, nil)
	if err == nil {
		return cp.State, nil
	}
	if err != checkpoint.ErrNotFound {
		return nil, fmt.Errorf("failed to resume session %q: %w", name, err)
	}
	state := sessionstate.New(defaultPersona)
	state.SessionID = name
	return state, nil
}

// wireEventLog subscribes every closed event type to append into the
// durable per-session JSONL log, decoupling the orchestrator's
// publishers from the fact that anything is listening at all.
func wireEventLog(bus *eventbus.Bus, store *session.FileStore) {
	types := []sessionstate.EventType{
		sessionstate.EventUserMessage,
		sessionstate.EventAgentResponse,
		sessionstate.EventThinking,
		sessionstate.EventDecision,
		sessionstate.EventToolCall,
		sessionstate.EventToolResult,
		sessionstate.EventApprovalRequest,
		sessionstate.EventApprovalResponse,
		sessionstate.EventSystemNotification,
		sessionstate.EventError,
		sessionstate.EventMetric,
		sessionstate.EventSessionStart,
		sessionstate.EventSessionEnd,
	}
	for _, t := range types {
		bus.Subscribe(t, func(ev sessionstate.Event) {
			sessionID, _ := ev.Payload["session_id"].(string)
			if sessionID == "" {
				return
			}
			_ = store.AppendEvent(context.Background(), sessionID, ev)
		})
	}
}
