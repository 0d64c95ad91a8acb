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

// Command conclave is the interactive CLI for the hybrid local/cloud
// agent orchestrator.
//
// Usage:
//
//	conclave chat --config conclave.yaml
//	conclave chat --session my-investigation
//	conclave version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/parallax-labs/conclave/pkg/config"
	"github.com/parallax-labs/conclave/pkg/logger"
	"github.com/parallax-labs/conclave/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Start an interactive session (default)."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config       string `short:"c" name:"config" help:"Path to the base configuration YAML file." type:"path"`
	PersonaDir   string `name:"persona-dir" help:"Directory of persona YAML documents." default:".conclave/personas" type:"path"`
	StateDir     string `name:"state-dir" help:"Directory for session logs, checkpoints, and the semantic cache." default:".conclave/state" type:"path"`
	SessionName  string `name:"session" help:"Resume an existing session by name instead of starting a new one."`
	AnthropicKey string `name:"anthropic-key" help:"Anthropic API key for the CLOUD tier." env:"ANTHROPIC_API_KEY"`
	OllamaHost   string `name:"ollama-host" help:"Ollama server address for the LOCAL tier and the embedder." default:"http://localhost:11434" env:"OLLAMA_HOST"`

	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `name:"log-file" help:"Log file path (empty = stderr)."`
	LogFormat string `name:"log-format" help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints the build identity and exits.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version.Get().String())
	return nil
}

func initLoggerFromCLI(level, file, format string) (func(), error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	out := os.Stderr
	var cleanup func()
	if file != "" {
		f, c, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", file, err)
		}
		out = f
		cleanup = c
	}

	logger.Init(lvl, out, format)
	return cleanup, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("conclave"),
		kong.Description("conclave — a hybrid local/cloud agent orchestrator"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Run(&cli); err != nil {
		slog.Error("fatal error", "error", err)
		fmt.Fprintf(os.Stderr, "conclave: %v\n", err)
		os.Exit(1)
	}
}
