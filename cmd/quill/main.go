// Package main provides the CLI entry point for Quill, the streaming chat
// backend that proxies conversation turns to hosted language models and runs
// the tools they request.
//
// # Basic Usage
//
// Start the server:
//
//	quill serve --config quill.yaml
//
// Manage database migrations:
//
//	quill migrate up
//	quill migrate status
//
// Issue a token for local use:
//
//	quill token --user alice
//
// # Environment Variables
//
//   - QUILL_CONFIG: Path to configuration file (default: quill.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: referenced from the
//     config file as ${ANTHROPIC_API_KEY} and so on
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill - streaming chat backend with tool orchestration",
		Long: `Quill serves chat turns over a single streamed HTTP response.

Each turn proxies the conversation to a hosted model, runs the tools it
requests (weather, documents, suggestions, web search) and persists the
result.

Supported LLM providers: Anthropic, OpenAI, Google Gemini, AWS Bedrock`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildModelsCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
