package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Quill HTTP server",
		Long: `Start the Quill HTTP server.

The server will:
1. Load configuration from the specified file (or quill.yaml)
2. Open the store and apply pending migrations
3. Register the configured LLM providers
4. Serve the chat API, health checks and metrics

With --watch, edits to the config file update the log level and the chat
rate limit without a restart.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  quill serve

  # Start with custom config and debug logging
  quill serve --config /etc/quill/production.yaml --debug

  # Pick up log level and rate limit edits while running
  quill serve --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload log level and rate limit when the config file changes")
	return cmd
}

// =============================================================================
// Migration Commands
// =============================================================================

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage database migrations.

Migrations are embedded in the binary and exist for the sqlite and postgres
drivers. The memory driver needs none.`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrateUp(cmd, resolveConfigPath(configPath))
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrateDown(cmd, resolveConfigPath(configPath))
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrateStatus(cmd, resolveConfigPath(configPath))
			},
		},
	)
	return cmd
}

// =============================================================================
// Models, Config and Token Commands
// =============================================================================

func buildModelsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, resolveConfigPath(configPath))
			},
		},
	)
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed session token for local use",
		Example: `  # Issue a token and call the API with it
  TOKEN=$(quill token --user alice)
  curl -H "Authorization: Bearer $TOKEN" localhost:8080/api/history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, resolveConfigPath(configPath), userID, email, name)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User id carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried by the token")
	cmd.Flags().StringVar(&name, "name", "", "Display name carried by the token")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quill %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
