package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/pkg/models"
)

const defaultConfigPath = "quill.yaml"

// resolveConfigPath picks, in order: the flag, QUILL_CONFIG, quill.yaml.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("QUILL_CONFIG")); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig loads path. A missing default file yields the built-in
// configuration so the server runs without one.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

// =============================================================================
// Migration Command Handlers
// =============================================================================

// openMigrationDB opens the configured database without migrating it.
func openMigrationDB(ctx context.Context, cfg *config.Config) (*sql.DB, storage.Store, error) {
	storeCfg := cfg.StorageConfig()
	storeCfg.AutoMigrate = false
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	withDB, ok := store.(interface{ DB() *sql.DB })
	if !ok {
		_ = store.Close()
		return nil, nil, fmt.Errorf("driver %q has no migrations", storeCfg.Driver)
	}
	return withDB.DB(), store, nil
}

func runMigrateUp(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("running database migrations", "config", configPath, "driver", cfg.Database.Driver)

	db, store, err := openMigrationDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := storage.Migrate(cmd.Context(), db, cfg.StorageConfig().Driver)
	if err != nil {
		return err
	}
	slog.Info("migrations completed successfully", "version", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Warn("rolling back migration", "config", configPath, "driver", cfg.Database.Driver)

	db, store, err := openMigrationDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := storage.MigrateDown(cmd.Context(), db, cfg.StorageConfig().Driver)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version is now %d.\n", version)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, store, err := openMigrationDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	statuses, err := storage.MigrationStatus(cmd.Context(), db, cfg.StorageConfig().Driver)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tSOURCE")
	for _, s := range statuses {
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Source.Version, s.State, s.Source.Path)
	}
	return w.Flush()
}

// =============================================================================
// Models, Config and Token Handlers
// =============================================================================

func runModels(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tTOOLS")
	for _, m := range cfg.Catalog() {
		id := m.ID
		if id == cfg.LLM.DefaultModel {
			id += " (default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, m.Provider, m.APIIdentifier, strings.Join(m.Tools, ","))
	}
	return w.Flush()
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", issue)
			}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
	return nil
}

func runToken(cmd *cobra.Command, configPath, userID, email, name string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
	token, err := jwt.Generate(&models.User{ID: userID, Email: email, Name: name})
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
