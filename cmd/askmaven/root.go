package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/askmaven/internal/config"
	"github.com/JakeFAU/askmaven/internal/remote"
	"github.com/JakeFAU/askmaven/internal/server"
	pgstore "github.com/JakeFAU/askmaven/internal/storage/postgres"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.LoadWithEnvFile(o.configPath, o.envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRootCmd creates the root command. Running it without a subcommand serves.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "askmaven",
		Short: "Dashboard backend for the remote scraping and question answering worker",
		Long: `askmaven submits sitemap scrape jobs to the remote worker, keeps a local
mirror of their progress, and forwards questions to the worker's chat
endpoint. It exposes a JSON API for the dashboard's presentation layer.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML/JSON/TOML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(newServeCmd(opts), newMigrateCmd(opts), newProbeCmd(opts))
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background reconciliation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run application: %w", err)
	}
	return nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to migrate")
			}
			pool, err := pgstore.Open(cmd.Context(), pgstore.Config{
				DSN:             cfg.DB.DSN,
				MaxConns:        cfg.DB.MaxConns,
				MinConns:        cfg.DB.MinConns,
				MaxConnLifetime: cfg.DB.MaxConnLifetime,
			})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the remote worker reports itself healthy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rc, err := remote.New(remote.Config{
				BaseURL:       cfg.Remote.BaseURL,
				HealthTimeout: cfg.Remote.HealthTimeout,
				UserAgent:     cfg.Remote.UserAgent,
			})
			if err != nil {
				return fmt.Errorf("remote client: %w", err)
			}
			if !rc.HealthCheck(cmd.Context()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: unhealthy\n", cfg.Remote.BaseURL)
				return errors.New("remote worker unhealthy")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: healthy\n", cfg.Remote.BaseURL)
			return nil
		},
	}
}
