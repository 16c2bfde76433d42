package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/postgres"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "contentctl",
	Short: "Operate the content pipeline",
	Long: `contentctl talks to the pipeline's queue, database and cache directly.

Examples:
  # Queue a sample item, bypassing the HTTP gateway
  contentctl send --title "Sample Title" --text "Sample Text" --author "John Doe"

  # Create an API key for a client
  contentctl keys create --name reporting --rate-limit 120

  # Issue a one-hour token
  contentctl token issue --subject alice --ttl 1h

  # Show the latest dead letters
  contentctl deadletters list --limit 20`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFiles(); err != nil {
			return err
		}
		slog.SetDefault(logger.New(cmd.ErrOrStderr(), logLevel, "text"))
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openDB connects to PostgreSQL and applies schema.
func openDB(cmd *cobra.Command, cfg *config.Config, schema ...string) (*postgres.Client, error) {
	if !cfg.Postgres.Enabled {
		return nil, fmt.Errorf("postgres is disabled in %s", configPath)
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(cmd.Context(), schema...); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
