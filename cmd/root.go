// Package cmd defines the CLI commands for the outreach executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/app"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/config"
	"github.com/JakeFAU/outreach-pipeline/internal/logging"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
)

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appFactory builds the application. Tests replace it to inject a memory
// store or fake providers.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// session owns what PersistentPreRunE builds so Execute can release it even
// when a command fails and cobra skips the post-run hooks.
type session struct {
	app    *app.App
	logger *zap.Logger
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
	if s.logger != nil {
		_ = s.logger.Sync()
		s.logger = nil
	}
}

// newRootCmd creates the root command and returns a cleanup that closes
// the application services.
func newRootCmd(factory appFactory) (*cobra.Command, func()) {
	var (
		cfgFile   string
		credsFile string
		s         = &session{}
	)

	cmd := &cobra.Command{
		Use:   "outreach",
		Short: "Discovers local businesses, finds their contacts and emails them.",
		Long: `outreach runs a small business-outreach pipeline: discover businesses with
the Places API, find and verify a contact address for each, send a templated
email within the daily cap and cooldown, then report and alert on the results.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			cfg, err := config.Load(cfgFile, credsFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return &apperr.ConfigurationError{Field: "logging.level", Reason: err.Error()}
			}
			zap.ReplaceGlobals(logger)
			s.logger = logger
			metrics.Init()

			a, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = a

			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&credsFile, "credentials", "",
		"dotenv file with API keys (default $"+config.CredentialsEnv+")")

	cmd.AddCommand(
		newDiscoverCmd(),
		newEnrichCmd(),
		newSendCmd(),
		newReportCmd(),
		newStatsCmd(),
		newRunCmd(),
		newServeCmd(),
		newMigrateCmd(),
	)
	return cmd, s.close
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd(defaultFactory)
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case apperr.IsConfiguration(err):
		return ExitConfig
	default:
		return ExitFailure
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
