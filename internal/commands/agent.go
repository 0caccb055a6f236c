package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vuorinet/spot-is-a-dog/internal/app"
	"github.com/vuorinet/spot-is-a-dog/pkg/config"
	"github.com/vuorinet/spot-is-a-dog/pkg/logger"
)

// ExitCodeRestart asks the supervisor to restart the agent into a freshly
// deployed version.
const ExitCodeRestart = 3

var (
	sourceURL  string
	displayDir string
	timezone   string
	logLevel   string
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the display scheduler agent",
	Long: `Start the freshness scheduler.

This runs all scheduling machinery:
• Midnight rollover detector (reference-date change)
• Afternoon publication window poller (14:00-15:00)
• Periodic health check with self-healing refreshes
• Push channel with backoff reconnects and polling fallback
• Local status API for operators

On a deployed version change the agent exits with code 3 after the
update countdown; run it under a supervisor that restarts on that code.

Examples:
  spot-is-a-dog agent                                  # default settings
  spot-is-a-dog agent --source https://spot.example    # custom price service
  spot-is-a-dog agent --log-level debug                # debug logging`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVarP(&sourceURL, "source", "s", "", "Price service base URL")
	agentCmd.Flags().StringVarP(&displayDir, "display-dir", "d", "", "Display spool directory")
	agentCmd.Flags().StringVarP(&timezone, "timezone", "z", "", "Reference timezone")
	agentCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if sourceURL != "" {
		cfg.Agent.SourceURL = sourceURL
	}
	if displayDir != "" {
		cfg.Agent.DisplayDir = displayDir
	}
	if timezone != "" {
		cfg.Agent.Timezone = timezone
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return err
	}
	log.Info("Starting spot price display scheduler")

	application := app.New(cfg, log)

	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}
	if err := application.Start(); err != nil {
		log.WithError(err).Error("Failed to start application")
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	restart := false
	select {
	case sig := <-interrupt:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case <-application.RestartRequested():
		log.Info("Restart requested, shutting down for update")
		restart = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if err := application.Stop(); err != nil {
			log.WithError(err).Error("Application shutdown error")
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		log.Info("Application shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout, forcing exit")
		os.Exit(1)
	}

	if restart {
		os.Exit(ExitCodeRestart)
	}
	return nil
}
