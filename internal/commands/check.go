package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vuorinet/spot-is-a-dog/internal/clock"
	"github.com/vuorinet/spot-is-a-dog/internal/fetch"
	"github.com/vuorinet/spot-is-a-dog/internal/registry"
	"github.com/vuorinet/spot-is-a-dog/internal/store"
	"github.com/vuorinet/spot-is-a-dog/pkg/logger"
	"github.com/vuorinet/spot-is-a-dog/pkg/models"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch and validate both days once, then exit",
	Long: `Run one fetch-and-validate cycle for today and tomorrow against
the configured price service. Useful for verifying connectivity and
data quality before deploying the agent.

Exits non-zero if today's data cannot be fetched; a missing tomorrow
is reported but tolerated, since it only exists after the afternoon
publication.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&sourceURL, "source", "s", "", "Price service base URL")
	checkCmd.Flags().StringVarP(&timezone, "timezone", "z", "", "Reference timezone")
	checkCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return err
	}

	clk := clock.System()
	ref, err := clock.NewReference(clk, cfg.Agent.Timezone)
	if err != nil {
		return err
	}
	st := store.New(clk, cfg.Agent.StaleAfter, log)
	reg := registry.New(clk, log)
	client := fetch.New(cfg.Agent.SourceURL, cfg.Agent.MarginCents, st, reg, nil, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, role := range models.Roles() {
		date := ref.DateFor(role)
		if err := client.FetchDay(ctx, role, date); err != nil {
			if role == models.RoleToday {
				return fmt.Errorf("today (%s) failed: %w", date, err)
			}
			fmt.Printf("tomorrow (%s): not available: %v\n", date, err)
			continue
		}
		snap := st.Get(role, date)
		fmt.Printf("%s (%s): %d rows, %s, range %.2f-%.2f c/kWh\n",
			role, date, len(snap.Rows), snap.Granularity,
			snap.PriceRange.Min, snap.PriceRange.Max)
	}
	return nil
}
