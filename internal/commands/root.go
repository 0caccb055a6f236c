package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spot-is-a-dog",
	Short: "Finnish spot-price display scheduler",
	Long: `A client-side freshness scheduler for two rolling day-ahead
electricity price displays ("today" and "tomorrow").

The agent keeps both displays current across midnight rollovers, the
afternoon publication of the next day's prices, connection drops and
host suspends. It listens on the price service's push stream, falls
back to polling, and self-heals on a fixed cadence.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
