package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketing-service",
	Short: "Ticketing Service",
	Long: `Ticketing Service for primary sales, marketplace resales and payment settlement.

Functions:
- Create payment intents for primary and marketplace purchases
- Hold listed tickets while a resale payment is in flight
- Settle gateway notifications into inventory and ownership
- Resolve stale payments and surface records needing reconciliation`,
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}
