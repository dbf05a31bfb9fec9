package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onflow/quorumnet/integration/scenarios"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scenarios",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range scenarios.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
