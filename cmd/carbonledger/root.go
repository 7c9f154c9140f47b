package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
)

var nodeID int64

var rootCmd = &cobra.Command{
	Use:   "carbonledger",
	Short: "Carbon-debt ledger with verified tree-planting offsets",
	Long: `carbonledger records per-user emissions into yearly carbon ledgers and
clears them with offset purchases that field agents verify and admins approve.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node-id", 1, "snowflake node id of this instance (0-1023)")
}

// newSnowflakeNode is the fx provider for id generation.
func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
