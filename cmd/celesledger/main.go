package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "celesledger",
	Short: "Conversational personal consumption ledger",
	Long: `celesledger keeps a consumption ledger you talk to.

Messages are routed to one of three behaviors: storing a new expense,
answering a question over past records, or plain chat. Records live in a
local SQLite database alongside a semantic memory of everything stored.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the celesledger version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("celesledger version %s\n", version)
	},
}
