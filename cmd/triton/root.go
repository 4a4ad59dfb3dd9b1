package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "triton",
	Short: "Triton - local-first request control plane for LLM tool use",
	Long: `Triton orchestrates chat and tool-execution requests through a policy
engine, an approval store, a sandboxed tool executor, and a tiered intent
router, recording every decision in a tamper-evident trace ledger.

It provides:
  - Policy-based allow/deny decisions for every tool call
  - Single-use, TTL-bound approvals for unsafe tools
  - Container-sandboxed execution with output capping
  - Rule, cache, and semantic intent routing with HITL escalation
  - A hash-chained trace ledger with offline verification`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/triton.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
