package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/triton/pkg/trace"
	"mercator-hq/triton/pkg/trace/storage"
)

var verifyFlags struct {
	dbPath   string
	expected string
	jsonOut  bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify <trace-id>",
	Short: "Verify a trace chain offline",
	Long: `Recompute the hash chain for a recorded trace and report the result.

When --expected is given, the recomputed chain hash is compared against it
and a mismatch exits non-zero. Without --expected the recomputed hash is
printed for out-of-band comparison.

Examples:
  # Print the chain hash for a trace
  triton verify <trace-id>

  # Compare against a previously published hash
  triton verify --expected <hash> <trace-id>`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyFlags.dbPath, "db", "instance/trace.db", "trace database path")
	verifyCmd.Flags().StringVar(&verifyFlags.expected, "expected", "", "expected chain hash")
	verifyCmd.Flags().BoolVar(&verifyFlags.jsonOut, "json", false, "print the report as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	traceID := args[0]

	if _, err := os.Stat(verifyFlags.dbPath); err != nil {
		return fmt.Errorf("trace database not found: %w", err)
	}

	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: verifyFlags.dbPath})
	if err != nil {
		return fmt.Errorf("failed to open trace database: %w", err)
	}
	ledger := trace.NewLedger(store, trace.DefaultLedgerConfig())
	defer ledger.Close()

	report, err := ledger.VerifyChain(cmd.Context(), traceID, verifyFlags.expected)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if verifyFlags.jsonOut {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Trace:      %s\n", report.TraceID)
		fmt.Printf("Steps:      %d\n", report.StepCount)
		fmt.Printf("Chain hash: %s\n", report.ChainHash)
		fmt.Printf("Reason:     %s\n", report.Reason)
	}

	if verifyFlags.expected != "" && !report.Verified {
		return fmt.Errorf("chain hash mismatch for trace %s", traceID)
	}
	if verifyFlags.expected != "" {
		fmt.Println("✓ Chain verified")
	}
	return nil
}
