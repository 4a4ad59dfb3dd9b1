// Triton is a local-first request control plane for LLM tool use.
//
// It fronts chat and tool-execution requests with policy enforcement,
// human approvals for unsafe tools, sandboxed execution, tiered intent
// routing, and a tamper-evident trace ledger.
//
// Usage:
//
//	# Start the server with default configuration
//	triton run
//
//	# Start with a custom configuration file
//	triton run --config /path/to/triton.yaml
//
//	# Verify a trace chain offline
//	triton verify --db instance/trace.db <trace-id>
//
//	# Show version information
//	triton version
package main

func main() {
	Execute()
}
