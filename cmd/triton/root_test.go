package main

import "testing"

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "verify", "version"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("config")
	if f == nil {
		t.Fatal("missing --config flag")
	}
	if f.DefValue != "config/triton.yaml" {
		t.Errorf("config default = %q", f.DefValue)
	}
	if rootCmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("missing --verbose flag")
	}
}

func TestVerifyCommandFlags(t *testing.T) {
	if verifyCmd.Flags().Lookup("db") == nil {
		t.Error("missing --db flag")
	}
	if verifyCmd.Flags().Lookup("expected") == nil {
		t.Error("missing --expected flag")
	}
	if err := verifyCmd.Args(verifyCmd, []string{}); err == nil {
		t.Error("verify should require a trace id argument")
	}
}
