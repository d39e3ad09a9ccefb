package main

import "testing"

// TestCommandsRegistered verifies the command tree wiring.
func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"init":    false,
		"start":   false,
		"status":  false,
		"merge":   false,
		"cleanup": false,
		"select":  false,
		"upgrade": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestStartFlags(t *testing.T) {
	tests := []struct {
		name     string
		defValue string
	}{
		{"json", "false"},
		{"max-stories", "0"},
		{"attempts", "0"},
		{"agent-timeout", "30m0s"},
		{"agent", "claude"},
	}
	for _, tt := range tests {
		flag := startCmd.Flags().Lookup(tt.name)
		if flag == nil {
			t.Errorf("--%s flag not registered", tt.name)
			continue
		}
		if flag.DefValue != tt.defValue {
			t.Errorf("--%s default = %q, want %q", tt.name, flag.DefValue, tt.defValue)
		}
	}
}

func TestStatusFlags(t *testing.T) {
	for _, name := range []string{"watch", "json"} {
		if statusCmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not registered", name)
		}
	}
}

func TestConfigFlagDefault(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("--config flag not registered")
	}
	if flag.DefValue != "ralph.yml" {
		t.Errorf("--config default = %q, want ralph.yml", flag.DefValue)
	}
}
